package messages

import (
	"encoding/hex"
	"fmt"
	"math"

	"github.com/bits-and-blooms/bitset"
)

// LaneID identifies a message lane between two bridged chains.
type LaneID [4]byte

func (id LaneID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

// MessageNonce is a per-lane, monotonically increasing message identifier.
// Nonces start at 1; nonce 0 means "no message".
type MessageNonce uint64

// OperatingMode restricts what a lane accepts.
type OperatingMode int

const (
	// ModeNormal accepts everything.
	ModeNormal OperatingMode = iota
	// ModeRejectingOutboundMessages rejects new outbound messages while
	// still accepting delivery confirmations.
	ModeRejectingOutboundMessages
	// ModeHalted rejects everything.
	ModeHalted
)

func (m OperatingMode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeRejectingOutboundMessages:
		return "rejecting-outbound-messages"
	case ModeHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// MessageKey globally identifies a message.
type MessageKey struct {
	Lane  LaneID
	Nonce MessageNonce
}

// MessageData is the payload of a stored message together with the fee paid
// for its delivery.
type MessageData struct {
	Payload []byte
	Fee     uint64
}

// Message is a message stored in an outbound lane.
type Message struct {
	Key  MessageKey
	Data MessageData
}

// OutboundMessageDetails describes a single outbound message for the
// delivery race.
type OutboundMessageDetails struct {
	Nonce       MessageNonce
	DispatchFee uint64
	Size        uint32
}

// InboundMessageDetails describes a single inbound message for the
// confirmation race.
type InboundMessageDetails struct {
	DispatchWeight uint64
}

// DeliveredMessages is a dense range of delivered message nonces with a
// dispatch result bit for each. Bit i of DispatchResults corresponds to
// nonce Begin+i.
type DeliveredMessages struct {
	Begin           MessageNonce
	End             MessageNonce
	DispatchResults *bitset.BitSet
}

// NewDeliveredMessages starts a range with a single delivered message.
func NewDeliveredMessages(nonce MessageNonce, dispatchResult bool) DeliveredMessages {
	results := bitset.New(1)
	results.SetTo(0, dispatchResult)
	return DeliveredMessages{Begin: nonce, End: nonce, DispatchResults: results}
}

// TotalMessages returns the number of nonces in the range.
func (d DeliveredMessages) TotalMessages() MessageNonce {
	if d.End < d.Begin {
		return 0
	}
	return d.End - d.Begin + 1
}

// NoteDispatchedMessage appends the dispatch result of the next nonce to the
// range.
func (d *DeliveredMessages) NoteDispatchedMessage(dispatchResult bool) {
	d.End++
	d.DispatchResults.SetTo(uint(d.End-d.Begin), dispatchResult)
}

// ContainsMessage reports whether the nonce falls inside the range.
func (d DeliveredMessages) ContainsMessage(nonce MessageNonce) bool {
	return nonce >= d.Begin && nonce <= d.End
}

// MessageDispatchResult returns the dispatch result recorded for the nonce.
// The nonce must be inside the range.
func (d DeliveredMessages) MessageDispatchResult(nonce MessageNonce) bool {
	if !d.ContainsMessage(nonce) {
		panic(fmt.Sprintf("nonce %d is outside of dispatch results range [%d; %d]", nonce, d.Begin, d.End))
	}
	return d.DispatchResults.Test(uint(nonce - d.Begin))
}

// UnrewardedRelayer is a relayer that has delivered messages but has not yet
// been rewarded for them.
type UnrewardedRelayer[R comparable] struct {
	Relayer  R
	Messages DeliveredMessages
}

// InboundLaneData is the state of an inbound lane.
type InboundLaneData[R comparable] struct {
	// Relayers holds one entry per relayer with undelivered rewards, in
	// delivery order. Nonce ranges of adjacent entries are contiguous.
	Relayers []UnrewardedRelayer[R]

	// LastConfirmedNonce is the nonce of the latest message whose delivery
	// has been confirmed back to the sending chain. All entries in Relayers
	// cover nonces strictly above this.
	LastConfirmedNonce MessageNonce
}

// LastDeliveredNonce returns the nonce of the latest delivered message.
func (d InboundLaneData[R]) LastDeliveredNonce() MessageNonce {
	if len(d.Relayers) == 0 {
		return d.LastConfirmedNonce
	}
	return d.Relayers[len(d.Relayers)-1].Messages.End
}

// RelayersState summarizes the lane state for the confirmation race.
func (d InboundLaneData[R]) RelayersState() UnrewardedRelayersState {
	state := UnrewardedRelayersState{
		UnrewardedRelayerEntries: MessageNonce(len(d.Relayers)),
		LastDeliveredNonce:       d.LastDeliveredNonce(),
	}
	for _, entry := range d.Relayers {
		total := entry.Messages.TotalMessages()
		state.TotalMessages += total
		if state.MessagesInOldestEntry == 0 {
			state.MessagesInOldestEntry = total
		}
	}
	return state
}

// UnrewardedRelayersState is reported by the inbound lane and verified
// against delivery confirmation transactions.
type UnrewardedRelayersState struct {
	UnrewardedRelayerEntries MessageNonce
	MessagesInOldestEntry    MessageNonce
	TotalMessages            MessageNonce
	LastDeliveredNonce       MessageNonce
}

// OutboundLaneData is the state of an outbound lane.
type OutboundLaneData struct {
	// OldestUnprunedNonce is the nonce of the oldest message still stored in
	// the lane. It may point past LatestGeneratedNonce when everything has
	// been pruned.
	OldestUnprunedNonce MessageNonce
	// LatestReceivedNonce is the nonce of the latest message for which a
	// delivery confirmation has been received.
	LatestReceivedNonce MessageNonce
	// LatestGeneratedNonce is the nonce of the latest message sent through
	// the lane.
	LatestGeneratedNonce MessageNonce
}

// NewOutboundLaneData returns the state of an empty lane: the first message
// to be sent gets nonce 1.
func NewOutboundLaneData() OutboundLaneData {
	return OutboundLaneData{OldestUnprunedNonce: 1}
}

// QueuedMessages returns the number of messages awaiting delivery
// confirmation.
func (d OutboundLaneData) QueuedMessages() MessageNonce {
	return d.LatestGeneratedNonce - d.LatestReceivedNonce
}

// TotalUnrewardedMessages returns the total number of delivered but
// unrewarded messages across all relayer entries. The second return value is
// false when the count does not fit a nonce, which can only happen with a
// malformed lane state.
func TotalUnrewardedMessages[R comparable](relayers []UnrewardedRelayer[R]) (MessageNonce, bool) {
	if len(relayers) == 0 {
		return 0, true
	}
	front := relayers[0].Messages.Begin
	back := relayers[len(relayers)-1].Messages.End
	if back-front == math.MaxUint64 {
		return 0, false
	}
	return back - front + 1, true
}

const messageNonceEncodedSize = 8

// EncodedSizeHint estimates the encoded size of an inbound lane data with
// the given number of relayer entries and messages. The estimation assumes
// efficient dispatch result packing (one bit per message) and fixed-width
// nonce encoding, so the hint errs on the side of overestimation for small
// lanes. The second return value is false on arithmetic overflow.
func EncodedSizeHint(relayerIDEncodedSize, relayersEntries, messagesCount int) (int, bool) {
	if relayerIDEncodedSize < 0 || relayersEntries < 0 || messagesCount < 0 {
		return 0, false
	}

	// a relayer entry is its id plus the two range boundary nonces
	relayerEntrySize := relayerIDEncodedSize + 2*messageNonceEncodedSize
	if relayerEntrySize < relayerIDEncodedSize {
		return 0, false
	}

	// every entry needs at least one dispatch result byte even when it holds
	// fewer than eight messages
	dispatchResultsSize := max(relayersEntries, messagesCount/8)

	entriesSize := relayersEntries * relayerEntrySize
	if relayersEntries != 0 && entriesSize/relayersEntries != relayerEntrySize {
		return 0, false
	}

	size := messageNonceEncodedSize + entriesSize
	if size < 0 {
		return 0, false
	}
	size += dispatchResultsSize
	if size < 0 {
		return 0, false
	}
	return size, true
}

// EncodedSizeHintU32 is EncodedSizeHint saturated to fit transaction size
// fields.
func EncodedSizeHintU32(relayerIDEncodedSize, relayersEntries, messagesCount int) uint32 {
	size, ok := EncodedSizeHint(relayerIDEncodedSize, relayersEntries, messagesCount)
	if !ok || int64(size) > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(size)
}
