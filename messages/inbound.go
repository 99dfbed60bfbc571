package messages

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/cockroachdb/errors"
)

var (
	// ErrTooManyUnrewardedRelayers is returned when accepting a delivery
	// would exceed the unrewarded relayer entries limit.
	ErrTooManyUnrewardedRelayers = errors.New("too many unrewarded relayer entries at the inbound lane")
	// ErrTooManyUnconfirmedMessages is returned when accepting a delivery
	// would exceed the unconfirmed messages limit.
	ErrTooManyUnconfirmedMessages = errors.New("too many unconfirmed messages at the inbound lane")
	// ErrLaneHalted is returned for any state change attempted on a halted
	// lane.
	ErrLaneHalted = errors.New("the lane is halted")
)

// InboundLaneConfig bounds the amount of state an inbound lane may
// accumulate before confirmations are required.
type InboundLaneConfig struct {
	// MaxUnrewardedRelayerEntries caps the number of entries in the
	// unrewarded relayers vector.
	MaxUnrewardedRelayerEntries int
	// MaxUnconfirmedMessages caps the number of delivered but unconfirmed
	// messages.
	MaxUnconfirmedMessages MessageNonce
}

// InboundLane is the receiving side of a message lane.
type InboundLane[R comparable] struct {
	cfg  InboundLaneConfig
	mode OperatingMode
	data InboundLaneData[R]
}

func NewInboundLane[R comparable](cfg InboundLaneConfig) *InboundLane[R] {
	return &InboundLane[R]{cfg: cfg}
}

// Data returns a snapshot of the lane state.
func (l *InboundLane[R]) Data() InboundLaneData[R] {
	data := InboundLaneData[R]{
		Relayers:           make([]UnrewardedRelayer[R], len(l.data.Relayers)),
		LastConfirmedNonce: l.data.LastConfirmedNonce,
	}
	copy(data.Relayers, l.data.Relayers)
	return data
}

// SetOperatingMode switches what the lane accepts.
func (l *InboundLane[R]) SetOperatingMode(mode OperatingMode) {
	l.mode = mode
}

// OnMessagesDelivered accepts the delivery of messages [begin; end] by the
// given relayer. Deliveries must be contiguous: begin must directly follow
// the last delivered nonce. dispatchResults carries one entry per delivered
// message.
func (l *InboundLane[R]) OnMessagesDelivered(relayer R, begin, end MessageNonce, dispatchResults []bool) error {
	if l.mode == ModeHalted {
		return ErrLaneHalted
	}
	lastDelivered := l.data.LastDeliveredNonce()
	if begin != lastDelivered+1 {
		panic(fmt.Sprintf("delivery of [%d; %d] does not follow last delivered nonce %d", begin, end, lastDelivered))
	}
	if end < begin {
		panic(fmt.Sprintf("invalid delivery range [%d; %d]", begin, end))
	}
	count := end - begin + 1
	if MessageNonce(len(dispatchResults)) != count {
		panic(fmt.Sprintf("delivery of [%d; %d] carries %d dispatch results", begin, end, len(dispatchResults)))
	}

	sameRelayer := len(l.data.Relayers) > 0 && l.data.Relayers[len(l.data.Relayers)-1].Relayer == relayer
	if !sameRelayer && len(l.data.Relayers) >= l.cfg.MaxUnrewardedRelayerEntries {
		return ErrTooManyUnrewardedRelayers
	}
	unconfirmed, ok := TotalUnrewardedMessages(l.data.Relayers)
	if !ok || unconfirmed+count > l.cfg.MaxUnconfirmedMessages {
		return ErrTooManyUnconfirmedMessages
	}

	if sameRelayer {
		entry := &l.data.Relayers[len(l.data.Relayers)-1]
		for _, result := range dispatchResults {
			entry.Messages.NoteDispatchedMessage(result)
		}
		return nil
	}

	delivered := NewDeliveredMessages(begin, dispatchResults[0])
	for _, result := range dispatchResults[1:] {
		delivered.NoteDispatchedMessage(result)
	}
	l.data.Relayers = append(l.data.Relayers, UnrewardedRelayer[R]{Relayer: relayer, Messages: delivered})
	return nil
}

// OnDeliveryConfirmed records that the sending chain has confirmed delivery
// of all messages up to and including upTo. Relayer entries fully covered by
// the confirmation are removed; an entry straddling the boundary is
// truncated. Confirmations at or below the current boundary are no-ops.
func (l *InboundLane[R]) OnDeliveryConfirmed(upTo MessageNonce) error {
	if l.mode == ModeHalted {
		return ErrLaneHalted
	}
	if upTo <= l.data.LastConfirmedNonce {
		return nil
	}
	if upTo > l.data.LastDeliveredNonce() {
		return errors.Newf(
			"confirmation of nonce %d is ahead of last delivered nonce %d",
			upTo, l.data.LastDeliveredNonce(),
		)
	}

	relayers := l.data.Relayers
	for len(relayers) > 0 && relayers[0].Messages.End <= upTo {
		relayers = relayers[1:]
	}
	if len(relayers) > 0 && relayers[0].Messages.Begin <= upTo {
		relayers[0].Messages = truncateDeliveredMessages(relayers[0].Messages, upTo)
	}

	l.data.Relayers = relayers
	l.data.LastConfirmedNonce = upTo
	return nil
}

// truncateDeliveredMessages drops nonces at or below upTo from the range,
// shifting the dispatch result bits accordingly.
func truncateDeliveredMessages(d DeliveredMessages, upTo MessageNonce) DeliveredMessages {
	begin := upTo + 1
	results := bitset.New(uint(d.End - begin + 1))
	for nonce := begin; nonce <= d.End; nonce++ {
		results.SetTo(uint(nonce-begin), d.MessageDispatchResult(nonce))
	}
	return DeliveredMessages{Begin: begin, End: d.End, DispatchResults: results}
}
