package messages

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrRejectingOutboundMessages is returned when the lane is closed for
	// new outbound messages.
	ErrRejectingOutboundMessages = errors.New("the lane is rejecting outbound messages")
	// ErrTooManyQueuedMessages is returned when the lane already holds the
	// maximal number of unconfirmed messages.
	ErrTooManyQueuedMessages = errors.New("too many queued messages at the outbound lane")
)

// OutboundLaneConfig bounds the amount of state an outbound lane may
// accumulate before confirmations are required.
type OutboundLaneConfig struct {
	// MaxUnconfirmedMessages caps the number of sent but unconfirmed
	// messages.
	MaxUnconfirmedMessages MessageNonce
}

// OutboundLane is the sending side of a message lane.
type OutboundLane struct {
	lane     LaneID
	cfg      OutboundLaneConfig
	mode     OperatingMode
	data     OutboundLaneData
	messages map[MessageNonce]MessageData
}

func NewOutboundLane(lane LaneID, cfg OutboundLaneConfig) *OutboundLane {
	return &OutboundLane{
		lane:     lane,
		cfg:      cfg,
		data:     NewOutboundLaneData(),
		messages: map[MessageNonce]MessageData{},
	}
}

// Data returns a snapshot of the lane state.
func (l *OutboundLane) Data() OutboundLaneData {
	return l.data
}

// SetOperatingMode switches what the lane accepts.
func (l *OutboundLane) SetOperatingMode(mode OperatingMode) {
	l.mode = mode
}

// Enqueue stores a message for delivery and assigns it the next nonce.
func (l *OutboundLane) Enqueue(data MessageData) (MessageNonce, error) {
	switch l.mode {
	case ModeHalted:
		return 0, ErrLaneHalted
	case ModeRejectingOutboundMessages:
		return 0, ErrRejectingOutboundMessages
	}
	if l.data.QueuedMessages() >= l.cfg.MaxUnconfirmedMessages {
		return 0, ErrTooManyQueuedMessages
	}

	nonce := l.data.LatestGeneratedNonce + 1
	l.data.LatestGeneratedNonce = nonce
	l.messages[nonce] = data
	return nonce, nil
}

// Message returns the stored message with the given nonce, or nil when it
// has been pruned or never existed.
func (l *OutboundLane) Message(nonce MessageNonce) *Message {
	data, ok := l.messages[nonce]
	if !ok {
		return nil
	}
	return &Message{
		Key:  MessageKey{Lane: l.lane, Nonce: nonce},
		Data: data,
	}
}

// OnDeliveryConfirmed records that messages up to and including
// latestReceived have been delivered to the receiving chain.
func (l *OutboundLane) OnDeliveryConfirmed(latestReceived MessageNonce) error {
	if l.mode == ModeHalted {
		return ErrLaneHalted
	}
	if latestReceived < l.data.LatestReceivedNonce {
		return errors.Newf(
			"confirmation of nonce %d is behind latest received nonce %d",
			latestReceived, l.data.LatestReceivedNonce,
		)
	}
	if latestReceived > l.data.LatestGeneratedNonce {
		return errors.Newf(
			"confirmation of nonce %d is ahead of latest generated nonce %d",
			latestReceived, l.data.LatestGeneratedNonce,
		)
	}
	l.data.LatestReceivedNonce = latestReceived
	return nil
}

// Prune removes up to maxMessages confirmed messages from the lane storage
// and returns the number of messages removed. Unconfirmed messages are never
// pruned.
func (l *OutboundLane) Prune(maxMessages int) int {
	pruned := 0
	for pruned < maxMessages && l.data.OldestUnprunedNonce <= l.data.LatestReceivedNonce {
		delete(l.messages, l.data.OldestUnprunedNonce)
		l.data.OldestUnprunedNonce++
		pruned++
	}
	return pruned
}
