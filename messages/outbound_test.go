package messages

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var testLaneID = LaneID{0, 0, 0, 1}

func newTestOutboundLane() *OutboundLane {
	return NewOutboundLane(testLaneID, OutboundLaneConfig{MaxUnconfirmedMessages: 5})
}

func TestOutboundLaneEnqueue(t *testing.T) {
	lane := newTestOutboundLane()

	nonce, err := lane.Enqueue(MessageData{Payload: []byte("hello"), Fee: 10})
	require.NoError(t, err)
	require.Equal(t, MessageNonce(1), nonce)

	nonce, err = lane.Enqueue(MessageData{Payload: []byte("world"), Fee: 20})
	require.NoError(t, err)
	require.Equal(t, MessageNonce(2), nonce)

	msg := lane.Message(1)
	require.NotNil(t, msg)
	require.Equal(t, MessageKey{Lane: testLaneID, Nonce: 1}, msg.Key)
	require.Equal(t, []byte("hello"), msg.Data.Payload)
	require.Nil(t, lane.Message(3))

	data := lane.Data()
	require.Equal(t, MessageNonce(2), data.LatestGeneratedNonce)
	require.Equal(t, MessageNonce(2), data.QueuedMessages())
}

func TestOutboundLaneEnforcesQueueLimit(t *testing.T) {
	lane := newTestOutboundLane()

	for i := 0; i < 5; i++ {
		_, err := lane.Enqueue(MessageData{})
		require.NoError(t, err)
	}
	_, err := lane.Enqueue(MessageData{})
	require.ErrorIs(t, err, ErrTooManyQueuedMessages)

	require.NoError(t, lane.OnDeliveryConfirmed(2))
	nonce, err := lane.Enqueue(MessageData{})
	require.NoError(t, err)
	require.Equal(t, MessageNonce(6), nonce)
}

func TestOutboundLaneDeliveryConfirmation(t *testing.T) {
	lane := newTestOutboundLane()
	for i := 0; i < 3; i++ {
		_, err := lane.Enqueue(MessageData{})
		require.NoError(t, err)
	}

	require.NoError(t, lane.OnDeliveryConfirmed(2))
	require.Equal(t, MessageNonce(2), lane.Data().LatestReceivedNonce)

	// confirmations never regress
	require.Error(t, lane.OnDeliveryConfirmed(1))
	// and never run ahead of generated messages
	require.Error(t, lane.OnDeliveryConfirmed(4))

	// re-confirming the same nonce is a no-op
	require.NoError(t, lane.OnDeliveryConfirmed(2))
}

func TestOutboundLanePrune(t *testing.T) {
	lane := newTestOutboundLane()
	for i := 0; i < 5; i++ {
		_, err := lane.Enqueue(MessageData{})
		require.NoError(t, err)
	}
	require.NoError(t, lane.OnDeliveryConfirmed(3))

	// unconfirmed messages are never pruned
	require.Equal(t, 2, lane.Prune(2))
	require.Equal(t, 1, lane.Prune(10))

	data := lane.Data()
	require.Equal(t, MessageNonce(4), data.OldestUnprunedNonce)
	require.Nil(t, lane.Message(3))
	require.NotNil(t, lane.Message(4))
}

func TestOutboundLaneOperatingModes(t *testing.T) {
	lane := newTestOutboundLane()
	_, err := lane.Enqueue(MessageData{})
	require.NoError(t, err)

	lane.SetOperatingMode(ModeRejectingOutboundMessages)
	_, err = lane.Enqueue(MessageData{})
	require.ErrorIs(t, err, ErrRejectingOutboundMessages)
	// confirmations still flow
	require.NoError(t, lane.OnDeliveryConfirmed(1))

	lane.SetOperatingMode(ModeHalted)
	_, err = lane.Enqueue(MessageData{})
	require.ErrorIs(t, err, ErrLaneHalted)
	require.ErrorIs(t, lane.OnDeliveryConfirmed(1), ErrLaneHalted)

	lane.SetOperatingMode(ModeNormal)
	_, err = lane.Enqueue(MessageData{})
	require.NoError(t, err)
}
