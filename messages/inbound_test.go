package messages

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestInboundLane() *InboundLane[string] {
	return NewInboundLane[string](InboundLaneConfig{
		MaxUnrewardedRelayerEntries: 3,
		MaxUnconfirmedMessages:      10,
	})
}

func allDispatched(count int) []bool {
	results := make([]bool, count)
	for i := range results {
		results[i] = true
	}
	return results
}

func TestInboundLaneAcceptsContiguousDeliveries(t *testing.T) {
	lane := newTestInboundLane()

	require.NoError(t, lane.OnMessagesDelivered("alice", 1, 2, allDispatched(2)))
	require.NoError(t, lane.OnMessagesDelivered("bob", 3, 3, []bool{false}))

	data := lane.Data()
	require.Len(t, data.Relayers, 2)
	require.Equal(t, MessageNonce(3), data.LastDeliveredNonce())
	require.False(t, data.Relayers[1].Messages.MessageDispatchResult(3))
}

func TestInboundLaneExtendsLastEntryForSameRelayer(t *testing.T) {
	lane := newTestInboundLane()

	require.NoError(t, lane.OnMessagesDelivered("alice", 1, 2, allDispatched(2)))
	require.NoError(t, lane.OnMessagesDelivered("alice", 3, 4, allDispatched(2)))

	data := lane.Data()
	require.Len(t, data.Relayers, 1)
	require.Equal(t, MessageNonce(1), data.Relayers[0].Messages.Begin)
	require.Equal(t, MessageNonce(4), data.Relayers[0].Messages.End)
}

func TestInboundLaneRejectsNonContiguousDelivery(t *testing.T) {
	lane := newTestInboundLane()

	require.NoError(t, lane.OnMessagesDelivered("alice", 1, 2, allDispatched(2)))
	require.Panics(t, func() {
		_ = lane.OnMessagesDelivered("bob", 4, 4, allDispatched(1))
	})
	require.Panics(t, func() {
		_ = lane.OnMessagesDelivered("bob", 2, 2, allDispatched(1))
	})
	require.Panics(t, func() {
		_ = lane.OnMessagesDelivered("bob", 3, 3, allDispatched(2))
	})
}

func TestInboundLaneEnforcesRelayerEntriesLimit(t *testing.T) {
	lane := newTestInboundLane()

	require.NoError(t, lane.OnMessagesDelivered("alice", 1, 1, allDispatched(1)))
	require.NoError(t, lane.OnMessagesDelivered("bob", 2, 2, allDispatched(1)))
	require.NoError(t, lane.OnMessagesDelivered("carol", 3, 3, allDispatched(1)))

	err := lane.OnMessagesDelivered("dave", 4, 4, allDispatched(1))
	require.ErrorIs(t, err, ErrTooManyUnrewardedRelayers)

	// the last relayer can still extend its own entry
	require.NoError(t, lane.OnMessagesDelivered("carol", 4, 4, allDispatched(1)))
}

func TestInboundLaneEnforcesUnconfirmedMessagesLimit(t *testing.T) {
	lane := newTestInboundLane()

	require.NoError(t, lane.OnMessagesDelivered("alice", 1, 10, allDispatched(10)))
	err := lane.OnMessagesDelivered("alice", 11, 11, allDispatched(1))
	require.ErrorIs(t, err, ErrTooManyUnconfirmedMessages)

	// confirming frees capacity
	require.NoError(t, lane.OnDeliveryConfirmed(10))
	require.NoError(t, lane.OnMessagesDelivered("alice", 11, 11, allDispatched(1)))
}

func TestInboundLaneDeliveryConfirmation(t *testing.T) {
	lane := newTestInboundLane()

	require.NoError(t, lane.OnMessagesDelivered("alice", 1, 3, []bool{true, false, true}))
	require.NoError(t, lane.OnMessagesDelivered("bob", 4, 5, allDispatched(2)))

	t.Run("ahead of deliveries", func(t *testing.T) {
		require.Error(t, lane.OnDeliveryConfirmed(6))
	})

	t.Run("truncates straddling entry", func(t *testing.T) {
		require.NoError(t, lane.OnDeliveryConfirmed(2))

		data := lane.Data()
		require.Equal(t, MessageNonce(2), data.LastConfirmedNonce)
		require.Len(t, data.Relayers, 2)
		require.Equal(t, MessageNonce(3), data.Relayers[0].Messages.Begin)
		require.Equal(t, MessageNonce(3), data.Relayers[0].Messages.End)
		require.True(t, data.Relayers[0].Messages.MessageDispatchResult(3))
	})

	t.Run("is idempotent", func(t *testing.T) {
		require.NoError(t, lane.OnDeliveryConfirmed(2))
		require.NoError(t, lane.OnDeliveryConfirmed(1))
		require.Equal(t, MessageNonce(2), lane.Data().LastConfirmedNonce)
	})

	t.Run("drops fully confirmed entries", func(t *testing.T) {
		require.NoError(t, lane.OnDeliveryConfirmed(5))

		data := lane.Data()
		require.Empty(t, data.Relayers)
		require.Equal(t, MessageNonce(5), data.LastConfirmedNonce)
		require.Equal(t, MessageNonce(5), data.LastDeliveredNonce())
	})
}

func TestInboundLaneHalted(t *testing.T) {
	lane := newTestInboundLane()
	require.NoError(t, lane.OnMessagesDelivered("alice", 1, 1, allDispatched(1)))

	lane.SetOperatingMode(ModeHalted)
	require.ErrorIs(t, lane.OnMessagesDelivered("alice", 2, 2, allDispatched(1)), ErrLaneHalted)
	require.ErrorIs(t, lane.OnDeliveryConfirmed(1), ErrLaneHalted)

	lane.SetOperatingMode(ModeNormal)
	require.NoError(t, lane.OnDeliveryConfirmed(1))
}
