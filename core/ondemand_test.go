package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOnDemandHeadersRelayEnsureHeaderAvailable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// nothing is mandatory, so the relay idles until a header is required
	d := &clientsData{
		sourceBestBlockNumber: 10,
		sourceHeaders: map[uint64]headerAndProof{
			6:  withoutProof(header(6)),
			7:  withoutProof(header(7)),
			8:  withoutProof(header(8)),
			9:  withoutProof(header(9)),
			10: withProof(header(10)),
		},
		targetBestBlockID:     HeaderID{Number: 5, Hash: hashOf(5)},
		advanceTargetOnSubmit: true,
	}

	params := testParams()
	params.Tick = 5 * time.Millisecond
	params.OnlyMandatoryHeaders = true

	relay := NewOnDemandHeadersRelay(
		testPipeline(), &testSourceClient{d: d}, &testTargetClient{d: d}, params, nil,
	)
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.NoError(t, relay.EnsureHeaderAvailable(ctx, 10))
	require.Equal(t, []uint64{10}, d.submittedHeaders())
	require.Zero(t, relay.RequiredHeader())

	cancel()
	require.NoError(t, <-done)
}

func TestOnDemandHeadersRelayRequirementsOnlyGrow(t *testing.T) {
	relay := NewOnDemandHeadersRelay(
		testPipeline(), &testSourceClient{}, &testTargetClient{}, testParams(), nil,
	)

	relay.RequireMoreHeaders(5)
	relay.RequireMoreHeaders(3)
	require.Equal(t, uint64(5), relay.RequiredHeader())

	relay.RequireMoreHeaders(8)
	require.Equal(t, uint64(8), relay.RequiredHeader())

	// a confirmation below the requirement leaves it in place
	relay.clearRequirement(7)
	require.Equal(t, uint64(8), relay.RequiredHeader())
	relay.clearRequirement(8)
	require.Zero(t, relay.RequiredHeader())
}

type testParaSource struct {
	relayBlockForHead map[uint64]uint64
	proofHead         HeaderID
}

func (c *testParaSource) Reconnect(ctx context.Context) error { return nil }

func (c *testParaSource) RelayBlockForParaHead(ctx context.Context, paraHead uint64) (uint64, error) {
	return c.relayBlockForHead[paraHead], nil
}

func (c *testParaSource) ParaHeadProof(ctx context.Context, relayBlock uint64) (ParaHeadProof, error) {
	return ParaHeadProof{
		Head:       c.proofHead,
		RelayBlock: relayBlock,
		Proof:      [][]byte{{0x01}},
	}, nil
}

type testParaTarget struct {
	mu        sync.Mutex
	best      HeaderID
	submitted []ParaHeadProof
	status    TrackedTransactionStatus
}

func (c *testParaTarget) Reconnect(ctx context.Context) error { return nil }

func (c *testParaTarget) BestParaHeadID(ctx context.Context) (HeaderID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.best, nil
}

func (c *testParaTarget) SubmitParaHeadProof(ctx context.Context, proof ParaHeadProof) (TransactionTracker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitted = append(c.submitted, proof)
	c.best = proof.Head
	return testTracker{status: c.status}, nil
}

func TestOnDemandParachainsRelay(t *testing.T) {
	// relay chain headers up to 100 are already known at the target, so the
	// inner headers relay resolves without submitting anything
	relayChainData := &clientsData{
		sourceBestBlockNumber: 100,
		targetBestBlockID:     HeaderID{Number: 100, Hash: hashOf(100)},
	}
	headersRelay := NewOnDemandHeadersRelay(
		FinalityPipeline{SourceName: "polkadot", TargetName: "rialto"},
		&testSourceClient{d: relayChainData}, &testTargetClient{d: relayChainData},
		testParams(), nil,
	)

	source := &testParaSource{
		relayBlockForHead: map[uint64]uint64{10: 90},
		proofHead:         HeaderID{Number: 10, Hash: hashOf(10)},
	}
	target := &testParaTarget{best: HeaderID{Number: 5, Hash: hashOf(5)}}

	relay := NewOnDemandParachainsRelay(
		FinalityPipeline{SourceName: "millau", TargetName: "rialto"},
		source, target, headersRelay,
	)

	require.NoError(t, relay.EnsureHeaderAvailable(context.Background(), 10))
	require.Len(t, target.submitted, 1)
	require.Equal(t, uint64(10), target.submitted[0].Head.Number)
	require.Equal(t, uint64(90), target.submitted[0].RelayBlock)

	// already satisfied requests submit nothing
	require.NoError(t, relay.EnsureHeaderAvailable(context.Background(), 10))
	require.Len(t, target.submitted, 1)
}

func TestOnDemandParachainsRelayLostTransaction(t *testing.T) {
	relayChainData := &clientsData{
		sourceBestBlockNumber: 100,
		targetBestBlockID:     HeaderID{Number: 100, Hash: hashOf(100)},
	}
	headersRelay := NewOnDemandHeadersRelay(
		FinalityPipeline{SourceName: "polkadot", TargetName: "rialto"},
		&testSourceClient{d: relayChainData}, &testTargetClient{d: relayChainData},
		testParams(), nil,
	)

	source := &testParaSource{
		relayBlockForHead: map[uint64]uint64{10: 90},
		proofHead:         HeaderID{Number: 10, Hash: hashOf(10)},
	}
	target := &testParaTarget{best: HeaderID{Number: 5, Hash: hashOf(5)}, status: TransactionLost}

	relay := NewOnDemandParachainsRelay(
		FinalityPipeline{SourceName: "millau", TargetName: "rialto"},
		source, target, headersRelay,
	)

	err := relay.EnsureHeaderAvailable(context.Background(), 10)
	require.ErrorIs(t, err, FailedClientBoth)
}
