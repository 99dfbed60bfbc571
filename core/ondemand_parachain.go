package core

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/datachainlab/substrate-bridge-relayer/log"
)

// ParaHeadProof is a storage proof of a parachain head, anchored at a relay
// chain block that the target chain already knows.
type ParaHeadProof struct {
	// Head identifies the proven parachain header.
	Head HeaderID
	// RelayBlock is the relay chain block number the proof is read at.
	RelayBlock uint64
	// Proof is the storage trie proof of the parachain head.
	Proof [][]byte
}

// ParachainSourceClient reads parachain heads and their proofs from the
// relay chain backing the parachain.
type ParachainSourceClient interface {
	Reconnect(ctx context.Context) error
	// RelayBlockForParaHead returns the number of the earliest finalized
	// relay chain block whose recorded head of the parachain has a number of
	// at least paraHead.
	RelayBlockForParaHead(ctx context.Context, paraHead uint64) (uint64, error)
	// ParaHeadProof builds a storage proof of the parachain head at the
	// given relay chain block.
	ParaHeadProof(ctx context.Context, relayBlock uint64) (ParaHeadProof, error)
}

// ParachainTargetClient submits parachain head proofs to the chain that
// tracks the parachain.
type ParachainTargetClient interface {
	Reconnect(ctx context.Context) error
	// BestParaHeadID returns the best parachain head known to the target.
	BestParaHeadID(ctx context.Context) (HeaderID, error)
	SubmitParaHeadProof(ctx context.Context, proof ParaHeadProof) (TransactionTracker, error)
}

// OnDemandParachainsRelay makes parachain headers available at the target
// chain on demand. Proving a parachain head requires the anchoring relay
// chain block to be known at the target first, so each request runs through
// the underlying relay chain headers relay before the head proof itself is
// submitted.
type OnDemandParachainsRelay struct {
	pipeline     FinalityPipeline
	source       ParachainSourceClient
	target       ParachainTargetClient
	headersRelay *OnDemandHeadersRelay
	stallTimeout time.Duration

	// submitMu serializes head proof submissions so that concurrent
	// EnsureHeaderAvailable calls do not race each other to the target.
	submitMu sync.Mutex
}

func NewOnDemandParachainsRelay(
	pipeline FinalityPipeline,
	source ParachainSourceClient,
	target ParachainTargetClient,
	headersRelay *OnDemandHeadersRelay,
) *OnDemandParachainsRelay {
	return &OnDemandParachainsRelay{
		pipeline:     pipeline,
		source:       source,
		target:       target,
		headersRelay: headersRelay,
		stallTimeout: headersRelay.params.StallTimeout,
	}
}

// EnsureHeaderAvailable blocks until the target chain knows a parachain head
// with a number of at least the given one.
func (r *OnDemandParachainsRelay) EnsureHeaderAvailable(ctx context.Context, number uint64) error {
	logger := log.GetLogger().WithChainPair(r.pipeline.SourceName, r.pipeline.TargetName)

	best, err := r.target.BestParaHeadID(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to read best parachain head at target")
	}
	if best.Number >= number {
		return nil
	}

	relayBlock, err := r.source.RelayBlockForParaHead(ctx, number)
	if err != nil {
		return errors.Wrapf(err, "failed to find relay chain block for parachain head %d", number)
	}

	if err := r.headersRelay.EnsureHeaderAvailable(ctx, relayBlock); err != nil {
		return errors.Wrapf(err, "failed to relay chain header %d to target", relayBlock)
	}

	proof, err := r.source.ParaHeadProof(ctx, relayBlock)
	if err != nil {
		return errors.Wrapf(err, "failed to build parachain head proof at relay block %d", relayBlock)
	}

	r.submitMu.Lock()
	defer r.submitMu.Unlock()

	// another caller may have advanced the head while we were waiting
	best, err = r.target.BestParaHeadID(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to read best parachain head at target")
	}
	if best.Number >= number {
		return nil
	}

	tracker, err := r.target.SubmitParaHeadProof(ctx, proof)
	if err != nil {
		return errors.Wrap(err, "failed to submit parachain head proof")
	}
	logger.Info("submitted parachain head proof",
		"para_head_number", proof.Head.Number,
		"relay_block", proof.RelayBlock,
	)

	waitCtx, cancel := context.WithTimeout(ctx, r.stallTimeout)
	status := tracker.Wait(waitCtx)
	cancel()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if status != TransactionFinalized {
		return errors.Wrapf(FailedClientBoth,
			"parachain head proof transaction reached status %q", status)
	}
	return nil
}
