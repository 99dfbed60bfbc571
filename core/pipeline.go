package core

import (
	"context"
	"time"
)

// FinalityPipeline names the two legs of a finality synchronization pipeline.
type FinalityPipeline struct {
	SourceName string
	TargetName string
}

// SourceHeader is the minimal view of a source chain header required by the
// finality sync loop.
type SourceHeader interface {
	// Hash returns the header hash.
	Hash() Hash

	// Number returns the header number.
	Number() uint64

	// IsMandatory reports whether the header carries information (such as an
	// authority set change) that makes relaying it a liveness requirement.
	// Mandatory headers are never skipped.
	IsMandatory() bool
}

// FinalityProof is an externally-verifiable proof that some source chain
// header is finalized. It is opaque to the loop except for the number of the
// header it targets; verification happens on the target chain at submission.
type FinalityProof interface {
	TargetHeaderNumber() uint64
}

// SourceClient provides the finality sync loop with access to the source
// chain.
type SourceClient interface {
	// Reconnect rebuilds the underlying connection after a connection error.
	Reconnect(ctx context.Context) error

	// BestFinalizedBlockNumber returns the number of the best finalized
	// source chain block.
	BestFinalizedBlockNumber(ctx context.Context) (uint64, error)

	// HeaderAndFinalityProof returns the header with the given number and,
	// if the source chain has one stored, its finality proof. The returned
	// proof is nil when the header has no persistent proof.
	HeaderAndFinalityProof(ctx context.Context, number uint64) (SourceHeader, FinalityProof, error)

	// FinalityProofs subscribes to the stream of finality proofs generated
	// by the source chain. The returned channel is closed when the
	// subscription ends; the caller is expected to resubscribe.
	FinalityProofs(ctx context.Context) (<-chan FinalityProof, error)
}

// TargetClient provides the finality sync loop with access to the target
// chain.
type TargetClient interface {
	// Reconnect rebuilds the underlying connection after a connection error.
	Reconnect(ctx context.Context) error

	// BestFinalizedSourceBlockID returns the target chain's view of the best
	// finalized source chain block.
	BestFinalizedSourceBlockID(ctx context.Context) (HeaderID, error)

	// SubmitFinalityProof submits the header and its finality proof to the
	// target chain and returns a tracker for the submission transaction.
	SubmitFinalityProof(ctx context.Context, header SourceHeader, proof FinalityProof) (TransactionTracker, error)
}

// FinalitySyncParams tunes a single finality sync pipeline.
type FinalitySyncParams struct {
	// Tick is the interval between loop iterations when there's nothing else
	// to do.
	Tick time.Duration

	// RecentFinalityProofsLimit caps the number of proofs kept in the
	// recent-proofs buffer.
	RecentFinalityProofsLimit int

	// StallTimeout bounds how long the loop waits for a submitted header to
	// become the target's best finalized source header before it declares
	// the pipeline stalled.
	StallTimeout time.Duration

	// OnlyMandatoryHeaders restricts submissions to mandatory headers. This
	// cuts submission costs to the minimum required for the bridge to stay
	// live, at the price of a growing gap between the chains.
	OnlyMandatoryHeaders bool
}
