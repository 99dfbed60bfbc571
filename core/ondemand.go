package core

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/datachainlab/substrate-bridge-relayer/log"
)

// OnDemandRelay is a finality relay that other relays can ask to make a
// given source header available at the target chain.
type OnDemandRelay interface {
	// EnsureHeaderAvailable blocks until the target chain knows a finalized
	// source header with a number at least the given one.
	EnsureHeaderAvailable(ctx context.Context, number uint64) error
}

// OnDemandHeadersRelay runs a finality sync loop that normally relays only
// mandatory headers (or nothing at all) and temporarily switches to relaying
// every header while some caller requires a newer one at the target.
type OnDemandHeadersRelay struct {
	pipeline FinalityPipeline
	source   SourceClient
	target   TargetClient
	params   FinalitySyncParams
	metrics  *SyncLoopMetrics

	mu             sync.Mutex
	requiredHeader uint64
	wakeup         chan struct{}
}

func NewOnDemandHeadersRelay(
	pipeline FinalityPipeline,
	source SourceClient,
	target TargetClient,
	params FinalitySyncParams,
	metrics *SyncLoopMetrics,
) *OnDemandHeadersRelay {
	return &OnDemandHeadersRelay{
		pipeline: pipeline,
		source:   source,
		target:   target,
		params:   params,
		metrics:  metrics,
		wakeup:   make(chan struct{}, 1),
	}
}

// Run drives the underlying finality sync loop, restarting it whenever the
// relay mode changes between mandatory-only and relay-everything. It returns
// nil once the context is cancelled.
func (r *OnDemandHeadersRelay) Run(ctx context.Context) error {
	logger := log.GetLogger().WithChainPair(r.pipeline.SourceName, r.pipeline.TargetName)

	for {
		if ctx.Err() != nil {
			return nil
		}

		params := r.params
		if r.RequiredHeader() > 0 {
			params.OnlyMandatoryHeaders = false
		}

		loopCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() {
			done <- RunFinalityLoop(loopCtx, r.pipeline, r.source, r.target, params, r.metrics)
		}()

		select {
		case <-r.wakeup:
			logger.Info("restarting finality sync loop",
				"only_mandatory_headers", params.OnlyMandatoryHeaders,
				"required_header", r.RequiredHeader(),
			)
			cancel()
			<-done
		case err := <-done:
			cancel()
			if err != nil && ctx.Err() == nil {
				logger.Error("on-demand finality sync loop exited", err)
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
		}
	}
}

// RequiredHeader returns the highest header number currently required at the
// target, or zero when the relay may idle in mandatory-only mode.
func (r *OnDemandHeadersRelay) RequiredHeader() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requiredHeader
}

// RequireMoreHeaders records that the target needs a source header with at
// least the given number. Requirements only ever grow until satisfied.
func (r *OnDemandHeadersRelay) RequireMoreHeaders(number uint64) {
	r.mu.Lock()
	wasIdle := r.requiredHeader == 0
	if number > r.requiredHeader {
		r.requiredHeader = number
	}
	r.mu.Unlock()

	if wasIdle && r.params.OnlyMandatoryHeaders {
		r.signalWakeup()
	}
}

func (r *OnDemandHeadersRelay) signalWakeup() {
	select {
	case r.wakeup <- struct{}{}:
	default:
	}
}

// EnsureHeaderAvailable blocks until the target chain's best finalized source
// header reaches the given number, requesting extra headers from the sync
// loop as needed.
func (r *OnDemandHeadersRelay) EnsureHeaderAvailable(ctx context.Context, number uint64) error {
	logger := log.GetLogger().WithChainPair(r.pipeline.SourceName, r.pipeline.TargetName)

	for {
		best, err := r.target.BestFinalizedSourceBlockID(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to read best finalized source block at target")
		}
		if best.Number >= number {
			r.clearRequirement(number)
			return nil
		}

		r.RequireMoreHeaders(number)
		logger.Debug("waiting for header at target",
			"required_header", number,
			"best_at_target", best.Number,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.params.Tick):
		}
	}
}

func (r *OnDemandHeadersRelay) clearRequirement(number uint64) {
	r.mu.Lock()
	satisfied := r.requiredHeader != 0 && r.requiredHeader <= number
	if satisfied {
		r.requiredHeader = 0
	}
	r.mu.Unlock()

	// drop back to mandatory-only mode
	if satisfied && r.params.OnlyMandatoryHeaders {
		r.signalWakeup()
	}
}
