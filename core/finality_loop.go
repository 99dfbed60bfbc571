package core

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/datachainlab/substrate-bridge-relayer/log"
)

// finalityProofEntry pairs a finality proof read from the proofs stream with
// the number of the header it finalizes.
type finalityProofEntry struct {
	number uint64
	proof  FinalityProof
}

// finalityProofs holds recent proofs in arrival order. The stream yields
// proofs for increasing header numbers, so the slice stays sorted by number.
type finalityProofs []finalityProofEntry

// restartableFinalityProofsStream wraps the finality proofs subscription.
// A closed channel is not an error: the needsRestart flag is set and the
// subscription is rebuilt on the next loop iteration.
type restartableFinalityProofsStream struct {
	ch           <-chan FinalityProof
	needsRestart bool
}

func (s *restartableFinalityProofsStream) restartIfNeeded(ctx context.Context, source SourceClient) error {
	if s.ch != nil && !s.needsRestart {
		return nil
	}
	ch, err := source.FinalityProofs(ctx)
	if err != nil {
		return err
	}
	s.ch = ch
	s.needsRestart = false
	return nil
}

// finalityLoopState is the mutable state of a single sync loop run. It is
// never persisted.
type finalityLoopState struct {
	stream               *restartableFinalityProofsStream
	recentFinalityProofs finalityProofs

	// submittedHeaderNumber is the number of the last submitted header that
	// the target has not reflected yet.
	submittedHeaderNumber *uint64
	stallDeadline         time.Time
}

// RunUntilConnectionLost continuously advances the target chain's view of
// the source chain's finalized headers. It blocks until the context is
// cancelled (returning nil) or the pipeline fails, in which case the
// returned error wraps a FailedClient classification telling the supervisor
// which connections to rebuild. Connection errors are handled internally by
// reconnecting the failed side.
func RunUntilConnectionLost(
	ctx context.Context,
	pipeline FinalityPipeline,
	source SourceClient,
	target TargetClient,
	params FinalitySyncParams,
	metrics *SyncLoopMetrics,
) error {
	logger := log.GetLogger().WithChainPair(pipeline.SourceName, pipeline.TargetName)
	state := &finalityLoopState{stream: &restartableFinalityProofsStream{}}

	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := state.stream.restartIfNeeded(ctx, source); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if IsConnectionError(err) {
				if rerr := reconnectClient(ctx, logger, pipeline.SourceName, source); rerr != nil {
					return FailedClientSource
				}
				continue
			}
			logger.Error("failed to subscribe to finality proofs", err)
			return FailedClientSource
		}

		if err := runLoopIteration(ctx, source, target, state, params, metrics, logger); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			var failed FailedClient
			if errors.As(err, &failed) {
				return failed
			}

			var cerr *clientError
			if !errors.As(err, &cerr) {
				logger.Error("finality sync loop iteration failed", err)
				return FailedClientBoth
			}
			if IsConnectionError(cerr.err) {
				if rerr := reconnectFailedClient(ctx, logger, pipeline, cerr.failed, source, target); rerr != nil {
					return cerr.failed
				}
				// the subscription rides on the source connection
				if cerr.failed != FailedClientTarget {
					state.stream.needsRestart = true
				}
				continue
			}
			logger.Error("finality sync loop iteration failed", cerr.err)
			return cerr.failed
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(params.Tick):
		}
	}
}

func runLoopIteration(
	ctx context.Context,
	source SourceClient,
	target TargetClient,
	state *finalityLoopState,
	params FinalitySyncParams,
	metrics *SyncLoopMetrics,
	logger *log.RelayLogger,
) error {
	bestNumberAtSource, err := source.BestFinalizedBlockNumber(ctx)
	if err != nil {
		return sourceError(err)
	}
	bestIDAtTarget, err := target.BestFinalizedSourceBlockID(ctx)
	if err != nil {
		return targetError(err)
	}

	if metrics != nil {
		metrics.UpdateBestBlockNumberAtSource(bestNumberAtSource)
		metrics.UpdateBestBlockNumberAtTarget(bestIDAtTarget.Number)
		if err := updateForkDetection(ctx, source, bestIDAtTarget, metrics, logger); err != nil {
			return sourceError(err)
		}
	}

	// pull proofs that have arrived since the previous iteration into the
	// recent-proofs buffer
	readFinalityProofsFromStream(state.stream, &state.recentFinalityProofs)

	if state.submittedHeaderNumber != nil {
		if bestIDAtTarget.Number >= *state.submittedHeaderNumber {
			state.submittedHeaderNumber = nil
			state.stallDeadline = time.Time{}
		} else {
			if !state.stallDeadline.IsZero() && time.Now().After(state.stallDeadline) {
				logger.Error("finality sync stalled", errors.Newf(
					"submitted header %d not finalized at target within %s",
					*state.submittedHeaderNumber, params.StallTimeout,
				))
				return FailedClientBoth
			}
			// a submission is still in flight; submitting out of order is
			// never allowed
			return nil
		}
	}

	if bestIDAtTarget.Number >= bestNumberAtSource {
		return nil
	}

	header, proof, err := selectHeaderToSubmit(
		ctx, source, state.stream, &state.recentFinalityProofs,
		bestNumberAtSource, bestIDAtTarget.Number, params,
	)
	if err != nil {
		return sourceError(err)
	}
	if header == nil {
		return nil
	}

	tracker, err := target.SubmitFinalityProof(ctx, header, proof)
	if err != nil {
		return targetError(err)
	}
	logger.Info("submitted finality proof",
		"header_number", header.Number(),
		"mandatory", header.IsMandatory(),
	)
	if metrics != nil {
		metrics.NoteSubmittedHeader(ctx, header.Number())
	}

	number := header.Number()
	state.submittedHeaderNumber = &number
	state.stallDeadline = time.Now().Add(params.StallTimeout)
	pruneRecentFinalityProofs(number, &state.recentFinalityProofs, params.RecentFinalityProofsLimit)

	waitCtx, cancel := context.WithTimeout(ctx, params.StallTimeout)
	status := tracker.Wait(waitCtx)
	cancel()
	if ctx.Err() != nil {
		return nil
	}
	if status != TransactionFinalized {
		// a lost submission cannot be safely attributed to either leg
		logger.Error("finality proof transaction was not finalized", errors.Newf(
			"transaction for header %d reached status %q", number, status,
		))
		return FailedClientBoth
	}
	return nil
}

// updateForkDetection compares the source chain's header at the target's
// best-known height against the hash the target has recorded. A mismatch
// means the chains have diverged onto different forks; it is surfaced via
// metrics so that an operator is alerted, and relaying continues against the
// source's canonical chain.
func updateForkDetection(
	ctx context.Context,
	source SourceClient,
	bestIDAtTarget HeaderID,
	metrics *SyncLoopMetrics,
	logger *log.RelayLogger,
) error {
	if bestIDAtTarget.Number == 0 {
		metrics.UpdateUsingSameFork(true)
		return nil
	}
	header, _, err := source.HeaderAndFinalityProof(ctx, bestIDAtTarget.Number)
	if err != nil {
		return err
	}
	sameFork := header.Hash() == bestIDAtTarget.Hash
	if !sameFork {
		logger.Error("source and target are on different forks", errors.Newf(
			"source header %d has hash %s, target expects %s",
			bestIDAtTarget.Number, header.Hash(), bestIDAtTarget.Hash,
		))
	}
	metrics.UpdateUsingSameFork(sameFork)
	return nil
}

// selectHeaderToSubmit picks the best (header, proof) pair to submit next,
// preferring a mandatory header over everything else, then the most recent
// header with a persistent proof, then the most recent ephemeral proof from
// the recent-proofs buffer. Returns a nil header when there is nothing worth
// submitting.
func selectHeaderToSubmit(
	ctx context.Context,
	source SourceClient,
	stream *restartableFinalityProofsStream,
	recentFinalityProofs *finalityProofs,
	bestNumberAtSource, bestNumberAtTarget uint64,
	params FinalitySyncParams,
) (SourceHeader, FinalityProof, error) {
	unjustifiedHeaders, selectedHeader, selectedProof, mandatory, err := readMissingHeaders(
		ctx, source, bestNumberAtSource, bestNumberAtTarget,
	)
	if err != nil {
		return nil, nil, err
	}
	if mandatory {
		return selectedHeader, selectedProof, nil
	}
	if params.OnlyMandatoryHeaders {
		// ephemeral proofs are not even read in this mode
		return nil, nil, nil
	}

	readFinalityProofsFromStream(stream, recentFinalityProofs)
	selectedHeader, selectedProof = selectBetterRecentFinalityProof(
		*recentFinalityProofs, &unjustifiedHeaders, selectedHeader, selectedProof,
	)
	return selectedHeader, selectedProof, nil
}

// readMissingHeaders scans headers in (bestNumberAtTarget, bestNumberAtSource]
// in increasing order. It returns immediately when a mandatory header with a
// proof is found. Otherwise it returns the most recent header that has a
// persistent proof together with the headers following it that have none
// (the "unjustified" headers).
func readMissingHeaders(
	ctx context.Context,
	source SourceClient,
	bestNumberAtSource, bestNumberAtTarget uint64,
) (unjustified []SourceHeader, selHeader SourceHeader, selProof FinalityProof, mandatory bool, err error) {
	for number := bestNumberAtTarget + 1; number <= bestNumberAtSource; number++ {
		header, proof, err := source.HeaderAndFinalityProof(ctx, number)
		if err != nil {
			return nil, nil, nil, false, err
		}

		switch {
		case header.IsMandatory() && proof != nil:
			return nil, header, proof, true, nil
		case header.IsMandatory():
			return nil, nil, nil, false, errors.Newf(
				"missing finality proof for mandatory header %d", header.Number(),
			)
		case proof != nil:
			// a newer persistent proof supersedes all earlier headers
			unjustified = unjustified[:0]
			selHeader, selProof = header, proof
		default:
			unjustified = append(unjustified, header)
		}
	}
	return unjustified, selHeader, selProof, false, nil
}

// readFinalityProofsFromStream drains every proof currently buffered in the
// stream into the recent-proofs collection without blocking. If the stream
// has ended, the needsRestart flag is set instead of raising an error.
func readFinalityProofsFromStream(stream *restartableFinalityProofsStream, recent *finalityProofs) {
	if stream.ch == nil {
		return
	}
	for {
		select {
		case proof, ok := <-stream.ch:
			if !ok {
				stream.needsRestart = true
				return
			}
			*recent = append(*recent, finalityProofEntry{proof.TargetHeaderNumber(), proof})
		default:
			return
		}
	}
}

// selectBetterRecentFinalityProof intersects the recent-proofs buffer with
// the window of unjustified headers. The most recent buffered proof found in
// the intersection supersedes the currently selected pair, and unjustified
// headers at or below the match are pruned from the list: a newer proof makes
// them obsolete.
func selectBetterRecentFinalityProof(
	recent finalityProofs,
	unjustifiedHeaders *[]SourceHeader,
	selHeader SourceHeader,
	selProof FinalityProof,
) (SourceHeader, FinalityProof) {
	headers := *unjustifiedHeaders
	if len(headers) == 0 || len(recent) == 0 {
		return selHeader, selProof
	}

	intersectionBegin := max(headers[0].Number(), recent[0].number)
	intersectionEnd := min(headers[len(headers)-1].Number(), recent[len(recent)-1].number)
	if intersectionBegin > intersectionEnd {
		return selHeader, selProof
	}

	// the most recent buffered proof within the intersection
	idx := sort.Search(len(recent), func(i int) bool {
		return recent[i].number > intersectionEnd
	}) - 1
	if idx < 0 || recent[idx].number < intersectionBegin {
		return selHeader, selProof
	}
	selectedNumber := recent[idx].number

	// headers contains every number of the intersection, so the match is exact
	pos := sort.Search(len(headers), func(i int) bool {
		return headers[i].Number() >= selectedNumber
	})
	selected := headers[pos]
	*unjustifiedHeaders = headers[pos+1:]
	return selected, recent[idx].proof
}

// pruneRecentFinalityProofs drops every buffered proof for headers at or
// below the just-justified number, then unconditionally drops the oldest
// entries if more than limit remain.
func pruneRecentFinalityProofs(justifiedNumber uint64, recent *finalityProofs, limit int) {
	proofs := *recent
	pos := sort.Search(len(proofs), func(i int) bool {
		return proofs[i].number > justifiedNumber
	})
	proofs = proofs[pos:]
	if len(proofs) > limit {
		proofs = proofs[len(proofs)-limit:]
	}
	*recent = proofs
}
