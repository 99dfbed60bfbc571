package substrate

import (
	"context"

	"github.com/centrifuge/go-substrate-rpc-client/v4/rpc/author"

	"github.com/datachainlab/substrate-bridge-relayer/core"
	"github.com/datachainlab/substrate-bridge-relayer/log"
)

// TransactionTracker follows a submitted extrinsic through the node's status
// stream until it reaches a terminal status.
type TransactionTracker struct {
	chainID string
	sub     *author.ExtrinsicStatusSubscription
}

func NewTransactionTracker(chainID string, sub *author.ExtrinsicStatusSubscription) *TransactionTracker {
	return &TransactionTracker{chainID: chainID, sub: sub}
}

// Wait blocks until the extrinsic is finalized, dropped, or rejected. A
// cancelled context or a broken status stream yields TransactionLost: the
// extrinsic may or may not end up included.
func (t *TransactionTracker) Wait(ctx context.Context) core.TrackedTransactionStatus {
	logger := log.GetLogger().WithChain(t.chainID)
	defer t.sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return core.TransactionLost
		case err := <-t.sub.Err():
			if err != nil {
				logger.Error("extrinsic status stream failed", err)
			}
			return core.TransactionLost
		case status, ok := <-t.sub.Chan():
			if !ok {
				return core.TransactionLost
			}
			switch {
			case status.IsFinalized:
				logger.Debug("extrinsic finalized", "block_hash", status.AsFinalized.Hex())
				return core.TransactionFinalized
			case status.IsDropped, status.IsUsurped, status.IsFinalityTimeout:
				return core.TransactionLost
			case status.IsInvalid:
				return core.TransactionInvalid
			}
		}
	}
}
