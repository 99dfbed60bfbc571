package substrate

import (
	"context"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/cockroachdb/errors"

	"github.com/datachainlab/substrate-bridge-relayer/core"
)

const (
	bridgeGrandpaPallet      = "BridgeGrandpa"
	bestFinalizedStorageItem = "BestFinalized"
	submitFinalityProofCall  = "BridgeGrandpa.submit_finality_proof"
)

// rawScale injects pre-encoded SCALE bytes into a call without re-encoding.
type rawScale []byte

func (r rawScale) Encode(encoder scale.Encoder) error {
	return encoder.Write(r)
}

// bestFinalized mirrors the bridge pallet's BestFinalized storage value.
type bestFinalized struct {
	Number types.U32
	Hash   types.Hash
}

// BestFinalizedSourceBlockID returns this chain's view of the best finalized
// block of the bridged source chain, read from the bridge GRANDPA pallet.
func (c *Chain) BestFinalizedSourceBlockID(ctx context.Context) (core.HeaderID, error) {
	api, meta, _ := c.client()
	key, err := types.CreateStorageKey(meta, bridgeGrandpaPallet, bestFinalizedStorageItem)
	if err != nil {
		return core.HeaderID{}, operationError("build best finalized storage key", err)
	}
	var stored bestFinalized
	ok, err := api.RPC.State.GetStorageLatest(key, &stored)
	if err != nil {
		return core.HeaderID{}, connectionError("fetch best finalized source block", err)
	}
	if !ok {
		return core.HeaderID{}, operationError("fetch best finalized source block",
			errors.New("bridge pallet is not initialized"))
	}
	return core.HeaderID{Number: uint64(stored.Number), Hash: core.Hash(stored.Hash)}, nil
}

// SubmitFinalityProof submits the header and its GRANDPA justification to
// the bridge pallet.
func (c *Chain) SubmitFinalityProof(ctx context.Context, header core.SourceHeader, proof core.FinalityProof) (core.TransactionTracker, error) {
	h, ok := header.(*Header)
	if !ok {
		return nil, operationError("submit finality proof", errors.Newf("unexpected header type %T", header))
	}
	j, ok := proof.(*Justification)
	if !ok {
		return nil, operationError("submit finality proof", errors.Newf("unexpected proof type %T", proof))
	}

	_, meta, _ := c.client()
	call, err := types.NewCall(meta, submitFinalityProofCall, h.raw, rawScale(j.Bytes()))
	if err != nil {
		return nil, operationError("build submit finality proof call", err)
	}
	return c.submitExtrinsic(ctx, call)
}
