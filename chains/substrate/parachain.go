package substrate

import (
	"context"
	"time"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/datachainlab/substrate-bridge-relayer/core"
)

const (
	parasPallet                  = "Paras"
	parasHeadsStorageItem        = "Heads"
	bridgeParachainsPallet       = "BridgeParachains"
	bestParaHeadsStorageItem     = "ParasInfo"
	importedParaHeadsStorageItem = "ImportedParaHeads"
	submitParaHeadsCall          = "BridgeParachains.submit_parachain_heads"
)

// paraHeadPollInterval paces the wait for a relay chain block covering a
// requested parachain head. Relay chains produce blocks every few seconds.
const paraHeadPollInterval = 3 * time.Second

// readProof is the JSON result of the state_getReadProof RPC call.
type readProof struct {
	At    types.Hash `json:"at"`
	Proof []string   `json:"proof"`
}

// paraHeadsKey builds the Paras.Heads storage key of the configured
// parachain.
func (c *Chain) paraHeadsKey(meta *types.Metadata, paraID uint32) (types.StorageKey, error) {
	encodedParaID, err := codec.Encode(types.NewU32(paraID))
	if err != nil {
		return nil, operationError("encode para id", err)
	}
	key, err := types.CreateStorageKey(meta, parasPallet, parasHeadsStorageItem, encodedParaID)
	if err != nil {
		return nil, operationError("build para heads storage key", err)
	}
	return key, nil
}

// paraHeadAt reads the parachain head recorded on the relay chain at the
// given relay chain block.
func (c *Chain) paraHeadAt(paraID uint32, relayBlockHash types.Hash) (core.HeaderID, error) {
	api, meta, _ := c.client()
	key, err := c.paraHeadsKey(meta, paraID)
	if err != nil {
		return core.HeaderID{}, err
	}

	var headData types.Bytes
	ok, err := api.RPC.State.GetStorage(key, &headData, relayBlockHash)
	if err != nil {
		return core.HeaderID{}, connectionError("fetch para head", err)
	}
	if !ok {
		return core.HeaderID{}, operationError("fetch para head",
			errors.Newf("relay chain has no head for parachain %d", paraID))
	}

	var header types.Header
	if err := codec.Decode(headData, &header); err != nil {
		return core.HeaderID{}, operationError("decode para head", err)
	}
	return core.HeaderID{
		Number: uint64(header.Number),
		Hash:   blake2b.Sum256(headData),
	}, nil
}

// RelayBlockForParaHead waits for a finalized relay chain block whose
// recorded head of the parachain has a number of at least paraHead, and
// returns that relay chain block's number.
func (c *Chain) RelayBlockForParaHead(ctx context.Context, paraHead uint64) (uint64, error) {
	api, _, _ := c.client()
	for {
		relayHash, err := api.RPC.Chain.GetFinalizedHead()
		if err != nil {
			return 0, connectionError("fetch finalized head", err)
		}
		relayHeader, err := api.RPC.Chain.GetHeader(relayHash)
		if err != nil {
			return 0, connectionError("fetch finalized header", err)
		}
		head, err := c.paraHeadAt(c.config.ParaID, relayHash)
		if err != nil {
			return 0, err
		}
		if head.Number >= paraHead {
			return uint64(relayHeader.Number), nil
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(paraHeadPollInterval):
		}
	}
}

// ParaHeadProof builds a storage proof of the parachain head at the given
// relay chain block.
func (c *Chain) ParaHeadProof(ctx context.Context, relayBlock uint64) (core.ParaHeadProof, error) {
	api, meta, _ := c.client()
	relayHash, err := api.RPC.Chain.GetBlockHash(relayBlock)
	if err != nil {
		return core.ParaHeadProof{}, connectionError("fetch relay block hash", err)
	}
	head, err := c.paraHeadAt(c.config.ParaID, relayHash)
	if err != nil {
		return core.ParaHeadProof{}, err
	}
	key, err := c.paraHeadsKey(meta, c.config.ParaID)
	if err != nil {
		return core.ParaHeadProof{}, err
	}

	var proof readProof
	if err := api.Client.Call(&proof, "state_getReadProof", []string{key.Hex()}, relayHash.Hex()); err != nil {
		return core.ParaHeadProof{}, connectionError("fetch read proof", err)
	}
	nodes := make([][]byte, len(proof.Proof))
	for i, node := range proof.Proof {
		if nodes[i], err = codec.HexDecodeString(node); err != nil {
			return core.ParaHeadProof{}, operationError("decode read proof", err)
		}
	}

	return core.ParaHeadProof{
		Head:       head,
		RelayBlock: relayBlock,
		Proof:      nodes,
	}, nil
}

// paraInfo mirrors the bridge parachains pallet's ParasInfo storage value.
type paraInfo struct {
	BestHeadHash struct {
		AtRelayBlockNumber types.U32
		HeadHash           types.Hash
	}
	NextImportedHashPosition types.U32
}

// BestParaHeadID returns this chain's view of the best parachain head. The
// bridge parachains pallet stores the best head hash in ParasInfo and the
// head itself in the ImportedParaHeads map, which gives back the head
// number.
func (c *Chain) BestParaHeadID(ctx context.Context) (core.HeaderID, error) {
	api, meta, _ := c.client()
	encodedParaID, err := codec.Encode(types.NewU32(c.config.ParaID))
	if err != nil {
		return core.HeaderID{}, operationError("encode para id", err)
	}
	key, err := types.CreateStorageKey(meta, bridgeParachainsPallet, bestParaHeadsStorageItem, encodedParaID)
	if err != nil {
		return core.HeaderID{}, operationError("build paras info storage key", err)
	}

	var info paraInfo
	ok, err := api.RPC.State.GetStorageLatest(key, &info)
	if err != nil {
		return core.HeaderID{}, connectionError("fetch best para head", err)
	}
	if !ok {
		// the pallet has not accepted any head of this parachain yet
		return core.HeaderID{}, nil
	}

	headKey, err := types.CreateStorageKey(meta, bridgeParachainsPallet, importedParaHeadsStorageItem,
		encodedParaID, info.BestHeadHash.HeadHash[:])
	if err != nil {
		return core.HeaderID{}, operationError("build imported para heads storage key", err)
	}
	var headData types.Bytes
	ok, err = api.RPC.State.GetStorageLatest(headKey, &headData)
	if err != nil {
		return core.HeaderID{}, connectionError("fetch imported para head", err)
	}
	if !ok {
		return core.HeaderID{}, operationError("fetch imported para head",
			errors.Newf("head %x is tracked but not stored", info.BestHeadHash.HeadHash))
	}
	var header types.Header
	if err := codec.Decode(headData, &header); err != nil {
		return core.HeaderID{}, operationError("decode imported para head", err)
	}
	return core.HeaderID{
		Number: uint64(header.Number),
		Hash:   core.Hash(info.BestHeadHash.HeadHash),
	}, nil
}

// SubmitParaHeadProof submits the parachain head proof to the bridge
// parachains pallet.
func (c *Chain) SubmitParaHeadProof(ctx context.Context, proof core.ParaHeadProof) (core.TransactionTracker, error) {
	api, meta, _ := c.client()
	relayHash, err := api.RPC.Chain.GetBlockHash(proof.RelayBlock)
	if err != nil {
		return nil, connectionError("fetch relay block hash", err)
	}
	atRelayBlock := struct {
		Number types.U32
		Hash   types.Hash
	}{
		Number: types.U32(proof.RelayBlock),
		Hash:   relayHash,
	}
	parachains := []struct {
		ParaID   types.U32
		HeadHash types.Hash
	}{{
		ParaID:   types.NewU32(c.config.ParaID),
		HeadHash: types.Hash(proof.Head.Hash),
	}}
	nodes := make([]types.Bytes, len(proof.Proof))
	for i, node := range proof.Proof {
		nodes[i] = node
	}

	call, err := types.NewCall(meta, submitParaHeadsCall, atRelayBlock, parachains, nodes)
	if err != nil {
		return nil, operationError("build submit parachain heads call", err)
	}
	return c.submitExtrinsic(ctx, call)
}
