package substrate

import (
	"context"
	"encoding/binary"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/cockroachdb/errors"

	"github.com/datachainlab/substrate-bridge-relayer/core"
	"github.com/datachainlab/substrate-bridge-relayer/log"
)

// grandpaEngineID is the "FRNK" consensus engine id as a little-endian u32.
const grandpaEngineID = types.ConsensusEngineID(0x4b4e5246)

const (
	scheduledChangeLogIndex = 1
	forcedChangeLogIndex    = 2
)

// Header is a finalized source chain header as seen by the sync loop.
type Header struct {
	raw       types.Header
	hash      types.Hash
	mandatory bool
}

func newHeader(raw types.Header, hash types.Hash) *Header {
	return &Header{raw: raw, hash: hash, mandatory: enactsAuthoritySetChange(raw.Digest)}
}

func (h *Header) Hash() core.Hash {
	return core.Hash(h.hash)
}

func (h *Header) Number() uint64 {
	return uint64(h.raw.Number)
}

// IsMandatory reports whether the header enacts a GRANDPA authority set
// change. Such headers must be submitted to the target chain, otherwise it
// cannot verify justifications produced by the new authority set.
func (h *Header) IsMandatory() bool {
	return h.mandatory
}

// enactsAuthoritySetChange scans the digest for a GRANDPA scheduled or
// forced authority set change log.
func enactsAuthoritySetChange(digest types.Digest) bool {
	for _, item := range digest {
		if !item.IsConsensus || item.AsConsensus.ConsensusEngineID != grandpaEngineID {
			continue
		}
		payload := item.AsConsensus.Bytes
		if len(payload) == 0 {
			continue
		}
		if payload[0] == scheduledChangeLogIndex || payload[0] == forcedChangeLogIndex {
			return true
		}
	}
	return false
}

// Justification is a raw GRANDPA justification together with the number of
// the header it finalizes. The justification bytes stay opaque; they are
// verified by the target chain.
type Justification struct {
	targetNumber uint64
	raw          []byte
}

func (j *Justification) TargetHeaderNumber() uint64 {
	return j.targetNumber
}

func (j *Justification) Bytes() []byte {
	return j.raw
}

// justificationTargetOffset is where the target block number sits in a
// SCALE-encoded GRANDPA justification: after the u64 round and the 32-byte
// commit target hash.
const justificationTargetOffset = 8 + 32

func decodeJustification(raw []byte) (*Justification, error) {
	if len(raw) < justificationTargetOffset+4 {
		return nil, errors.Newf("justification of %d bytes is too short", len(raw))
	}
	target := binary.LittleEndian.Uint32(raw[justificationTargetOffset:])
	return &Justification{targetNumber: uint64(target), raw: raw}, nil
}

// BestFinalizedBlockNumber returns the number of the chain's best finalized
// block.
func (c *Chain) BestFinalizedBlockNumber(ctx context.Context) (uint64, error) {
	api, _, _ := c.client()
	hash, err := api.RPC.Chain.GetFinalizedHead()
	if err != nil {
		return 0, connectionError("fetch finalized head", err)
	}
	header, err := api.RPC.Chain.GetHeader(hash)
	if err != nil {
		return 0, connectionError("fetch finalized header", err)
	}
	return uint64(header.Number), nil
}

// HeaderAndFinalityProof returns the finalized header with the given number
// together with a GRANDPA justification for it, if the chain can produce
// one. Most headers have no persistent justification; only those at
// authority set boundaries (and the occasional header the node still holds a
// justification for) do.
func (c *Chain) HeaderAndFinalityProof(ctx context.Context, number uint64) (core.SourceHeader, core.FinalityProof, error) {
	api, _, _ := c.client()
	hash, err := api.RPC.Chain.GetBlockHash(number)
	if err != nil {
		return nil, nil, connectionError("fetch block hash", err)
	}
	rawHeader, err := api.RPC.Chain.GetHeader(hash)
	if err != nil {
		return nil, nil, connectionError("fetch header", err)
	}
	header := newHeader(*rawHeader, hash)

	var encodedProof *string
	if err := api.Client.Call(&encodedProof, "grandpa_proveFinality", number); err != nil {
		return nil, nil, connectionError("prove finality", err)
	}
	if encodedProof == nil {
		return header, nil, nil
	}
	raw, err := codec.HexDecodeString(*encodedProof)
	if err != nil {
		return nil, nil, operationError("decode finality proof", err)
	}
	// the returned proof is an envelope: justified block hash, then the
	// SCALE-encoded justification
	if len(raw) <= 32 {
		return nil, nil, operationError("decode finality proof", errors.Newf("proof of %d bytes is too short", len(raw)))
	}
	proof := &Justification{targetNumber: header.Number(), raw: raw}
	return header, proof, nil
}

// FinalityProofs subscribes to the node's stream of GRANDPA justifications.
// The returned channel is closed when the subscription ends for any reason;
// the sync loop resubscribes on its own.
func (c *Chain) FinalityProofs(ctx context.Context) (<-chan core.FinalityProof, error) {
	api, _, _ := c.client()
	logger := log.GetLogger().WithChain(c.config.ChainID)

	justifications := make(chan string)
	sub, err := api.Client.Subscribe(
		ctx, "grandpa",
		"subscribeJustifications", "unsubscribeJustifications", "justifications",
		justifications,
	)
	if err != nil {
		return nil, connectionError("subscribe to justifications", err)
	}

	out := make(chan core.FinalityProof)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.Err():
				if err != nil {
					logger.Error("justifications subscription failed", err)
				}
				return
			case encoded, ok := <-justifications:
				if !ok {
					return
				}
				raw, err := codec.HexDecodeString(encoded)
				if err != nil {
					logger.Error("failed to decode justification", err)
					continue
				}
				proof, err := decodeJustification(raw)
				if err != nil {
					logger.Error("failed to decode justification", err)
					continue
				}
				select {
				case <-ctx.Done():
					return
				case out <- proof:
				}
			}
		}
	}()
	return out, nil
}
