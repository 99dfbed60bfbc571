package substrate

import (
	"context"
	"sync"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/cockroachdb/errors"

	"github.com/datachainlab/substrate-bridge-relayer/log"
	"github.com/datachainlab/substrate-bridge-relayer/signer"
)

// Config is the per-chain configuration of a Substrate client.
type Config struct {
	// ChainID names the chain in logs and metrics.
	ChainID string `yaml:"chain_id" json:"chain_id"`
	// RPCAddr is the websocket endpoint of the chain node.
	RPCAddr string `yaml:"rpc_addr" json:"rpc_addr"`
	// SignerKey is the secret URI of the transaction signing account.
	SignerKey string `yaml:"signer_key" json:"signer_key"`
	// Network is the SS58 address format of the chain.
	Network uint16 `yaml:"network" json:"network"`
	// ParaID is set when the chain is a parachain tracked through a relay
	// chain.
	ParaID uint32 `yaml:"para_id" json:"para_id"`
}

func (c Config) Validate() error {
	if c.ChainID == "" {
		return errors.New("config attribute \"chain_id\" is empty")
	}
	if c.RPCAddr == "" {
		return errors.New("config attribute \"rpc_addr\" is empty")
	}
	return nil
}

// Chain is a client of a single Substrate chain. It serves as the source of
// one finality pipeline and the target of another, so both client role
// methods hang off the same type.
type Chain struct {
	config Config

	mu          sync.RWMutex
	api         *gsrpc.SubstrateAPI
	meta        *types.Metadata
	genesisHash types.Hash

	signer     *signer.KeyringSigner
	submitLock *signer.SubmitLock
}

func NewChain(config Config) (*Chain, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	chain := &Chain{
		config:     config,
		submitLock: &signer.SubmitLock{},
	}
	if config.SignerKey != "" {
		keyringSigner, err := signer.NewKeyringSigner(config.SignerKey, config.Network)
		if err != nil {
			return nil, err
		}
		chain.signer = keyringSigner
	}
	if err := chain.connect(); err != nil {
		return nil, err
	}
	return chain, nil
}

func (c *Chain) ID() string {
	return c.config.ChainID
}

func (c *Chain) connect() error {
	api, err := gsrpc.NewSubstrateAPI(c.config.RPCAddr)
	if err != nil {
		return connectionError("connect to "+c.config.RPCAddr, err)
	}
	meta, err := api.RPC.State.GetMetadataLatest()
	if err != nil {
		return connectionError("fetch metadata", err)
	}
	genesisHash, err := api.RPC.Chain.GetBlockHash(0)
	if err != nil {
		return connectionError("fetch genesis hash", err)
	}

	c.mu.Lock()
	c.api = api
	c.meta = meta
	c.genesisHash = genesisHash
	c.mu.Unlock()
	return nil
}

// Reconnect rebuilds the RPC connection after a transport failure.
func (c *Chain) Reconnect(ctx context.Context) error {
	log.GetLogger().WithChain(c.config.ChainID).Info("reconnecting", "rpc_addr", c.config.RPCAddr)
	return c.connect()
}

func (c *Chain) client() (*gsrpc.SubstrateAPI, *types.Metadata, types.Hash) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.api, c.meta, c.genesisHash
}

// submitExtrinsic signs and submits a call, returning a tracker of the
// submission. Submissions are serialized per chain so that account nonces
// are consumed in order.
func (c *Chain) submitExtrinsic(ctx context.Context, call types.Call) (*TransactionTracker, error) {
	if c.signer == nil {
		return nil, operationError("submit extrinsic", errors.New("no signer key configured"))
	}
	api, meta, genesisHash := c.client()

	var tracker *TransactionTracker
	err := c.submitLock.WithLock(ctx, func() error {
		rv, err := api.RPC.State.GetRuntimeVersionLatest()
		if err != nil {
			return connectionError("fetch runtime version", err)
		}

		key, err := types.CreateStorageKey(meta, "System", "Account", c.signer.PublicKey())
		if err != nil {
			return operationError("build account storage key", err)
		}
		var accountInfo types.AccountInfo
		ok, err := api.RPC.State.GetStorageLatest(key, &accountInfo)
		if err != nil {
			return connectionError("fetch account info", err)
		}
		if !ok {
			return operationError("fetch account info", errors.New("signing account does not exist"))
		}

		ext := types.NewExtrinsic(call)
		opts := types.SignatureOptions{
			BlockHash:          genesisHash,
			Era:                types.ExtrinsicEra{IsImmortalEra: true},
			GenesisHash:        genesisHash,
			Nonce:              types.NewUCompactFromUInt(uint64(accountInfo.Nonce)),
			SpecVersion:        rv.SpecVersion,
			Tip:                types.NewUCompactFromUInt(0),
			TransactionVersion: rv.TransactionVersion,
		}
		if err := ext.Sign(c.signer.Keyring(), opts); err != nil {
			return operationError("sign extrinsic", err)
		}

		sub, err := api.RPC.Author.SubmitAndWatchExtrinsic(ext)
		if err != nil {
			return connectionError("submit extrinsic", err)
		}
		tracker = NewTransactionTracker(c.config.ChainID, sub)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tracker, nil
}
