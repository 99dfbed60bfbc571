package config

import (
	"encoding/hex"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v2"

	"github.com/datachainlab/substrate-bridge-relayer/chains/substrate"
	"github.com/datachainlab/substrate-bridge-relayer/core"
	"github.com/datachainlab/substrate-bridge-relayer/log"
	"github.com/datachainlab/substrate-bridge-relayer/messages"
)

type Config struct {
	Global    GlobalConfig       `yaml:"global" json:"global"`
	Chains    []substrate.Config `yaml:"chains" json:"chains"`
	Pipelines []PipelineConfig   `yaml:"pipelines" json:"pipelines"`
	Lanes     []LaneConfig       `yaml:"lanes" json:"lanes"`
}

type GlobalConfig struct {
	Timeout        string       `yaml:"timeout" json:"timeout"`
	PrometheusAddr string       `yaml:"prometheus_addr" json:"prometheus_addr"`
	Logger         LoggerConfig `yaml:"logger" json:"logger"`
}

type LoggerConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// PipelineConfig wires a source chain to a target chain for finality sync.
type PipelineConfig struct {
	Source                    string `yaml:"source" json:"source"`
	Target                    string `yaml:"target" json:"target"`
	Tick                      string `yaml:"tick" json:"tick"`
	StallTimeout              string `yaml:"stall_timeout" json:"stall_timeout"`
	OnlyMandatoryHeaders      bool   `yaml:"only_mandatory_headers" json:"only_mandatory_headers"`
	RecentFinalityProofsLimit int    `yaml:"recent_finality_proofs_limit" json:"recent_finality_proofs_limit"`
}

// LaneConfig bounds a message lane.
type LaneConfig struct {
	ID                          string `yaml:"id" json:"id"`
	MaxUnrewardedRelayerEntries int    `yaml:"max_unrewarded_relayer_entries" json:"max_unrewarded_relayer_entries"`
	MaxUnconfirmedMessages      uint64 `yaml:"max_unconfirmed_messages" json:"max_unconfirmed_messages"`
}

func DefaultConfig() Config {
	return Config{
		Global: GlobalConfig{
			Timeout: "10s",
			Logger: LoggerConfig{
				Level:  "INFO",
				Format: "json",
				Output: "stderr",
			},
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %q", path)
	}
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file %q", path)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c Config) Validate() error {
	chains := map[string]bool{}
	for _, chain := range c.Chains {
		if err := chain.Validate(); err != nil {
			return err
		}
		if chains[chain.ChainID] {
			return errors.Newf("duplicated chain id %q", chain.ChainID)
		}
		chains[chain.ChainID] = true
	}
	for _, pipeline := range c.Pipelines {
		if !chains[pipeline.Source] {
			return errors.Newf("pipeline references unknown source chain %q", pipeline.Source)
		}
		if !chains[pipeline.Target] {
			return errors.Newf("pipeline references unknown target chain %q", pipeline.Target)
		}
		if pipeline.Source == pipeline.Target {
			return errors.Newf("pipeline source and target are both %q", pipeline.Source)
		}
	}
	for _, lane := range c.Lanes {
		if _, err := lane.LaneID(); err != nil {
			return err
		}
	}
	return nil
}

// InitLogger initializes the process-wide logger from the config.
func (c Config) InitLogger() error {
	return log.InitLogger(c.Global.Logger.Level, c.Global.Logger.Format, c.Global.Logger.Output)
}

// BuildChains connects to every configured chain.
func (c Config) BuildChains() (map[string]*substrate.Chain, error) {
	chains := map[string]*substrate.Chain{}
	for _, chainConfig := range c.Chains {
		chain, err := substrate.NewChain(chainConfig)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to set up chain %q", chainConfig.ChainID)
		}
		chains[chain.ID()] = chain
	}
	return chains, nil
}

const (
	defaultTick                      = 15 * time.Second
	defaultStallTimeout              = 5 * time.Minute
	defaultRecentFinalityProofsLimit = 4096
)

// SyncParams converts the pipeline config into loop parameters, filling in
// defaults for everything left unset.
func (p PipelineConfig) SyncParams() (core.FinalitySyncParams, error) {
	params := core.FinalitySyncParams{
		Tick:                      defaultTick,
		StallTimeout:              defaultStallTimeout,
		RecentFinalityProofsLimit: defaultRecentFinalityProofsLimit,
		OnlyMandatoryHeaders:      p.OnlyMandatoryHeaders,
	}
	if p.Tick != "" {
		tick, err := time.ParseDuration(p.Tick)
		if err != nil {
			return params, errors.Wrapf(err, "invalid tick %q", p.Tick)
		}
		params.Tick = tick
	}
	if p.StallTimeout != "" {
		stallTimeout, err := time.ParseDuration(p.StallTimeout)
		if err != nil {
			return params, errors.Wrapf(err, "invalid stall timeout %q", p.StallTimeout)
		}
		params.StallTimeout = stallTimeout
	}
	if p.RecentFinalityProofsLimit > 0 {
		params.RecentFinalityProofsLimit = p.RecentFinalityProofsLimit
	}
	return params, nil
}

func hexDecode(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

// LaneID parses the configured hex lane id.
func (l LaneConfig) LaneID() (messages.LaneID, error) {
	var id messages.LaneID
	decoded, err := hexDecode(l.ID)
	if err != nil || len(decoded) != len(id) {
		return id, errors.Newf("invalid lane id %q", l.ID)
	}
	copy(id[:], decoded)
	return id, nil
}

// InboundLaneConfig converts the lane config into inbound lane limits.
func (l LaneConfig) InboundLaneConfig() messages.InboundLaneConfig {
	return messages.InboundLaneConfig{
		MaxUnrewardedRelayerEntries: l.MaxUnrewardedRelayerEntries,
		MaxUnconfirmedMessages:      messages.MessageNonce(l.MaxUnconfirmedMessages),
	}
}

// OutboundLaneConfig converts the lane config into outbound lane limits.
func (l LaneConfig) OutboundLaneConfig() messages.OutboundLaneConfig {
	return messages.OutboundLaneConfig{
		MaxUnconfirmedMessages: messages.MessageNonce(l.MaxUnconfirmedMessages),
	}
}
