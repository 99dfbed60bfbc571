package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/datachainlab/substrate-bridge-relayer/messages"
)

const testConfigYAML = `
global:
  timeout: 20s
  prometheus_addr: 127.0.0.1:2112
  logger:
    level: DEBUG
    format: text
    output: stdout
chains:
  - chain_id: millau
    rpc_addr: ws://127.0.0.1:9944
    network: 42
  - chain_id: rialto
    rpc_addr: ws://127.0.0.1:9945
    signer_key: //Alice
    network: 48
pipelines:
  - source: millau
    target: rialto
    tick: 5s
    stall_timeout: 2m
    only_mandatory_headers: true
lanes:
  - id: "0x00000001"
    max_unrewarded_relayer_entries: 16
    max_unconfirmed_messages: 1024
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	config, err := LoadConfig(writeTestConfig(t, testConfigYAML))
	require.NoError(t, err)

	require.Equal(t, "20s", config.Global.Timeout)
	require.Equal(t, "127.0.0.1:2112", config.Global.PrometheusAddr)
	require.Equal(t, "DEBUG", config.Global.Logger.Level)
	require.Len(t, config.Chains, 2)
	require.Equal(t, uint16(42), config.Chains[0].Network)
	require.Equal(t, "//Alice", config.Chains[1].SignerKey)

	require.Len(t, config.Pipelines, 1)
	params, err := config.Pipelines[0].SyncParams()
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, params.Tick)
	require.Equal(t, 2*time.Minute, params.StallTimeout)
	require.True(t, params.OnlyMandatoryHeaders)
	require.Equal(t, defaultRecentFinalityProofsLimit, params.RecentFinalityProofsLimit)

	require.Len(t, config.Lanes, 1)
	laneID, err := config.Lanes[0].LaneID()
	require.NoError(t, err)
	require.Equal(t, messages.LaneID{0, 0, 0, 1}, laneID)
	require.Equal(t, 16, config.Lanes[0].InboundLaneConfig().MaxUnrewardedRelayerEntries)
	require.Equal(t, messages.MessageNonce(1024), config.Lanes[0].OutboundLaneConfig().MaxUnconfirmedMessages)
}

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig(writeTestConfig(t, "{}\n"))
	require.NoError(t, err)
	require.Equal(t, "10s", config.Global.Timeout)
	require.Equal(t, "INFO", config.Global.Logger.Level)
	require.Equal(t, "json", config.Global.Logger.Format)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		config, err := LoadConfig(writeTestConfig(t, testConfigYAML))
		require.NoError(t, err)
		return *config
	}

	t.Run("unknown pipeline chain", func(t *testing.T) {
		config := base()
		config.Pipelines[0].Target = "westend"
		require.Error(t, config.Validate())
	})

	t.Run("self pipeline", func(t *testing.T) {
		config := base()
		config.Pipelines[0].Target = "millau"
		require.Error(t, config.Validate())
	})

	t.Run("duplicated chain id", func(t *testing.T) {
		config := base()
		config.Chains[1].ChainID = "millau"
		require.Error(t, config.Validate())
	})

	t.Run("missing rpc addr", func(t *testing.T) {
		config := base()
		config.Chains[0].RPCAddr = ""
		require.Error(t, config.Validate())
	})

	t.Run("bad lane id", func(t *testing.T) {
		config := base()
		config.Lanes[0].ID = "0x0001"
		require.Error(t, config.Validate())
	})
}

func TestPipelineConfigBadDurations(t *testing.T) {
	_, err := PipelineConfig{Tick: "soon"}.SyncParams()
	require.Error(t, err)
	_, err = PipelineConfig{StallTimeout: "later"}.SyncParams()
	require.Error(t, err)
}
