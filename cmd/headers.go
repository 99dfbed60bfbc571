package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/datachainlab/substrate-bridge-relayer/chains/substrate"
	"github.com/datachainlab/substrate-bridge-relayer/core"
)

func headersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "headers",
		Short: "Finality Header Relay Commands",
		RunE:  noCommand,
	}
	cmd.AddCommand(
		headersRelayCmd(),
		headersEnsureCmd(),
	)
	return cmd
}

func pipelineBetween(source, target string) (core.FinalityPipeline, *substrate.Chain, *substrate.Chain, core.FinalitySyncParams, error) {
	pipeline := core.FinalityPipeline{SourceName: source, TargetName: target}
	for _, pipelineConfig := range cfg.Pipelines {
		if pipelineConfig.Source != source || pipelineConfig.Target != target {
			continue
		}
		params, err := pipelineConfig.SyncParams()
		if err != nil {
			return pipeline, nil, nil, params, err
		}
		chains, err := cfg.BuildChains()
		if err != nil {
			return pipeline, nil, nil, params, err
		}
		return pipeline, chains[source], chains[target], params, nil
	}
	return pipeline, nil, nil, core.FinalitySyncParams{}, fmt.Errorf("no pipeline configured between %q and %q", source, target)
}

func headersRelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay [source-chain-id] [target-chain-id]",
		Short: "Continuously relays finality proofs of a single pipeline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipeline, source, target, params, err := pipelineBetween(args[0], args[1])
			if err != nil {
				return err
			}
			if viper.GetBool(flagOnlyMandatoryHeaders) {
				params.OnlyMandatoryHeaders = true
			}
			syncMetrics, err := core.NewSyncLoopMetrics(pipeline.SourceName, pipeline.TargetName)
			if err != nil {
				return err
			}
			return core.RunFinalityLoop(cmd.Context(), pipeline, source, target, params, syncMetrics)
		},
	}
	return onlyMandatoryHeadersFlag(cmd)
}

func headersEnsureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ensure [source-chain-id] [target-chain-id] [header-number]",
		Short: "Relays headers until the target knows the given finalized source header",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := strconv.ParseUint(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid header number %q: %v", args[2], err)
			}
			pipeline, source, target, params, err := pipelineBetween(args[0], args[1])
			if err != nil {
				return err
			}
			timeout, err := time.ParseDuration(viper.GetString(flagTimeout))
			if err != nil {
				return fmt.Errorf("invalid timeout: %v", err)
			}
			syncMetrics, err := core.NewSyncLoopMetrics(pipeline.SourceName, pipeline.TargetName)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			relay := core.NewOnDemandHeadersRelay(pipeline, source, target, params, syncMetrics)
			eg, ctx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				return relay.Run(ctx)
			})
			eg.Go(func() error {
				defer cancel()
				return relay.EnsureHeaderAvailable(ctx, number)
			})
			return eg.Wait()
		},
	}
	return timeoutFlag(cmd)
}
