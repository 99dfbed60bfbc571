package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/datachainlab/substrate-bridge-relayer/core"
	"github.com/datachainlab/substrate-bridge-relayer/metrics"
)

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Relay Service Commands",
		Long:  "Commands to manage the relay service",
		RunE:  noCommand,
	}
	cmd.AddCommand(
		startCmd(),
	)
	return cmd
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Starts the finality sync loops of every configured pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			promAddr := viper.GetString(flagPrometheusAddr)
			if promAddr == "" {
				promAddr = cfg.Global.PrometheusAddr
			}
			if promAddr != "" {
				if err := metrics.ShutdownMetrics(cmd.Context()); err != nil {
					return fmt.Errorf("failed to shutdown the metrics subsystem with null exporter: %v", err)
				}
				if err := metrics.InitializeMetrics(metrics.ExporterProm{Addr: promAddr}); err != nil {
					return fmt.Errorf("failed to re-initialize the metrics subsystem with prometheus exporter: %v", err)
				}
			}

			if len(cfg.Pipelines) == 0 {
				return fmt.Errorf("no pipelines configured")
			}
			chains, err := cfg.BuildChains()
			if err != nil {
				return err
			}

			eg, ctx := errgroup.WithContext(cmd.Context())
			for _, pipelineConfig := range cfg.Pipelines {
				params, err := pipelineConfig.SyncParams()
				if err != nil {
					return err
				}
				pipeline := core.FinalityPipeline{
					SourceName: pipelineConfig.Source,
					TargetName: pipelineConfig.Target,
				}
				syncMetrics, err := core.NewSyncLoopMetrics(pipeline.SourceName, pipeline.TargetName)
				if err != nil {
					return err
				}
				source := chains[pipelineConfig.Source]
				target := chains[pipelineConfig.Target]
				eg.Go(func() error {
					return core.RunFinalityLoop(ctx, pipeline, source, target, params, syncMetrics)
				})
			}
			return eg.Wait()
		},
	}
	return prometheusAddrFlag(cmd)
}
