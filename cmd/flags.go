package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagHome  = "home"
	flagDebug = "debug"

	flagPrometheusAddr       = "prometheus-addr"
	flagOnlyMandatoryHeaders = "only-mandatory-headers"
	flagTimeout              = "timeout"
)

func prometheusAddrFlag(cmd *cobra.Command) *cobra.Command {
	cmd.Flags().String(flagPrometheusAddr, "", "host address to which the prometheus exporter listens")
	if err := viper.BindPFlag(flagPrometheusAddr, cmd.Flags().Lookup(flagPrometheusAddr)); err != nil {
		panic(err)
	}
	return cmd
}

func onlyMandatoryHeadersFlag(cmd *cobra.Command) *cobra.Command {
	cmd.Flags().Bool(flagOnlyMandatoryHeaders, false, "relay only headers that enact authority set changes")
	if err := viper.BindPFlag(flagOnlyMandatoryHeaders, cmd.Flags().Lookup(flagOnlyMandatoryHeaders)); err != nil {
		panic(err)
	}
	return cmd
}

func timeoutFlag(cmd *cobra.Command) *cobra.Command {
	cmd.Flags().StringP(flagTimeout, "o", "10m", "time limit for the command to complete")
	if err := viper.BindPFlag(flagTimeout, cmd.Flags().Lookup(flagTimeout)); err != nil {
		panic(err)
	}
	return cmd
}
