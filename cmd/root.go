package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/datachainlab/substrate-bridge-relayer/config"
	"github.com/datachainlab/substrate-bridge-relayer/metrics"
)

var (
	homePath string
	debug    bool

	cfg config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "subrelay",
	Short: "This application relays finality proofs and messages between configured Substrate chains",
}

func init() {
	cobra.EnableCommandSorting = false

	rootCmd.SilenceUsage = true

	rootCmd.PersistentFlags().StringVar(&homePath, flagHome, defaultHome(), "set home directory")
	rootCmd.PersistentFlags().BoolVarP(&debug, flagDebug, "d", false, "debug output")

	rootCmd.AddCommand(
		configCmd(),
		serviceCmd(),
		headersCmd(),
	)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		// reads `homeDir/config/config.yaml` before each command
		return initConfig(cmd)
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".subrelay"
	}
	return filepath.Join(home, ".subrelay")
}

func configPath() string {
	return filepath.Join(homePath, "config", "config.yaml")
}

func initConfig(cmd *cobra.Command) error {
	if _, err := os.Stat(configPath()); err == nil {
		loaded, err := config.LoadConfig(configPath())
		if err != nil {
			return err
		}
		cfg = *loaded
	} else {
		cfg = config.DefaultConfig()
	}
	if debug {
		cfg.Global.Logger.Level = "DEBUG"
	}
	if err := cfg.InitLogger(); err != nil {
		return err
	}
	return metrics.InitializeMetrics(metrics.ExporterNull{})
}
