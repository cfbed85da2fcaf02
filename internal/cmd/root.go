package cmd

import (
	"context"

	cmdconfig "github.com/Iron-Ham/logfunnel/internal/cmd/config"
	"github.com/Iron-Ham/logfunnel/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "logfunnel",
	Short: "Multi-process log aggregation through a single listener",
	Long: `Logfunnel runs a set of producer processes that log through a shared
aggregation queue. A single listener process owns every real output handler
and writes one consistent, ordered log file.`,
	SilenceUsage: true,
}

// Execute runs the root command. Cancelling ctx (SIGINT/SIGTERM) shuts the
// running role down.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/logfunnel/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	cmdconfig.Register(rootCmd)
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()
	// LOGFUNNEL_SINK_DIR for sink.dir, LOGFUNNEL_CONFIG for --config
	config.BindEnv()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/logfunnel")
		viper.AddConfigPath(".")
	}

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
