package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/snietofennis/BEP-code/internal/config"
	"github.com/snietofennis/BEP-code/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "spice",
	Short: "Transient solver for circuit-analogy balance sheet models",
	Long: `spice integrates netlists of R, L, C, sources and behavioral B elements
through time. Balance sheet items are currents, flows are their derivatives.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("log-level", config.DefaultLogLevel, "Log level: debug, info, warn, error")
	pf.String("config", "", "YAML run file")

	_ = viper.BindPFlag("log_level", pf.Lookup("log-level"))
	_ = viper.BindPFlag("config", pf.Lookup("config"))
	viper.SetEnvPrefix("BEP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadRunConfig reads the run file named by --config or BEP_CONFIG. The bool
// reports whether a file was read.
func loadRunConfig() (*config.Config, bool, error) {
	path := viper.GetString("config")
	if path == "" {
		cfg := config.DefaultConfig()
		cfg.LogLevel = viper.GetString("log_level")
		return cfg, false, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, false, err
	}
	if rootCmd.PersistentFlags().Changed("log-level") || os.Getenv("BEP_LOG_LEVEL") != "" {
		cfg.LogLevel = viper.GetString("log_level")
	}
	return cfg, true, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.New(logging.ParseLevel(cfg.LogLevel))
}
