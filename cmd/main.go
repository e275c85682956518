// Command bridgelog polls Bridge 4-Input load-cell boards and streams the
// readings to a CSV file, a UDP target or a ZMQ publisher while showing the
// most recent seconds in the terminal.
//
// Usage:
//
//	bridgelog run                  # sample to "<prefix> - <date>.csv"
//	bridgelog run --udp            # send doubles to the UDP target
//	bridgelog run --test           # use a simulated board
//	bridgelog listen               # print datagrams sent by run --udp
//	bridgelog boards               # list connected boards
//	bridgelog config init|show|validate
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"sleepywoodpecker/bridgelog/internal/config"
	"sleepywoodpecker/bridgelog/internal/logger"
)

// set at build time: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "bridgelog",
	Short: "Sample Bridge 4-Input load-cell boards",
	Long: `bridgelog samples every channel of the connected Bridge 4-Input boards
at a fixed rate and writes the readings to a CSV file, a UDP target or a ZMQ
publisher, while showing the most recent seconds in the terminal.

Settings come from bridgelog.yaml (searched in ., $HOME/.bridgelog and
/etc/bridgelog), BRIDGELOG_* environment variables and flags.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "bridgelog %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: search for bridgelog.yaml)")
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file and environment into v, which may already
// have flags bound, and returns the validated result.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	if err := config.Setup(v, configPath); err != nil {
		return nil, err
	}
	return config.Load(v)
}

func newLogger(cfg *config.Config, console bool) (*zap.Logger, error) {
	return logger.NewLogger(logger.Options{
		FilePath:   cfg.Log.File,
		Level:      cfg.Log.Level,
		Console:    console,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func main() {
	Execute()
}
