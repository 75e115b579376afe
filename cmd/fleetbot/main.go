package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"fleetbot/internal/logging"
)

// errExecutionFailed makes `run` exit non-zero without printing twice.
var errExecutionFailed = errors.New("execution failed")

type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func (g *globalFlags) logger(cmd *cobra.Command) zerolog.Logger {
	return logging.New(logging.Options{Out: cmd.ErrOrStderr(), Level: g.logLevel, Format: g.logFormat})
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "fleetbot",
		Short:         "Chat bot that runs update scripts on remote machine fleets over SSH",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/fleetbot/config.toml)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "trace|debug|info|warn|error|off (env "+logging.EnvLogLevel+")")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "console|json (env "+logging.EnvLogFormat+")")

	root.AddCommand(
		newServeCmd(g),
		newCheckCmd(g),
		newRunCmd(g),
		newInitCmd(g),
		newHashTokenCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errExecutionFailed) {
			fmt.Fprintln(os.Stderr, "fleetbot:", err)
		}
		os.Exit(1)
	}
}
