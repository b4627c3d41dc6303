// railflow-edge runs the wagon correlation engine and its diagnostics.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ghalamif/RailFlow"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

var cfgPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "railflow-edge",
	Short: "RailFlow wagon correlation engine",
	Long: `railflow-edge tracks wagons passing the inspection portal: it opens a
session per wagon from the number camera, attaches acoustic peaks and wheel
reports to it, and hands complete records to the display feed.`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:     "run",
	Short:   "Start the runtime using the provided config",
	Example: `  railflow-edge run --config ./data/config.yaml`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		flow, err := railflow.Conf(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := flow.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("runtime exited: %w", err)
		}
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate a config file without starting the runtime",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := railflow.LoadConfig(cfgPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config %s looks good (store=%s, shm=%t, nats=%t, mqtt=%t, opcua=%t)\n",
			cfgPath, cfg.Store.Driver, cfg.SHM.Enabled, cfg.NATS.Enabled, cfg.Feed.MQTT.Enabled, cfg.OPCUA.Endpoint != "")
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{runCmd, validateCmd} {
		c.Flags().StringVarP(&cfgPath, "config", "c", "./data/config.yaml", "Path to configuration file")
	}
	rootCmd.AddCommand(runCmd, validateCmd, statsCmd, shmCmd)
}
