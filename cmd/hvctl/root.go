package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/banshee-data/objverify/internal/config"
	"github.com/banshee-data/objverify/internal/monitoring"
	"github.com/banshee-data/objverify/internal/version"
)

var (
	configPath string
	verbose    bool
	trace      bool

	// tuning is loaded once before any subcommand runs.
	tuning *config.VerifyConfig
)

var rootCmd = &cobra.Command{
	Use:           "hvctl",
	Short:         "Verify 3D object hypotheses against a scene",
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		w := monitoring.LogWriters{Ops: os.Stderr}
		if verbose {
			w.Diag = os.Stderr
		}
		if trace {
			w.Trace = os.Stderr
		}
		monitoring.SetLogWriters(w)

		if configPath == "" {
			tuning = config.DefaultVerifyConfig()
			return nil
		}
		var err error
		tuning, err = config.LoadVerifyConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "tuning file (.json, .yaml or .yml); defaults are built in")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log per-hypothesis diagnostics")
	rootCmd.PersistentFlags().BoolVar(&trace, "trace", false, "log every search move")
}
