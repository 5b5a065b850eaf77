package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/mirkobrombin/go-warden/v1/config"
	warderrors "github.com/mirkobrombin/go-warden/v1/errors"
	"github.com/mirkobrombin/go-warden/v1/logging"
	"github.com/mirkobrombin/go-warden/v1/metrics"
	"github.com/mirkobrombin/go-warden/v1/presets"
)

// app holds what PersistentPreRunE built for the running command.
var app struct {
	cfg      config.Config
	stack    *presets.Stack
	shutdown func(context.Context) error
	registry *prometheus.Registry
}

func newRegistry() *prometheus.Registry {
	reg := metrics.NewRegistry()
	metrics.RegisterMetrics(reg)
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

var rootCmd = &cobra.Command{
	Use:           "warden",
	Short:         "Account and single-session management backed by distributed locks",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var files []string
		if f, _ := cmd.Flags().GetString("env-file"); f != "" {
			files = append(files, f)
		}
		cfg, err := config.Load(files...)
		if err != nil {
			return err
		}
		level, err := logging.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		log := logging.New(level)
		app.registry = newRegistry()

		if trace, _ := cmd.Flags().GetBool("trace"); trace || cfg.TraceStdout {
			shutdown, err := setupTracing()
			if err != nil {
				return err
			}
			app.shutdown = shutdown
		}

		st, err := presets.New(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		app.cfg, app.stack = cfg, st
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return teardown(cmd.Context())
	},
}

func teardown(ctx context.Context) error {
	var errs []error
	if app.stack != nil {
		errs = append(errs, app.stack.Close())
		app.stack = nil
	}
	if app.shutdown != nil {
		errs = append(errs, app.shutdown(context.WithoutCancel(ctx)))
		app.shutdown = nil
	}
	return errors.Join(errs...)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx := context.Background()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		_ = teardown(ctx)
		if code := warderrors.CodeOf(err); code != "" {
			fmt.Fprintf(os.Stderr, "error [%s]: %v\n", code, err)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("env-file", "", "dotenv file to load before reading WARDEN_* variables")
	rootCmd.PersistentFlags().Bool("trace", false, "print OpenTelemetry spans to stdout")
}
