package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"relayd/internal/app"
)

type rootOptions struct {
	configPath string
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	root := newRootCmd(logger)
	if err := root.Execute(); err != nil {
		logger.Fatal("command failed", zap.Error(err))
	}
}

func newRootCmd(logger *zap.Logger) *cobra.Command {
	opts := rootOptions{
		configPath: "relayd.yaml",
	}

	root := &cobra.Command{
		Use:   "relayd",
		Short: "Multi-server tool aggregator with AI workflow synthesis",
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", opts.configPath, "path to config file")

	root.AddCommand(
		newServeCmd(logger, &opts),
		newValidateCmd(logger, &opts),
		newGenerateCmd(logger, &opts),
	)

	return root
}

func newServeCmd(logger *zap.Logger, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect configured servers and serve the merged tool catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			application := app.New(logger)
			return application.Serve(ctx, app.ServeConfig{
				ConfigPath: opts.configPath,
			})
		},
	}
}

func newValidateCmd(logger *zap.Logger, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration without connecting to servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			application := app.New(logger)
			return application.ValidateConfig(cmd.Context(), app.ValidateConfig{
				ConfigPath: opts.configPath,
			})
		},
	}
}

func newGenerateCmd(logger *zap.Logger, opts *rootOptions) *cobra.Command {
	var intent string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Synthesize a workflow for an intent and submit it for validation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			application := app.New(logger)
			artifact, err := application.Generate(ctx, app.GenerateConfig{
				ConfigPath: opts.configPath,
				Intent:     intent,
			})
			if err != nil {
				return err
			}

			payload, err := json.MarshalIndent(artifact.Workflow, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(payload))
			return nil
		},
	}

	cmd.Flags().StringVar(&intent, "intent", "", "natural-language description of the workflow to build")
	if err := cmd.MarkFlagRequired("intent"); err != nil {
		panic(err)
	}
	return cmd
}

func signalAwareContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
