// Package cmd defines and implements the CLI commands for the research executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/web-research-pipeline/internal/config"
	"github.com/JakeFAU/web-research-pipeline/internal/credentials"
	"github.com/JakeFAU/web-research-pipeline/internal/pipeline"
	"github.com/JakeFAU/web-research-pipeline/internal/server"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the application surface commands use. Tests substitute a fake.
type App interface {
	Research(ctx context.Context, req pipeline.Request) (pipeline.Report, error)
	Serve(ctx context.Context) error
	Credentials() *credentials.Pool
	Logger() *zap.Logger
	Close(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, path string) (App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app, err := server.Build(ctx, &cfg)
	if err != nil {
		return nil, fmt.Errorf("build application: %w", err)
	}
	return app, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "research",
		Short: "Resilient web research pipeline.",
		Long: `research fans a query out to several search providers, extracts and
validates the content of every result, explores deep links of the best
documents, ranks viral media and captures screenshots of it, and publishes
the ranked records downstream.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newCredentialsCmd())
	return cmd
}

// withApp resolves the App built by the root command and closes it once fn
// returns, whether or not fn failed.
func withApp(cmd *cobra.Command, fn func(App) error) (err error) {
	appInstance, ok := cmd.Context().Value(appKey).(App)
	if !ok || appInstance == nil {
		return errors.New("application not initialized")
	}
	defer func() {
		if cerr := appInstance.Close(context.WithoutCancel(cmd.Context())); cerr != nil && err == nil {
			err = fmt.Errorf("close application: %w", cerr)
		}
	}()
	return fn(appInstance)
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
