package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/grandlibs/internal"
	"github.com/starford/grandlibs/internal/apperr"
	pkgconfig "github.com/starford/grandlibs/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if _, err := pkgconfig.LoadOrDefault(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// cliLogger writes human-readable logs to stderr so stdout stays clean for
// results.
func cliLogger(cfg *internal.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.App.LogLevel}))
}

// withStack opens the install tree for a one-shot command.
func withStack(ctx context.Context, cmd *cli.Command, fn func(context.Context, *internal.Stack) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := internal.Open(cfg, cliLogger(cfg), nil)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, st)
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, internal.WithConfig(cfg))
}

// exitCode tells scripts apart bad input (2), a broken environment (3) and
// a binding bug (4).
func exitCode(err error) int {
	switch apperr.ClassOf(err) {
	case apperr.ClassInput:
		return 2
	case apperr.ClassEnvironment:
		return 3
	case apperr.ClassBug:
		return 4
	default:
		return 1
	}
}

func main() {
	cmd := &cli.Command{
		Name:  "grandlibs",
		Usage: "Provision the TURTLE and GULL native libraries and query them",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("GRANDLIBS_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			installCommand(),
			statusCommand(),
			historyCommand(),
			ecefCommand(),
			fieldCommand(),
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Run the MCP server on stdin/stdout",
				Action: serveMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		var nce *apperr.NativeCallError
		if errors.As(err, &nce) {
			slog.Error("native call failed", slog.String("function", nce.Function), slog.String("code", nce.Name))
		}
		os.Exit(exitCode(err))
	}
}
