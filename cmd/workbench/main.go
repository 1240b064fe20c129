package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/workbench"
	"github.com/ashita-ai/workbench/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

// command is one subcommand. args excludes the subcommand name.
type command struct {
	summary string
	run     func(ctx context.Context, c *workbench.Client, args []string) error
}

var commands = map[string]command{
	"invoke":    {"run an action and print its outcome", cmdInvoke},
	"start":     {"run an action in the background and wait for its notification", cmdStart},
	"status":    {"print a run's current status", cmdStatus},
	"wait":      {"wait for a run to finish", cmdWait},
	"artifacts": {"list or fetch artifacts", cmdArtifacts},
	"list":      {"page through an entity listing", cmdList},
	"upload":    {"upload a file to the object store", cmdUpload},
	"import":    {"upload a CSV file and run an import action on it", cmdImport},
	"events":    {"follow a run's event stream", cmdEvents},
	"input":     {"submit input to a run waiting for it", cmdInput},
	"cancel":    {"cancel a run", cmdCancel},
	"retry":     {"retry a failed run", cmdRetry},
	"pending":   {"list runs that never settled", cmdPending},
	"reattach":  {"resume watching every unsettled run", cmdReattach},
	"policy":    {"print the agent policy prompt", cmdPolicy},
	"mcp":       {"serve the workbench tools over MCP stdio", cmdMCP},
}

func main() {
	os.Exit(run0())
}

func run0() int {
	// Load .env file if present (non-fatal).
	_ = godotenv.Load()

	if len(os.Args) < 2 || os.Args[1] == "help" || os.Args[1] == "-h" || os.Args[1] == "--help" {
		usage()
		return 2
	}
	name := os.Args[1]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "workbench: unknown command %q\n\n", name)
		usage()
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "workbench: load config: %v\n", err)
		return 1
	}

	// Logs go to stderr so stdout stays clean for results and MCP frames.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger, cmd, os.Args[2:]); err != nil {
		var werr *workbench.Error
		if errors.As(err, &werr) {
			slog.Error("command failed", "command", name, "kind", werr.Kind, "status", werr.StatusCode, "error", err)
		} else {
			slog.Error("command failed", "command", name, "error", err)
		}
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, cmd command, args []string) error {
	client, err := workbench.New(ctx,
		workbench.WithConfig(cfg),
		workbench.WithLogger(logger),
		workbench.WithVersion(version),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("close client", "error", err)
		}
	}()
	return cmd.run(ctx, client, args)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: workbench <command> [flags]\n\ncommands:\n")
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", n, commands[n].summary)
	}
	fmt.Fprintf(os.Stderr, "\nconfiguration is read from WORKBENCH_* environment variables and .env\n")
}
