// Package main provides the langsplit command line tool. It segments one
// recording synchronously and prints the resulting tree.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/maauso/langsplit/internal/bootstrap"
	"github.com/maauso/langsplit/internal/cli"
	"github.com/maauso/langsplit/internal/config"
	"github.com/maauso/langsplit/internal/job"
)

var version = "0.1.0"

const description = "Split a recording on silences until each segment has a clear language."

// CLI defines the command-line interface. Everything not exposed here comes
// from the same environment variables as the server.
type CLI struct {
	Version  bool   `short:"v" help:"Show version information"`
	File     string `arg:"" optional:"" type:"existingfile" help:"Recording to segment (WAV, or anything ffmpeg decodes)"`
	Name     string `short:"n" help:"Key the segment tree is persisted under (defaults to the file name)"`
	Refresh  bool   `short:"r" help:"Ignore any persisted segment tree"`
	JSON     bool   `help:"Print the job as JSON instead of a tree"`
	LogLevel string `help:"Override LOG_LEVEL (debug, info, warn, error)"`
}

func main() {
	args := &CLI{}
	kctx := kong.Parse(args,
		kong.Name("langsplit"),
		kong.Description(description),
		kong.UsageOnError(),
		kong.Help(cli.StyledHelpPrinter(description)),
	)

	if args.Version {
		cli.PrintVersion(os.Stdout, version)
		return
	}
	if args.File == "" {
		cli.PrintError(os.Stderr, "no recording specified")
		_ = kctx.PrintUsage(false)
		os.Exit(1)
	}

	if err := run(args); err != nil {
		cli.PrintError(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run(args *CLI) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if args.LogLevel != "" {
		cfg.LogLevel = args.LogLevel
	}

	// Logs go to stderr so stdout carries only the result.
	logger := cfg.NewLoggerTo(os.Stderr).With(slog.String("recording", args.File))
	slog.SetDefault(logger)

	deps, err := bootstrap.NewDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := deps.Service.Process(ctx, job.ProcessInput{
		RecordingPath: args.File,
		Name:          args.Name,
		Refresh:       args.Refresh,
	})
	if out == nil {
		return err
	}

	if args.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(out.Job); encErr != nil {
			return fmt.Errorf("encode job: %w", encErr)
		}
		return err
	}

	fmt.Print(cli.RenderSummary(out.Job))
	if out.Tree != nil {
		low, high := deps.Search.Thresholds()
		fmt.Println()
		fmt.Print(cli.RenderTree(out.Tree, low, high))
	}
	return err
}
