package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/m4xw311/docchat/agent"
	"github.com/m4xw311/docchat/agent/acp"
	"github.com/m4xw311/docchat/agent/bridge"
	"github.com/m4xw311/docchat/agent/terminal"
	"github.com/m4xw311/docchat/config"
	"github.com/m4xw311/docchat/errors"
	"github.com/m4xw311/docchat/host"
	"github.com/m4xw311/docchat/llm"
	"github.com/m4xw311/docchat/session"
	"github.com/m4xw311/docchat/tools"
)

type options struct {
	mode          string
	toolset       string
	toolVerbosity string
	acp           bool
	wsAddr        string
	trace         bool
	verbose       bool
	prompt        string
}

func parseFlags(args []string, output io.Writer) (*options, error) {
	fs := flag.NewFlagSet("docchat", flag.ContinueOnError)
	fs.SetOutput(output)
	opts := &options{}
	fs.StringVar(&opts.mode, "m", "", "Execution mode: 'auto' or 'prompt'")
	fs.StringVar(&opts.toolset, "t", "", "Toolset to use (defaults to 'default')")
	fs.StringVar(&opts.toolVerbosity, "tool-verbosity", "", "Tool verbosity level: 'none', 'info', or 'all'")
	fs.BoolVar(&opts.acp, "acp", false, "Enable Agent Client Protocol support")
	fs.StringVar(&opts.wsAddr, "ws", "", "Serve the agent over WebSocket on this address, e.g. localhost:8080")
	fs.BoolVar(&opts.trace, "trace", false, "Write an ACP execution trace to acp.trace")
	fs.BoolVar(&opts.verbose, "v", false, "Enable debug logging")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.acp && opts.wsAddr != "" {
		return nil, errors.New("-acp and -ws cannot be combined")
	}
	opts.prompt = strings.Join(fs.Args(), " ")
	return opts, nil
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// catalogHost is a tool host that can also list its tools.
type catalogHost interface {
	agent.ToolHost
	ListTools(ctx context.Context) ([]tools.Declaration, error)
}

// newAgent fetches the host's tool catalog, narrows it to the selected
// toolset and builds the agent around a fresh session.
func newAgent(ctx context.Context, cfg *config.Config, opts *options, client llm.LLMClient, h catalogHost, logger *slog.Logger) (*agent.Agent, error) {
	mode, err := agent.ParseMode(opts.mode)
	if err != nil {
		return nil, err
	}
	verbosity, err := agent.ParseToolVerbosity(opts.toolVerbosity)
	if err != nil {
		return nil, err
	}

	decls, err := h.ListTools(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list tools")
	}
	ts, err := cfg.GetToolset(opts.toolset)
	if err != nil {
		return nil, err
	}
	active, err := tools.NewToolRegistry(decls).GetActiveTools(ts)
	if err != nil {
		return nil, err
	}
	logger.Debug("active tools", "count", len(active), "available", len(decls))

	a, err := agent.New(cfg, session.New(active), mode, client, h, verbosity)
	if err != nil {
		return nil, err
	}
	a.Logger = logger.With("component", "agent")
	return a, nil
}

func run(ctx context.Context, opts *options, logger *slog.Logger) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return errors.Wrapf(err, "error loading configuration")
	}

	client, err := llm.New(ctx, cfg)
	if err != nil {
		return errors.Wrapf(err, "error initializing %s client", cfg.LLMClient)
	}

	h, err := host.Connect(ctx, cfg.ToolHost, logger.With("component", "host"))
	if err != nil {
		return err
	}
	defer h.Close()

	a, err := newAgent(ctx, cfg, opts, client, h, logger)
	if err != nil {
		return errors.Wrapf(err, "error initializing agent")
	}

	switch {
	case opts.acp:
		var trace *slog.Logger
		if opts.trace {
			var closer io.Closer
			trace, closer, err = acp.NewTraceLogger("acp.trace")
			if err != nil {
				return err
			}
			defer closer.Close()
		}
		logger.Debug("starting in ACP mode")
		return acp.Run(ctx, a, bufio.NewReader(os.Stdin), bufio.NewWriter(os.Stdout), trace)

	case opts.wsAddr != "":
		return bridge.New(a, logger).ListenAndServe(ctx, opts.wsAddr)

	default:
		fmt.Println("docchat is ready. Type your prompt.")
		return terminal.New(a).Run(ctx, opts.prompt)
	}
}

func main() {
	// CLAUDE_MODEL and API keys may come from .env.
	_ = godotenv.Load()

	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	logger := newLogger(os.Stderr, opts.verbose)
	slog.SetDefault(logger)

	// The terminal handles Ctrl+C itself: it cancels a running turn.
	signals := []os.Signal{syscall.SIGTERM}
	if opts.acp || opts.wsAddr != "" {
		signals = append(signals, os.Interrupt)
	}
	ctx, stop := signal.NotifyContext(context.Background(), signals...)
	defer stop()

	if err := run(ctx, opts, logger); err != nil {
		fmt.Fprintf(os.Stderr, "docchat stopped with an error: %+v\n", err)
		stop()
		os.Exit(1)
	}
}
