// Veronica is a conversational personal assistant.
//
// It exposes a chat API backed by an OpenAI-compatible completion
// provider that can remember things, manage todos, check the weather,
// drive music and devices, and look up train status. Configuration is
// loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	veronica serve              Start the API server
//	veronica init [dir]         Initialize a working directory with defaults
//	veronica ask <message>      Send a single message (for testing)
//	veronica version            Print version and build information
//	veronica -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/veronica/internal/actions"
	"github.com/nugget/veronica/internal/agent"
	"github.com/nugget/veronica/internal/api"
	"github.com/nugget/veronica/internal/buildinfo"
	"github.com/nugget/veronica/internal/config"
	"github.com/nugget/veronica/internal/connwatch"
	"github.com/nugget/veronica/internal/devices"
	"github.com/nugget/veronica/internal/llm"
	"github.com/nugget/veronica/internal/mqtt"
	"github.com/nugget/veronica/internal/music"
	"github.com/nugget/veronica/internal/store"
	"github.com/nugget/veronica/internal/trainstatus"
	"github.com/nugget/veronica/internal/weather"
)

// shutdownTimeout bounds graceful shutdown of servers and the MQTT mirror.
const shutdownTimeout = 10 * time.Second

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run] so the full
// lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Structured logs go to stdout; fatal
// error messages are returned for main to print. Arguments are parsed
// by hand because the flag package's globals get in the way of calling
// run concurrently from tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: veronica ask <message>")
		}
		return runAsk(ctx, stdout, configPath, outputFmt, strings.Join(cmdArgs, " "))
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Veronica - Conversational Personal Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: veronica [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask          Send a single message (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/veronica/config.yaml, /etc/veronica/config.yaml")
	return nil
}

// app is the wired set of components shared by serve and ask.
type app struct {
	logger *slog.Logger
	store  *store.Store
	hub    *devices.Hub
	mirror *mqtt.Mirror
	loop   *agent.Loop
}

// newApp opens the store and wires every collaborator into the
// conversation loop. Optional collaborators are left out of
// [actions.Deps] when unconfigured so their actions fail cleanly.
func newApp(cfg *config.Config, client llm.Client, logger *slog.Logger) (*app, error) {
	system, err := cfg.SystemPrompt()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
	}

	a := &app{
		logger: logger,
		store:  st,
		hub:    devices.NewHub(cfg.Devices.Greeting, logger),
	}

	deps := actions.Deps{
		Memories: st,
		Todos:    st,
		Devices:  a.hub,
		Trains:   trainstatus.New(cfg.TrainStatus, logger),
	}
	if cfg.Weather.Configured() {
		deps.Weather = weather.New(cfg.Weather, logger)
	} else {
		logger.Info("weather lookups disabled (no url or api_key)")
	}
	if cfg.Music.URL != "" {
		deps.Music = music.New(cfg.Music, logger)
	} else {
		logger.Info("music control disabled (no url)")
	}

	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(filepath.Dir(cfg.Store.Path))
		if err != nil {
			st.Close()
			return nil, err
		}
		a.mirror = mqtt.New(cfg.MQTT, instanceID, logger)
		a.hub.Add(a.mirror)
	}

	registry, err := actions.NewRegistry(deps,
		actions.WithTimeout(cfg.Dispatch.Timeout()),
		actions.WithPolicies(cfg.Dispatch.Policies),
		actions.WithLogger(logger),
	)
	if err != nil {
		st.Close()
		return nil, err
	}

	sessions, err := agent.NewSessions(cfg.History.Capacity)
	if err != nil {
		st.Close()
		return nil, err
	}

	a.loop = agent.NewLoop(logger, client, registry, sessions, system, cfg.Dispatch.MaxIterations)
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// runAsk sends one message through the full loop and prints the reply.
// Useful for quick smoke tests without starting the server.
func runAsk(ctx context.Context, stdout io.Writer, configPath, outputFmt, message string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(stdout, cfg.LogLevel)
	if err != nil {
		return err
	}
	return ask(ctx, stdout, cfg, llm.NewOpenAIClient(cfg.OpenAI, logger), logger, outputFmt, message)
}

func ask(ctx context.Context, stdout io.Writer, cfg *config.Config, client llm.Client, logger *slog.Logger, outputFmt, message string) error {
	a, err := newApp(cfg, client, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.loop.Run(ctx, "cli", message)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintln(stdout, res.Reply.Content)
	return nil
}

// runServe loads config, wires the app, starts the API server and the
// optional MQTT mirror, and blocks until SIGINT or SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger, _ := config.NewLogger(stdout, "info")
	logger.Info("starting Veronica", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Validated by config.Load.
	logger, _ = config.NewLogger(stdout, cfg.LogLevel)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.OpenAI.Model,
		"history_capacity", cfg.History.Capacity,
	)
	if cfg.OpenAI.APIKey == "" {
		logger.Warn("openai.api_key is empty; completions will fail")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, llm.NewOpenAIClient(cfg.OpenAI, logger), logger)
}

// pinger is implemented by completion clients that can be health-checked.
type pinger interface {
	Ping(ctx context.Context) error
}

// serve runs the server until ctx is cancelled or a component fails.
func serve(ctx context.Context, cfg *config.Config, client llm.Client, logger *slog.Logger) error {
	a, err := newApp(cfg, client, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, a.loop, logger)
	server.SetStore(a.store)
	server.SetDevices(cfg.Devices.Path, a.hub)

	g, gctx := errgroup.WithContext(ctx)

	watch := connwatch.NewManager(logger)
	if p, ok := client.(pinger); ok {
		watch.Watch(gctx, "openai", p.Ping, connwatch.DefaultSchedule())
	}
	if a.mirror != nil {
		watch.Watch(gctx, "mqtt", a.mirror.Ping, connwatch.DefaultSchedule())
	}
	defer watch.Wait()
	server.SetConnWatch(watch)

	g.Go(func() error {
		return server.Start(gctx)
	})
	if a.mirror != nil {
		g.Go(func() error {
			return a.mirror.Start(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if a.mirror != nil {
			a.hub.Remove(a.mirror.ID())
			if err := a.mirror.Stop(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("mqtt stop: %w", err))
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("api shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// loadConfig locates and parses the YAML configuration file. Returns
// the parsed config and the path that was loaded.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
