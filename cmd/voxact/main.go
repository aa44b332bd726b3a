// Command voxact drives a web page by voice.
//
// Usage:
//
//	voxact [run] -config config.yaml
//	voxact replay -config config.yaml -page form.html [-out result.html] "command" ...
//
// The run mode opens the browser and microphone and serves the operational
// HTTP endpoints. The replay mode applies text commands to a static HTML file
// and prints the resulting page; it needs no browser, microphone or speech
// provider.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/voxact/internal/app"
	"github.com/MrWong99/voxact/internal/config"
	"github.com/MrWong99/voxact/internal/observe"
	"github.com/MrWong99/voxact/pkg/provider/nlu/llmrecognizer"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	args := os.Args[1:]
	mode := "run"
	if len(args) > 0 && (args[0] == "run" || args[0] == "replay") {
		mode, args = args[0], args[1:]
	}
	switch mode {
	case "replay":
		os.Exit(replay(args))
	default:
		os.Exit(run(args))
	}
}

func run(args []string) int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	fs := flag.NewFlagSet("voxact", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	_ = fs.Parse(args)

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, ok := loadConfig(*configPath)
	if !ok {
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := &slog.LevelVar{}
	logger, closeLog := newLogger(cfg.Server, level)
	defer closeLog()
	slog.SetDefault(logger)

	slog.Info("voxact starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxact",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLogLevel(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if watcher, err := config.NewWatcher(*configPath); err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		go watcher.Run(ctx, application.Apply)
	}

	slog.Info("voxact ready — press Ctrl+C to shut down")

	exit := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return exit
}

func replay(args []string) int {
	fs := flag.NewFlagSet("voxact replay", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	pagePath := fs.String("page", "", "HTML file to apply the commands to")
	outPath := fs.String("out", "", "write the resulting HTML here instead of stdout")
	_ = fs.Parse(args)

	if *pagePath == "" || fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "voxact replay: -page and at least one command are required")
		fs.Usage()
		return 2
	}

	cfg, ok := loadConfig(*configPath)
	if !ok {
		return 1
	}
	level := &slog.LevelVar{}
	logger, closeLog := newLogger(cfg.Server, level)
	defer closeLog()
	slog.SetDefault(logger)

	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)
	provider, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		slog.Error("failed to create llm provider", "name", cfg.Providers.LLM.Name, "err", err)
		return 1
	}
	var recOpts []llmrecognizer.Option
	if cfg.Voice.Language != "" {
		recOpts = append(recOpts, llmrecognizer.WithLanguage(cfg.Voice.Language))
	}
	rec, err := llmrecognizer.New(provider, recOpts...)
	if err != nil {
		slog.Error("failed to create recognizer", "err", err)
		return 1
	}

	page, err := os.Open(*pagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxact replay: %v\n", err)
		return 1
	}
	defer page.Close()

	var out io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "voxact replay: %v\n", err)
			return 1
		}
		defer f.Close()
		out = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	outcomes, err := app.Replay(ctx, cfg, rec, page, fs.Args(), out)
	for _, o := range outcomes {
		slog.Info("replayed intent",
			"command", o.Command,
			"intent", o.Intent.Kind,
			"success", o.Success,
			"err", o.Err,
		)
	}
	if err != nil {
		slog.Error("replay failed", "err", err)
		return 1
	}
	return 0
}

func loadConfig(path string) (*config.Config, bool) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxact: config file %q not found — copy configs/example.yaml to get started\n", path)
		} else {
			fmt.Fprintf(os.Stderr, "voxact: %v\n", err)
		}
		return nil, false
	}
	return cfg, true
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Voxact — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("Transcriber", cfg.Providers.Transcriber.Name, cfg.Providers.Transcriber.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	printProvider("Audio", cfg.Providers.Audio.Name, "")
	mode := cfg.Capture.Mode
	if mode == "" {
		mode = config.CaptureVAD
	}
	fmt.Printf("║  Capture mode    : %-19s ║\n", mode)
	if cfg.Voice.WakeWord {
		fmt.Printf("║  Wake word       : %-19s ║\n", "enabled")
	} else {
		fmt.Printf("║  Wake word       : %-19s ║\n", "(disabled)")
	}
	bus := cfg.Microphone.Bus
	if bus == "" {
		bus = config.MicBusMemory
	}
	fmt.Printf("║  Mic bus         : %-19s ║\n", bus)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:16]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}
