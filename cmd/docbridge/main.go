package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"docbridge/internal/browser"
	"docbridge/internal/classify"
	"docbridge/internal/config"
	"docbridge/internal/events"
	"docbridge/internal/logging"
	mcpserver "docbridge/internal/mcp"
	"docbridge/internal/mirror"
	"docbridge/internal/recorder"
	"docbridge/internal/remote"
	"docbridge/internal/session"
	"docbridge/internal/trace"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to an explicit DocBridge config file")
	ssePort := flag.Int("sse-port", 0, "Optional SSE port override (falls back to config)")
	workspaceDir := flag.String("workspace-dir", "", "Use this directory as the workspace root instead of walking up")
	noWorkspace := flag.Bool("no-workspace", false, "Skip workspace discovery")
	initWorkspace := flag.Bool("init", false, "Initialize a .docbridge workspace in the current directory and exit")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *initWorkspace {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to resolve working directory: %v\n", err)
			os.Exit(1)
		}
		if err := config.InitWorkspace(cwd); err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize workspace: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("initialized workspace at %s\n", cwd)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, wsDir, err := config.LoadWithWorkspace(*configPath, config.WorkspaceOptions{
		Disable:     *noWorkspace,
		ExplicitDir: *workspaceDir,
	})
	if err != nil {
		// Stdout carries the MCP protocol; startup failures go to stderr.
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *ssePort != 0 {
		cfg.MCP.SSEPort = *ssePort
	}

	// All runtime logging goes to the rotating file; stdio stays clean for MCP.
	logger := logging.New(cfg.Server.LogFile, *debug)
	defer func() { _ = logger.Sync() }()

	runID := uuid.NewString()
	logger.Info("docbridge starting",
		zap.String("run_id", runID), zap.String("version", cfg.Server.Version))
	if wsDir != "" {
		logger.Info("workspace discovered", zap.String("dir", wsDir))
	}

	tracer, err := trace.NewEngine(cfg.Trace)
	if err != nil {
		logger.Fatal("initialize trace engine", zap.Error(err))
	}

	rec, err := recorder.NewRecorder(cfg.Sync.TraceDir)
	if err != nil {
		logger.Fatal("initialize recorder", zap.Error(err))
	}
	if err := rec.Start(runID[:8]); err != nil {
		logger.Warn("recorder start failed", zap.Error(err))
	}
	defer func() { _ = rec.Close() }()

	bus := events.NewBus(logger)
	defer func() { _ = bus.Close() }()

	mir, err := mirror.New(cfg.Sync.MirrorDir, cfg.Sync.CacheTTL(), logger)
	if err != nil {
		logger.Fatal("initialize mirror", zap.Error(err))
	}
	if err := bus.SubscribeDocsReceived(ctx, func(ev events.DocsReceived) {
		if err := mir.ApplyDocs(ev.ProjectID, ev.Body); err != nil {
			logger.Warn("mirror reconcile failed",
				zap.String("project", ev.ProjectID), zap.Error(err))
		}
	}); err != nil {
		logger.Fatal("subscribe mirror", zap.Error(err))
	}
	if err := bus.SubscribeArtifactDeleted(ctx, func(ev events.ArtifactDeleted) {
		mir.RemoveByUUID(ev.ArtifactID)
	}); err != nil {
		logger.Fatal("subscribe mirror deletions", zap.Error(err))
	}

	shell := browser.NewShell(cfg.Browser, cfg.Product.StartURL, logger)
	classifier := classify.New(cfg.Product.Host, cfg.Product.Marker)

	correlator := session.NewCorrelator(cfg.Sync, classifier, bus, shell, tracer, rec, logger)
	shell.Attach(correlator)

	bridge := remote.NewBridge(shell, correlator, correlator, mir, cfg.Product.APIBase, logger)
	correlator.SetBridge(bridge)

	if cfg.Browser.AutoStart {
		if err := shell.Start(ctx); err != nil {
			logger.Fatal("start browser", zap.Error(err))
		}
		defer func() { _ = shell.Shutdown() }()
	} else {
		logger.Info("browser auto-start disabled")
	}
	// Deferred last so teardown runs correlator first: pending follow-ups are
	// cancelled before the browser and bus they would touch go away.
	defer correlator.Close()

	server := mcpserver.NewServer(cfg, shell, correlator, bridge, mir, tracer, logger)

	var startErr error
	if cfg.MCP.SSEPort > 0 {
		logger.Info("starting DocBridge MCP SSE server", zap.Int("port", cfg.MCP.SSEPort))
		startErr = server.StartSSE(ctx, cfg.MCP.SSEPort)
	} else {
		logger.Info("starting DocBridge MCP stdio server")
		startErr = server.Start(ctx)
	}

	if startErr != nil && !errors.Is(startErr, context.Canceled) {
		logger.Fatal("server exited", zap.Error(startErr))
	}
}
