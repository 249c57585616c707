package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jacques-dev/jacques/internal/catalog"
	"github.com/jacques-dev/jacques/internal/config"
	"github.com/jacques-dev/jacques/internal/frontend"
	"github.com/jacques-dev/jacques/internal/httpapi"
	"github.com/jacques-dev/jacques/internal/mock"
	"github.com/jacques-dev/jacques/internal/monitor"
	"github.com/jacques-dev/jacques/internal/notify"
	"github.com/jacques-dev/jacques/internal/session"
	"github.com/jacques-dev/jacques/internal/terminal"
	"github.com/jacques-dev/jacques/internal/transcript"
	"github.com/jacques-dev/jacques/internal/usage"
	"github.com/jacques-dev/jacques/internal/watcher"
	"github.com/jacques-dev/jacques/internal/ws"
)

const eventBufferSize = 256

func newServeCmd() *cobra.Command {
	var (
		configPath string
		mockMode   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon (WS hub on :4242, HTTP gateway on :4243)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, mockMode)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to daemon config YAML (default ~/.jacques/config.yaml)")
	cmd.Flags().BoolVar(&mockMode, "mock", false, "generate synthetic sessions instead of monitoring processes")
	return cmd
}

func runServe(configPath string, mockMode bool) error {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("cannot resolve home directory: %v", err)
	}
	jacquesHome := filepath.Join(home, ".jacques")
	if err := os.MkdirAll(jacquesHome, 0o755); err != nil {
		log.Fatalf("cannot create %s: %v", jacquesHome, err)
	}

	if configPath == "" {
		configPath = filepath.Join(jacquesHome, "config.yaml")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	users, err := config.NewUserStore(jacquesHome)
	if err != nil {
		log.Fatalf("user config: %v", err)
	}

	projectsRoot := users.RootPath()
	if projectsRoot == "" {
		projectsRoot, err = transcript.DefaultProjectsRoot()
		if err != nil {
			log.Fatalf("projects root: %v", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Registry and its satellites.
	cleanup := session.NewCleanup(session.RecentlyEndedTTL, cfg.Monitor.CleanupInterval, cfg.Monitor.IdleRemoveAfter)
	registry := session.NewRegistry(cleanup)
	events := make(chan session.Event, eventBufferSize)
	registry.SetEvents(events)

	mon := monitor.New(registry, monitor.SystemDetector{}, monitor.Options{
		VerifyInterval:  cfg.Monitor.VerifyInterval,
		IdleStatusAfter: cfg.Monitor.IdleStatusAfter,
		IdleRemoveAfter: cfg.Monitor.IdleRemoveAfter,
		EnrichGrace:     cfg.Monitor.EnrichGrace,
	})
	orch := terminal.New(cfg.AssistantCmd, cfg.PreferredTerminal, mon)

	hub := ws.NewHub(registry, orch)
	registry.SetBroadcaster(hub)

	engine := notify.New(users, func(item notify.Item) { hub.NotificationFired(item) })
	go engine.Run(events)
	go engine.RunScans(ctx, registry, notify.DefaultScanInterval)

	indexer := catalog.NewIndexer(projectsRoot, jacquesHome)

	go cleanup.Run(ctx, registry)
	if mockMode {
		go mock.New(registry).Start(ctx)
	} else {
		go mon.Start(ctx)
	}

	// Best-effort catalog refresh when transcripts appear or grow.
	w := watcher.New(projectsRoot, watcher.DefaultDebounce, func(encoded string) {
		path := transcript.DecodeProjectPath(encoded)
		if _, err := os.Stat(path); err != nil {
			return
		}
		if _, _, err := indexer.ExtractProjectCatalog(path, catalog.ExtractOptions{Ctx: ctx}); err != nil {
			log.Printf("[serve] catalog refresh %s: %v", path, err)
		}
	})
	go w.Run(ctx)

	// Cold start: build the global index once if it has never been built.
	go func() {
		idx, err := indexer.LoadGlobalIndex()
		if err != nil || idx.LastScanned > 0 {
			return
		}
		log.Printf("[serve] building session index (cold start)")
		if _, err := indexer.BuildSessionIndex(); err != nil {
			log.Printf("[serve] session index build: %v", err)
		}
	}()

	api := httpapi.New(cfg, users, registry, indexer, usage.NewClient(), engine, orch, frontend.Handler())

	wsSrv := &http.Server{Handler: hub.Handler()}
	apiSrv := &http.Server{Handler: api.Routes()}

	wsLn, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.WSPort))
	if err != nil {
		log.Fatalf("ws listener: %v", err)
	}
	apiLn, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort))
	if err != nil {
		log.Fatalf("http listener: %v", err)
	}

	errCh := make(chan error, 2)
	go func() {
		log.Printf("[serve] WS hub listening on %s", wsLn.Addr())
		errCh <- wsSrv.Serve(wsLn)
	}()
	go func() {
		log.Printf("[serve] HTTP gateway listening on %s", apiLn.Addr())
		errCh <- apiSrv.Serve(apiLn)
	}()

	select {
	case <-ctx.Done():
		log.Println("[serve] shutting down")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = wsSrv.Shutdown(shutdownCtx)
	_ = apiSrv.Shutdown(shutdownCtx)
	close(events)
	return nil
}
