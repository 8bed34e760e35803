// Command engine is the knowledge engine process: it owns the
// relational store, vector store, event bus, host bridge, and the
// local HTTP API, and drives every file from scan through screening,
// tagging, and vectorization end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"knowledge-engine/internal/api"
	"knowledge-engine/internal/bridge"
	"knowledge-engine/internal/capability"
	"knowledge-engine/internal/config"
	"knowledge-engine/internal/configqueue"
	"knowledge-engine/internal/enginetypes"
	"knowledge-engine/internal/events"
	"knowledge-engine/internal/logging"
	"knowledge-engine/internal/retrieval"
	"knowledge-engine/internal/retry"
	"knowledge-engine/internal/scanner"
	"knowledge-engine/internal/screening"
	"knowledge-engine/internal/session"
	"knowledge-engine/internal/store"
	"knowledge-engine/internal/tagengine"
	"knowledge-engine/internal/vectorization"
	"knowledge-engine/internal/vectorstore"
)

func main() {
	addr := flag.String("addr", "", "HTTP API address override, host:port")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(logLevel(cfg.Logging.Level))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *addr != "" {
		host, port := splitAddr(*addr, cfg.Server.Host, cfg.Server.Port)
		cfg.Server.Host, cfg.Server.Port = host, port
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("engine exited", "error", err)
	}
}

func logLevel(level string) logging.LogLevel {
	switch level {
	case "debug":
		return logging.DEBUG
	case "warn":
		return logging.WARN
	case "error":
		return logging.ERROR
	default:
		return logging.INFO
	}
}

func splitAddr(addr, defaultHost string, defaultPort int) (string, int) {
	host, portStr, err := splitHostPort(addr)
	if err != nil {
		return defaultHost, defaultPort
	}
	port := defaultPort
	fmt.Sscanf(portStr, "%d", &port)
	return host, port
}

func splitHostPort(addr string) (string, string, error) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("no colon in address %q", addr)
}

// run wires every subsystem together and blocks until ctx is
// cancelled, then shuts down in reverse dependency order.
func run(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	if err := os.MkdirAll(cfg.Store.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	dbPath, err := cfg.Store.DBPath()
	if err != nil {
		return fmt.Errorf("resolve db path: %w", err)
	}
	st, err := store.Open(&store.Config{
		DatabasePath: dbPath,
		DataRoot:     cfg.Store.DataDir,
		BusyRetry:    retry.ExponentialBackoff(cfg.Store.MaxRetries),
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("close store failed", "error", err)
		}
	}()

	vectors, err := vectorstore.Open(ctx, &vectorstore.Config{
		Host:       cfg.Vectors.Host,
		Port:       cfg.Vectors.Port,
		APIKey:     cfg.Vectors.APIKey,
		UseTLS:     cfg.Vectors.UseTLS,
		Collection: cfg.Vectors.Collection,
		VectorSize: uint64(cfg.Vectors.VectorSize),
	}, logger)
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}
	defer func() {
		if err := vectors.Close(); err != nil {
			logger.Warn("close vector store failed", "error", err)
		}
	}()

	bus := events.NewEventBus(&events.BusConfig{
		ChannelBufferSize: cfg.Events.ChannelBufferSize,
		MaxSubscribers:    cfg.Events.MaxSubscribers,
		CleanupInterval:   time.Minute,
		MetricsInterval:   30 * time.Second,
		MaxEventSize:      1 << 20,
	})
	if err := bus.Start(); err != nil {
		return fmt.Errorf("start event bus: %w", err)
	}
	defer func() {
		if err := bus.Stop(); err != nil {
			logger.Warn("stop event bus failed", "error", err)
		}
	}()
	bus.SetStrategy(events.TagsUpdated, events.Strategy{Kind: events.Debounce, Window: time.Duration(cfg.Events.DebounceWindowMillis) * time.Millisecond})
	bus.SetStrategy(events.ScreeningResultUpdated, events.Strategy{Kind: events.Throttle, Window: time.Duration(cfg.Events.ThrottleWindowMillis) * time.Millisecond})
	bus.SetStrategy(events.MultivectorProgress, events.Strategy{Kind: events.Throttle, Window: time.Duration(cfg.Events.ThrottleWindowMillis) * time.Millisecond})

	br, err := bridge.New(bus, os.Stdout, logger)
	if err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}
	defer func() {
		if err := br.Close(); err != nil {
			logger.Warn("close bridge failed", "error", err)
		}
	}()

	queue := configqueue.New(st, bus, folderApplier(st, bus), logger)

	capRouter := capability.NewRouter(st, bus, logger)

	tagger := tagengine.New(st, st, capRouter, bus, logger, &tagengine.Config{ExcerptMaxChars: cfg.Capability.TagExcerptMaxChars})

	vecPipe := vectorization.New(&cfg.Chunking, st, vectors, capRouter, bus, logger)
	vecPipe.Start(ctx)
	defer vecPipe.Stop()

	retrievalEngine := retrieval.New(vectors, st, capRouter, retrieval.DefaultConfig())

	sessionCoord := session.New(st, st, vectors, bus, logger)

	sc := scanner.New(st, &scanner.Config{
		FallbackRewalkInterval: time.Duration(cfg.Scanner.RewalkIntervalMinutes) * time.Minute,
		WatcherDebounceMillis:  cfg.Scanner.WatcherDebounceMillis,
	}, logger)
	screen := screening.New(st, bus, logger)

	pipe := &ingestPipeline{screening: screen, tagger: tagger, vecPipe: vecPipe, logger: logger}
	go pipe.runIngestLoop(ctx, bus)
	go func() {
		runInitialScan(ctx, sc, pipe, queue, logger)
		runWatchLoop(ctx, sc, pipe, logger)
	}()

	router := api.NewRouter(api.Deps{
		Config:     cfg,
		Store:      st,
		Queue:      queue,
		Vectorizer: vecPipe,
		Capability: capRouter,
		Retrieval:  retrievalEngine,
		Sessions:   sessionCoord,
		Bus:        bus,
		Logger:     logger,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("engine listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	_ = bus.Publish(events.NewEvent(events.APIReady, map[string]string{"addr": httpServer.Addr}))

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

// folderApplier builds the configqueue.Applier that dispatches one
// drained (or inline) ConfigChange against the folder topology. A
// delete_folder change additionally publishes a targeted
// screening-result-stale event per removed path, per spec.md §4.3 part
// (b), once the store has pruned those rows inside its own cascade
// transaction.
func folderApplier(st *store.Store, bus *events.EventBus) configqueue.Applier {
	return func(ctx context.Context, c *enginetypes.ConfigChange) error {
		switch c.Kind {
		case enginetypes.ConfigChangeAddWhitelist:
			return st.AddFolder(ctx, &enginetypes.MonitoredFolder{Path: c.Path, IsBlacklist: false})
		case enginetypes.ConfigChangeAddBlacklist:
			return st.AddFolder(ctx, &enginetypes.MonitoredFolder{Path: c.Path, IsBlacklist: true})
		case enginetypes.ConfigChangeDeleteFolder:
			paths, err := st.DeleteFolder(ctx, c.FolderID)
			if err != nil {
				return err
			}
			for _, p := range paths {
				if bus != nil {
					_ = bus.Publish(events.NewEvent(events.ScreeningResultStale, map[string]string{"folder_path": p}))
				}
			}
			return nil
		case enginetypes.ConfigChangeToggleStatus:
			return st.ToggleFolder(ctx, c.FolderID, c.Enabled)
		default:
			return fmt.Errorf("configqueue: unknown change kind %q", c.Kind)
		}
	}
}
