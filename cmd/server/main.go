package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mineskin-go/generator/internal/authengine"
	"github.com/mineskin-go/generator/internal/catalog"
	"github.com/mineskin-go/generator/internal/config"
	"github.com/mineskin-go/generator/internal/generator"
	"github.com/mineskin-go/generator/internal/idalloc"
	"github.com/mineskin-go/generator/internal/scheduler"
	"github.com/mineskin-go/generator/internal/secretcodec"
	"github.com/mineskin-go/generator/internal/tempfile"
	"github.com/mineskin-go/generator/internal/upstream"
)

func main() {
	configPath := flag.String("config", "", "Path to config.json")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, loadedFromFile, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.DebugEnabled {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
		slog.SetDefault(logger)
	}
	logger.Info("config loaded", "fromFile", loadedFromFile, "storeMode", cfg.StoreMode)

	store, err := newStore(cfg)
	if err != nil {
		logger.Error("failed to initialize catalog store", "error", err)
		os.Exit(1)
	}

	codec, err := secretcodec.New(cfg.SecretKeyB64)
	if err != nil {
		logger.Error("failed to initialize secret codec", "error", err)
		os.Exit(1)
	}

	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	upstreamClient := upstream.New(cfg.UpstreamBaseURL, timeout)

	auth := authengine.New(upstreamClient, codec)

	sched := scheduler.New(store, cfg.ServerID, time.Duration(cfg.MinAccountDelaySeconds)*time.Second)
	if err := sched.RefreshUsableCount(context.Background()); err != nil {
		logger.Warn("initial usable-count refresh failed", "error", err)
	}

	tmpDir := os.Getenv("MINESKIN_TMPDIR")
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	tempManager, err := tempfile.NewManager(tmpDir)
	if err != nil {
		logger.Error("failed to initialize temp file manager", "error", err)
		os.Exit(1)
	}

	enc := idalloc.NewEncoder(cfg.OptimusPrime, cfg.OptimusInverse, cfg.OptimusRandom)
	ids := idalloc.New(enc, store)

	engine := generator.New(generator.Config{
		Catalog:            store,
		Scheduler:          sched,
		Auth:               auth,
		Upstream:           upstreamClient,
		TempFiles:          tempManager,
		IDs:                ids,
		HTTPClient:         tempfile.DefaultHTTPClient(),
		AllowedFollowHosts: cfg.AllowedFollowHosts,
		Logger:             logger,
	})
	_ = engine // wired for use by an HTTP/API layer outside this package's scope

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%s", cfg.Port)
	logger.Info("listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func newStore(cfg *config.Config) (catalog.Store, error) {
	if cfg.StoreMode == "redis" {
		store, err := catalog.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix, cfg.ErrorThreshold)
		if err != nil {
			return nil, fmt.Errorf("redis store: %w", err)
		}
		return store, nil
	}
	return catalog.NewMemoryStore(cfg.ErrorThreshold), nil
}
