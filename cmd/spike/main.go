package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/spikebot/spike/internal/api"
	"github.com/spikebot/spike/internal/config"
	"github.com/spikebot/spike/internal/discord"
	"github.com/spikebot/spike/internal/dispatch"
	"github.com/spikebot/spike/internal/gamble"
	"github.com/spikebot/spike/internal/platform"
	"github.com/spikebot/spike/internal/schedule"
	"github.com/spikebot/spike/internal/store"
	"github.com/spikebot/spike/internal/wager"
)

func main() {
	configPath := flag.String("config", os.Getenv("SPIKE_CONFIG"), "path to a config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize stores ---
	var (
		ledger  store.Ledger
		wagers  store.Wagers
		cleanup []func()
	)

	switch cfg.Store.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		if err := store.Migrate(ctx, pool); err != nil {
			slog.Error("database migration failed", "err", err)
			os.Exit(1)
		}
		ledger = store.NewPostgresLedger(pool)
		wagers = store.NewPostgresWagers(pool)
		slog.Info("connected to PostgreSQL")

	case "file":
		fl, err := store.OpenFileLedger(cfg.Store.LedgerPath, cfg.Store.FlushEvery)
		if err != nil {
			slog.Error("open ledger failed", "path", cfg.Store.LedgerPath, "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() {
			if err := fl.Close(); err != nil {
				slog.Error("close ledger failed", "err", err)
			}
		})
		fw, err := store.OpenFileWagers(cfg.Store.WagersPath)
		if err != nil {
			slog.Error("open wagers failed", "path", cfg.Store.WagersPath, "err", err)
			os.Exit(1)
		}
		ledger, wagers = fl, fw
		slog.Info("using file stores", "ledger", cfg.Store.LedgerPath, "wagers", cfg.Store.WagersPath)

	default:
		slog.Warn("using in-memory stores (data will not persist)")
		ledger = store.NewMemoryLedger()
		wagers = store.NewMemoryWagers()
	}

	// Wrap the ledger with a Redis read-through cache if configured.
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.Error("invalid redis url", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		ledger = store.NewCachedLedger(ledger, rdb, cfg.Redis.TTL)
		slog.Info("Redis cache enabled")
	}

	// Cleanup runs in reverse so the cache closes before its primary.
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- WebSocket hub ---
	hub := api.NewHub()
	go hub.Run(ctx)

	// --- Platform ---
	var (
		client  platform.Client
		gateway *discord.Client
	)
	if cfg.Discord.Token != "" {
		gateway, err = discord.New(cfg.Discord.Token, cfg.Platform.LookupTimeout)
		if err != nil {
			slog.Error("discord setup failed", "err", err)
			os.Exit(1)
		}
		client = gateway
	} else {
		slog.Warn("discord token not set, running without a gateway")
		client = platform.NewMemoryClient()
	}

	// --- Plugins ---
	engine := wager.NewEngine(ledger, wagers, client, hub)
	router := dispatch.NewRouter(client, cfg.Discord.Prefix,
		wager.NewPlugin(engine, client),
		gamble.NewPlugin(ledger, client),
	)

	if gateway != nil {
		gateway.Attach(router)
		if err := gateway.Open(); err != nil {
			slog.Error("discord connect failed", "err", err)
			os.Exit(1)
		}
		defer gateway.Close()
	}
	router.Start(ctx)

	// --- Ledger flush ---
	var flush *schedule.Job
	if f, ok := ledger.(store.Flusher); ok {
		flush, err = schedule.NewJob("ledger-flush", cfg.Store.FlushInterval, f.Flush)
		if err != nil {
			slog.Error("flush job setup failed", "err", err)
			os.Exit(1)
		}
		flush.Start(ctx)
	}

	// --- Admin server ---
	var srv *http.Server
	if cfg.HTTP.Addr != "" {
		srv = &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      api.NewServer(engine, wagers, ledger, hub).Routes(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			slog.Info("spike admin listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("server error", "err", err)
				stop()
			}
		}()
	}

	slog.Info("spike running", "prefix", cfg.Discord.Prefix, "backend", cfg.Store.Backend)
	<-ctx.Done()

	// Graceful shutdown.
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down spike...")
	if srv != nil {
		if err := srv.Shutdown(shutdown); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}
	if flush != nil {
		flush.Stop()
		<-flush.Done()
		if err := flush.RunOnce(shutdown); err != nil {
			slog.Error("final flush failed", "err", err)
		}
	}
	fmt.Println("spike stopped")
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
