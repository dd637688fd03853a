package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gyaneshwarpardhi/camreview/internal/api"
	"github.com/gyaneshwarpardhi/camreview/internal/config"
	"github.com/gyaneshwarpardhi/camreview/internal/engine"
	"github.com/gyaneshwarpardhi/camreview/internal/event"
	"github.com/gyaneshwarpardhi/camreview/internal/source/kafka"
	"github.com/gyaneshwarpardhi/camreview/internal/source/previews"
	"github.com/gyaneshwarpardhi/camreview/internal/store"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	cfgPath := flag.String("config", "configs/camreview.yaml", "Path to YAML config")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	if err := config.Validate(cfg); err != nil {
		slog.Error("config validation failed", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Log.SlogLevel())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Store ─────────────────────────────────────────────────────────────────
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Store.Driver, "err", err)
		os.Exit(1)
	}
	defer st.Close()

	// ── Engine ────────────────────────────────────────────────────────────────
	eng := engine.New(ctx, cfg.Engine, st)
	if err := eng.SetReview(cfg.Review); err != nil {
		slog.Error("invalid review settings", "err", err)
		os.Exit(1)
	}

	since := float64(time.Now().Add(-time.Duration(cfg.Engine.RetentionHours) * time.Hour).Unix())
	n, err := eng.Backfill(ctx, since)
	if err != nil {
		slog.Warn("backfill failed, starting with an empty timeline", "err", err)
	} else {
		slog.Info("timeline backfilled", "events", n, "hours", eng.Timeline().Len())
	}
	if clips, err := st.Previews(ctx, "", since, 0); err != nil {
		slog.Warn("preview backfill failed", "err", err)
	} else if _, err := eng.AddPreviews(clips); err != nil {
		slog.Warn("archived previews rejected", "err", err)
	}

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.Config) {
		if err := eng.SetReview(newCfg.Review); err != nil {
			slog.Warn("hot-reload skipped: review settings invalid", "err", err)
			return
		}
		level.Set(newCfg.Log.SlogLevel())
		slog.Info("config hot-reloaded", "version", newCfg.Version, "timezone", newCfg.Review.Timezone)
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── Sources ───────────────────────────────────────────────────────────────
	if cfg.Kafka.Enabled {
		consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.Topic, eng,
			func(err error) bool {
				return errors.Is(err, engine.ErrQueueFull) || errors.Is(err, engine.ErrClosed)
			})
		if err != nil {
			slog.Error("failed to start kafka consumer", "err", err)
			os.Exit(1)
		}
		defer consumer.Close()
		go consumer.Run(ctx)
	}

	if cfg.Previews.Enabled {
		catalogue, err := previews.NewCatalogue(cfg.Previews)
		if err != nil {
			slog.Error("failed to connect preview bucket", "err", err)
			os.Exit(1)
		}
		refresher := previews.NewRefresher(catalogue, eng, cfg.Previews.RefreshInterval,
			func(ctx context.Context, clips []event.Preview) {
				if err := st.SavePreviews(ctx, clips); err != nil {
					slog.Warn("archive previews failed", "err", err)
				}
			})
		go refresher.Run(ctx)
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := api.New(eng, loader, st)
	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	eng.Shutdown()
	cancel()
	slog.Info("goodbye")
}
