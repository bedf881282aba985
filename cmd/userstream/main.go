// Command userstream runs the user event store service: the command
// pipeline, the login projections and the confirmation-email reactor,
// on NATS JetStream (or in-memory for local development).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	natsa "github.com/codewandler/userstream-go/adapters/nats"
	proma "github.com/codewandler/userstream-go/adapters/prometheus"
	"github.com/codewandler/userstream-go/config"
	"github.com/codewandler/userstream-go/core/es"
	"github.com/codewandler/userstream-go/user"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	esMetrics := proma.NewESMetrics(reg)

	var (
		store       es.EventStore
		snapshotter es.Snapshotter
		checkpoints func(consumer string) es.CpStore
	)
	if cfg.InMemory {
		log.Info("running on the in-memory store")
		store = es.NewInMemoryStore()
		snapshotter = es.NewInMemorySnapshotter()
		checkpoints = func(string) es.CpStore { return es.NewInMemCpStore() }
	} else {
		connect := natsa.ReuseConnection(natsa.ConnectURL(cfg.NATSURL))

		jsStore, err := natsa.NewEventStore(natsa.EventStoreConfig{
			Connect:       connect,
			Log:           log,
			StreamName:    cfg.StreamName,
			SubjectPrefix: cfg.SubjectPrefix,
		})
		if err != nil {
			return fmt.Errorf("failed to open event store: %w", err)
		}
		defer jsStore.Close()

		bucket, err := natsa.NewKvStore(natsa.KvConfig{
			Connect: connect,
			Bucket:  cfg.SnapshotBucket,
		})
		if err != nil {
			return fmt.Errorf("failed to open kv bucket: %w", err)
		}
		defer bucket.Close()

		store = jsStore
		snapshotter = es.NewKeyValueSnapshotter(bucket)
		checkpoints = func(consumer string) es.CpStore {
			return es.NewKvCpStore(bucket, consumer)
		}
	}

	env, err := es.NewEnv(
		es.WithLog(log),
		es.WithCtx(ctx),
		es.WithStore(store),
		es.WithEnvSnapshotter(snapshotter),
		es.WithEnvMetrics(esMetrics),
		es.WithAggregates(&user.User{}),
	)
	if err != nil {
		return err
	}
	defer env.Shutdown()

	repo := es.NewTypedRepositoryFrom[*user.User](log, env.Repository())
	svc := user.NewService(log, repo, user.WithConflictRetries(cfg.ConflictRetries))
	defer svc.Close()

	canLogin := user.NewCanLoginProjection()
	if _, err := env.StartProjection(canLogin); err != nil {
		return err
	}
	lastLogin := user.NewLastLoginProjection()
	if _, err := env.StartProjection(lastLogin); err != nil {
		return err
	}

	reactor := user.NewConfirmationEmailReactor(log, svc, &user.LogMailer{Log: log})
	reactorConsumer, err := env.StartProjection(reactor,
		es.WithConsumerCheckpoint(checkpoints(reactor.Name())),
	)
	if err != nil {
		return err
	}
	if err := reactorConsumer.WaitLive(ctx); err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info("metrics listening", slog.String("addr", cfg.MetricsAddr))
	}

	log.Info("userstream ready")
	<-ctx.Done()
	log.Info("shutting down")
	return nil
}
