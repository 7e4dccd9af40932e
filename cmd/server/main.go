package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"satsync/internal/audit"
	"satsync/internal/coordinator"
	"satsync/internal/fetcher"
	"satsync/internal/orchestrator"
	"satsync/internal/platform/config"
	"satsync/internal/platform/httpserver"
	"satsync/internal/platform/logger"
	"satsync/internal/platform/metrics"
	"satsync/internal/platform/postgres"
	redisplatform "satsync/internal/platform/redis"
	"satsync/internal/processor"
	"satsync/internal/ratelimit"
	"satsync/internal/satclient"
	"satsync/internal/signer"
	"satsync/internal/store"
	httptransport "satsync/internal/transport/http"
	"satsync/internal/vault"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := store.Migrate(ctx, db); err != nil {
		return err
	}

	redisClient, err := redisplatform.New(cfg.RedisURL)
	if err != nil {
		return err
	}
	var cooldowns ratelimit.CooldownStore
	if redisClient != nil {
		defer redisClient.Close()
		cooldowns = ratelimit.NewRedisCooldownStore(redisClient.Client)
	} else {
		log.Warn("redis not configured, cooldowns are instance-local")
		cooldowns = ratelimit.NewMemoryCooldownStore()
	}

	m := metrics.New()
	jobs := store.NewPostgresJobStore(db)
	docs := store.NewPostgresDocumentStore(db)
	vsvc := vault.New(vault.NewPostgresStore(db), log)

	client := satclient.NewHTTPClient(cfg.ServiceBaseURL, cfg.RequestTimeout)
	orch := orchestrator.New(client, jobs, signer.New(cfg.ClockSkew), log,
		orchestrator.WithMetrics(m),
		orchestrator.WithPolling(cfg.PollFloor, cfg.PollCap, cfg.MaxPollDuration, cfg.MaxAttempts))
	fetch := fetcher.New(client, jobs, log,
		fetcher.WithMetrics(m),
		fetcher.WithRetries(cfg.FetchRetries),
		fetcher.WithConcurrency(cfg.FetchConcurrency))
	proc := processor.New(docs, log, processor.WithMetrics(m))

	publisher := audit.NewPublisher(256, log)
	auditStore := audit.NewPostgresStore(db)

	coord := coordinator.New(jobs, vsvc, orch, fetch, proc, cooldowns, publisher, log,
		coordinator.WithMetrics(m),
		coordinator.WithCooldownDefault(cfg.CooldownDefault))
	defer coord.Close()

	handler := httptransport.New(coord, vsvc, docs, log, httptransport.WithAudit(publisher))
	router := httptransport.NewRouter(handler, httptransport.NewHMACValidator([]byte(cfg.JWTSigningKey)), log)
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return audit.NewWorker(auditStore, publisher.Inbox(), log).Run(gctx)
	})

	if cfg.KafkaBrokers != "" {
		kafkaClient, err := kgo.NewClient(
			kgo.SeedBrokers(cfg.KafkaBrokers),
			kgo.DefaultProduceTopic(cfg.AuditTopic),
		)
		if err != nil {
			return err
		}
		defer kafkaClient.Close()
		g.Go(func() error {
			return audit.NewRelay(auditStore, kafkaClient, cfg.AuditTopic, 5*time.Second, log).Run(gctx)
		})
	} else {
		log.Warn("kafka not configured, audit events stay in the outbox")
	}

	g.Go(func() error {
		log.Info("listening", slog.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}
