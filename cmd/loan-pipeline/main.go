// cmd/loan-pipeline/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	awsclient "loan-pipeline/internal/common/aws"
	"loan-pipeline/internal/common/config"
	"loan-pipeline/internal/common/database"
	"loan-pipeline/internal/common/logger"
	"loan-pipeline/internal/common/observability"
	"loan-pipeline/internal/common/validation"
	"loan-pipeline/internal/fanout"
	"loan-pipeline/internal/intake"
	"loan-pipeline/internal/queue"
	"loan-pipeline/internal/store/counters"
	"loan-pipeline/internal/store/records"
	"loan-pipeline/internal/store/search"
	pa "loan-pipeline/internal/workers/loan/process-application"
)

const serverShutdownTimeout = 10 * time.Second

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", "console")
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.NewWithOutput(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()

	// Wrap zap logger with our logger interface
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting loan pipeline...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.App.Name, log)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init Elasticsearch with retry (optional) ---
	var mirror *search.Mirror
	if cfg.Database.Elasticsearch.Enabled {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")

		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		if err := esClient.EnsureIndex(ctx, cfg.Database.Elasticsearch.Index, search.IndexMapping); err != nil {
			zapLog.Fatal("failed to prepare search index", zap.Error(err))
		}
		mirror = search.NewMirror(esClient.Client, cfg.Database.Elasticsearch.Index)
		zapLog.Info("Elasticsearch connected successfully", zap.String("index", cfg.Database.Elasticsearch.Index))
	}

	// --- Stores ---
	recordStore := records.NewStore(pg.DB, func() records.NotificationSource {
		return pg.NewListener(listenerEvents(log))
	})
	if err := recordStore.Migrate(ctx); err != nil {
		zapLog.Fatal("schema migration failed", zap.Error(err))
	}
	counterStore := counters.NewStore(redis.Client)

	q := queue.New(redis.Client, queue.Config{
		Topic:         cfg.Queue.Topic,
		Group:         cfg.Queue.ConsumerGroup,
		Consumer:      cfg.Queue.ConsumerName,
		Partitions:    cfg.Queue.Partitions,
		Block:         config.GetDuration(cfg.Queue.BlockTimeout),
		FromBeginning: cfg.Queue.FromBeginning,
	})

	g, gctx := errgroup.WithContext(ctx)
	publicMux := http.NewServeMux()

	// --- Processor ---
	if cfg.Processor.Enabled {
		validator, err := validation.NewLoanApplicationValidator()
		if err != nil {
			zapLog.Fatal("failed to compile loan application schema", zap.Error(err))
		}

		procCfg := pa.ConfigFrom(cfg.Processor)
		enricher := pa.NewRedisScoreEnricher(redis.Client, pa.NewRandomScoreEnricher(time.Now().UnixNano()), procCfg.ScoreCacheTTL, log)

		opts := []pa.Option{pa.WithObservability(obs)}
		if mirror != nil {
			opts = append(opts, pa.WithSearchIndex(mirror))
		}
		handler := pa.NewHandler(procCfg, validator, enricher, recordStore, counterStore, log, opts...)
		consumer := pa.NewConsumer(q, handler, procCfg, log)

		g.Go(func() error { return consumer.Run(gctx) })
		zapLog.Info("Processor registered", zap.Int("partitions", q.Partitions()))
	}

	// --- Fan-out ---
	if cfg.Fanout.Enabled {
		var opts []fanout.Option
		if cfg.Alerts.SNS.Enabled {
			snsClient, err := awsclient.NewSNSClient(ctx, cfg.Alerts.SNS.Region, cfg.Alerts.SNS.TopicARN)
			if err != nil {
				zapLog.Fatal("failed to create SNS client", zap.Error(err))
			}
			opts = append(opts, fanout.WithAlerts(snsClient))
		}

		svc := fanout.NewService(fanout.ConfigFrom(cfg.Fanout), counterStore, fanout.RecordStoreSource(recordStore), log, opts...)
		publicMux.Handle("/ws", svc.Handler())
		g.Go(func() error { return svc.Run(gctx) })
		zapLog.Info("Fan-out service registered")
	}

	// --- Intake ---
	if cfg.Intake.Enabled {
		intake.NewHandler(intake.ConfigFrom(cfg.Intake), q, log).Register(publicMux)
		zapLog.Info("Intake endpoint registered")
	}

	publicSrv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           publicMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	opsSrv := &http.Server{
		Addr:              cfg.Server.OpsAddress,
		Handler:           opsHandler(pg, redis),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error { return serve(publicSrv, zapLog, "Public") })
	g.Go(func() error { return serve(opsSrv, zapLog, "Health/Metrics") })

	// --- Graceful Shutdown ---
	g.Go(func() error {
		<-gctx.Done()
		zapLog.Info("Shutdown signal received, stopping...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		for _, srv := range []*http.Server{publicSrv, opsSrv} {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zapLog.Error("server shutdown failed", zap.String("addr", srv.Addr), zap.Error(err))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		zapLog.Error("Loan pipeline stopped with error", zap.Error(err))
		os.Exit(1)
	}
	zapLog.Info("Loan pipeline stopped gracefully")
}

func serve(srv *http.Server, log *zap.Logger, name string) error {
	log.Info(name+" server listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

func opsHandler(pg *database.PostgresClient, redis *database.RedisClient) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"postgres": "ok",
			"redis":    "ok",
		}
		status := http.StatusOK
		if err := pg.Ping(r.Context()); err != nil {
			checks["postgres"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if err := redis.Ping(r.Context()); err != nil {
			checks["redis"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		checks["status"] = "ready"
		if status != http.StatusOK {
			checks["status"] = "not ready"
		}
		checks["time"] = time.Now().Format(time.RFC3339)
		writeStatus(w, status, checks)
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func writeStatus(w http.ResponseWriter, status int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// listenerEvents logs connection changes of the error record LISTEN connection.
func listenerEvents(log logger.Logger) pq.EventCallbackType {
	return func(event pq.ListenerEventType, err error) {
		fields := map[string]interface{}{"component": "pq-listener"}
		if err != nil {
			fields["error"] = err.Error()
		}
		switch event {
		case pq.ListenerEventConnected:
			log.Debug("listener connected", fields)
		case pq.ListenerEventReconnected:
			log.Info("listener reconnected", fields)
		case pq.ListenerEventDisconnected:
			log.Warn("listener disconnected", fields)
		case pq.ListenerEventConnectionAttemptFailed:
			log.Warn("listener connection attempt failed", fields)
		}
	}
}
