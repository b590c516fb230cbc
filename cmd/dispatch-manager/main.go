// cmd/dispatch-manager/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"broadcast-dispatch/internal/activator"
	"broadcast-dispatch/internal/broadcast"
	awsclient "broadcast-dispatch/internal/common/aws"
	"broadcast-dispatch/internal/common/config"
	"broadcast-dispatch/internal/common/database"
	"broadcast-dispatch/internal/common/logger"
	"broadcast-dispatch/internal/common/observability"
	"broadcast-dispatch/internal/completion"
	"broadcast-dispatch/internal/dispatch"
	"broadcast-dispatch/internal/hooks"
	"broadcast-dispatch/internal/queue"
	"broadcast-dispatch/internal/store"
	"broadcast-dispatch/internal/template"
	"broadcast-dispatch/internal/transport"
	"broadcast-dispatch/pkg/registry"
)

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
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	bootLog := logger.New("info", "console")
	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal("config load failed", zap.Error(err))
	}
	_ = bootLog.Sync()

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting dispatch manager...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(observability.Options{
		ServiceName:    cfg.Observability.ServiceName,
		JaegerEndpoint: cfg.Observability.JaegerEndpoint,
		Logger:         log,
	})
	tracer := obs.Tracer()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	readiness := map[string]func(context.Context) error{}

	// --- Store ---
	var st store.Store
	switch cfg.Database.Driver {
	case "memory":
		st = store.NewMemoryStore()
		zapLog.Warn("Using in-memory store; broadcasts are lost on restart")
	default:
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
		st = store.NewPostgresStore(pg.DB)
		readiness["postgres"] = pg.Ping
		zapLog.Info("PostgreSQL connected successfully")
	}

	// --- Redis ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	readiness["redis"] = rdb.Ping
	zapLog.Info("Redis connected successfully")

	// --- Queue ---
	tasks := registry.Default()
	validator, err := tasks.PayloadValidator(dispatch.TaskType)
	if err != nil {
		zapLog.Fatal("dispatch payload schema invalid", zap.Error(err))
	}
	dispatchQueue := queue.NewRedisQueue(rdb.Client, queue.ConfigFrom(cfg.Queue),
		queue.WithLogger(log),
		queue.WithValidator(validator),
		queue.WithTracer(tracer),
	)

	// --- Hooks ---
	var notifier hooks.Notifier = hooks.NopNotifier{}
	if url := cfg.Notifications.Webhook.URL; url != "" {
		notifier = hooks.NewWebhookNotifier(url, config.GetDuration(cfg.Notifications.Webhook.TimeoutMs), log)
		zapLog.Info("Webhook notifications enabled")
	}

	reportOpts, esClient := reportOptions(ctx, cfg, zapLog)
	if esClient != nil {
		readiness["elasticsearch"] = esClient.Ping
	}
	report := hooks.NewReportGenerator(st, log, reportOpts...)

	detector := completion.NewDetector(st, log,
		completion.WithReportHook(report),
		completion.WithNotifier(notifier),
	)

	service := broadcast.NewService(st, dispatchQueue,
		broadcast.WithLogger(log),
		broadcast.WithTracer(tracer),
		broadcast.WithNotifier(notifier),
		broadcast.WithCompletionChecker(detector),
		broadcast.WithDefaultTimezone(cfg.Scheduler.Timezone),
	)

	// --- Transport ---
	gateway, closeGateway := newTransport(ctx, cfg, service, log, zapLog)
	defer closeGateway()

	var wg sync.WaitGroup

	// --- Dispatch workers ---
	if wcfg := config.GetWorkerConfig(cfg, dispatch.TaskType); wcfg.Enabled {
		handlerOpts := []dispatch.HandlerOption{
			dispatch.WithCompletionChecker(detector),
			dispatch.WithNotifier(notifier),
			dispatch.WithEngine(template.New(template.WithLocale(template.LookupLocale("pt_BR")))),
		}
		if cfg.Gateway.RatePerSecond > 0 {
			handlerOpts = append(handlerOpts, dispatch.WithRateLimiter(rate.NewLimiter(rate.Limit(cfg.Gateway.RatePerSecond), cfg.Gateway.Burst)))
		}
		handler := dispatch.NewHandler(&dispatch.Config{Timeout: config.GetDuration(wcfg.Timeout)}, st, gateway, log, handlerOpts...)
		pool := dispatch.NewPool(wcfg, dispatchQueue, handler, log, dispatch.WithObservability(obs))

		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Run(ctx)
		}()
		zapLog.Info("worker started",
			zap.String("taskType", dispatch.TaskType),
			zap.Int("maxJobsActive", wcfg.MaxJobsActive),
			zap.Int("timeout_ms", wcfg.Timeout),
		)
	} else {
		zapLog.Info("worker disabled", zap.String("taskType", dispatch.TaskType))
	}

	// --- Scheduled activator ---
	var act *activator.Activator
	if config.IsWorkerEnabled(cfg, config.WorkerScheduledCheck) {
		act, err = activator.New(cfg.Scheduler, st, service,
			activator.WithCycleLock(rdb.Client, cfg.Queue.KeyPrefix),
			activator.WithLogger(log),
			activator.WithTracer(tracer),
			activator.WithCycleTimeout(config.GetDuration(config.GetWorkerConfig(cfg, config.WorkerScheduledCheck).Timeout)),
		)
		if err != nil {
			zapLog.Fatal("failed to create scheduled activator", zap.Error(err))
		}
		act.Start(ctx)
		zapLog.Info("worker started", zap.String("taskType", config.WorkerScheduledCheck), zap.String("spec", cfg.Scheduler.Spec))
	} else {
		zapLog.Info("worker disabled", zap.String("taskType", config.WorkerScheduledCheck))
	}

	// --- Health & Metrics Server ---
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           newOpsRouter(readiness, time.Now),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	zapLog.Info("Shutdown signal received, stopping workers...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if act != nil {
		act.Stop()
	}
	wg.Wait()
	detector.Wait()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping Health/Metrics server", zap.Error(err))
	}
	obs.Shutdown(shutdownCtx)

	zapLog.Info("Dispatch manager stopped gracefully")
}

// reportOptions connects the optional report sinks: Elasticsearch and SES.
func reportOptions(ctx context.Context, cfg *config.Config, zapLog *zap.Logger) ([]hooks.ReportOption, *database.ElasticsearchClient) {
	var opts []hooks.ReportOption
	var esClient *database.ElasticsearchClient

	if cfg.Database.Elasticsearch.Enabled() {
		err := retryWithBackoff(func() error {
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
		opts = append(opts, hooks.WithIndexer(esClient, cfg.Database.Elasticsearch.ReportIndex))
		zapLog.Info("Elasticsearch connected successfully")
	}

	if ses := cfg.Integrations.AWS.SES; ses.Enabled {
		client, err := awsclient.NewSESClient(ctx, cfg.Integrations.AWS.Region, ses.FromEmail)
		if err != nil {
			zapLog.Fatal("failed to create SES client", zap.Error(err))
		}
		opts = append(opts, hooks.WithMailer(client, ses.ReportRecipients))
		zapLog.Info("SES campaign reports enabled", zap.Strings("recipients", ses.ReportRecipients))
	}
	return opts, esClient
}

// newTransport builds the configured gateway. The returned func releases it.
func newTransport(ctx context.Context, cfg *config.Config, sink transport.ReceiptSink, log logger.Logger, zapLog *zap.Logger) (transport.Transport, func()) {
	switch cfg.Gateway.Driver {
	case "sns":
		sns := cfg.Integrations.AWS.SNS
		client, err := awsclient.NewSNSClient(ctx, cfg.Integrations.AWS.Region, sns.DefaultSMSSenderID, sns.SMSType)
		if err != nil {
			zapLog.Fatal("failed to create SNS client", zap.Error(err))
		}
		zapLog.Info("Gateway: SNS SMS", zap.String("region", cfg.Integrations.AWS.Region))
		return transport.NewSNSTransport(client, log), func() {}
	default:
		var opts []transport.SimulatedOption
		if cfg.Gateway.SimulateDelivery {
			opts = append(opts, transport.WithReceipts(sink, config.GetDuration(cfg.Gateway.ReceiptDelayMs)))
		}
		sim := transport.NewSimulatedTransport(log, opts...)
		zapLog.Info("Gateway: simulated", zap.Bool("simulateDelivery", cfg.Gateway.SimulateDelivery))
		return sim, sim.Close
	}
}
