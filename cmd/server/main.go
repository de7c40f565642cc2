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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"visitorpass/internal/audit"
	"visitorpass/internal/directory"
	"visitorpass/internal/platform/config"
	"visitorpass/internal/platform/httpserver"
	"visitorpass/internal/platform/kafka"
	"visitorpass/internal/platform/logger"
	"visitorpass/internal/platform/metrics"
	"visitorpass/internal/platform/tasks"
	"visitorpass/internal/ratelimit"
	"visitorpass/internal/visitor/credential"
	"visitorpass/internal/visitor/handler"
	visitormetrics "visitorpass/internal/visitor/metrics"
	"visitorpass/internal/visitor/service"
	"visitorpass/internal/whatsapp"
	"visitorpass/pkg/platform/circuit"
	"visitorpass/pkg/platform/httputil"
	"visitorpass/pkg/platform/middleware/metadata"
	"visitorpass/pkg/platform/middleware/request"
	"visitorpass/pkg/platform/middleware/requesttime"
)

const (
	shutdownTimeout = 15 * time.Second
	auditBuffer     = 1024
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal service packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("visitorpass stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	be, err := openBackend(ctx, cfg, log, reg)
	if err != nil {
		return err
	}
	defer be.Close()

	issuer, err := credential.NewIssuer(cfg.BaseURL, []byte(cfg.Credential.SigningKey), cfg.Credential.Version)
	if err != nil {
		return err
	}

	people, err := directory.Load(cfg.DirectoryFile)
	if err != nil {
		return err
	}

	runner := tasks.New(cfg.Tasks.Workers, cfg.Tasks.QueueSize, cfg.Tasks.Timeout,
		tasks.WithLogger(log),
		tasks.WithMetrics(tasks.NewMetrics(reg)),
	)

	publisher := audit.NewPublisher(auditBuffer, audit.WithLogger(log), audit.WithRegisterer(reg))
	sink, closeSink, err := openAuditSink(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSink()

	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(visitormetrics.New(reg)),
		service.WithAuditPublisher(publisher),
		service.WithTasks(runner),
		service.WithWebhook(cfg.WhatsApp.VerifyToken, cfg.WhatsApp.AppSecret),
	}
	if cfg.WhatsApp.Enabled() {
		opts = append(opts, service.WithNotifier(whatsapp.NewClient(cfg.WhatsApp,
			whatsapp.WithLogger(log),
			whatsapp.WithBreaker(circuit.New("whatsapp")),
		)))
	} else {
		log.WarnContext(ctx, "WhatsApp is not configured, notifications are disabled")
	}
	svc, err := service.New(be.store, issuer, opts...)
	if err != nil {
		return err
	}

	limiter := ratelimit.New(be.rateLimitStore(), ratelimit.LimitsFromConfig(cfg.RateLimit), log,
		ratelimit.WithDisabled(cfg.RateLimit.Disabled),
		ratelimit.WithRegisterer(reg),
	)

	router := newRouter(cfg, log, reg, svc, people, limiter, be.health)
	srv := httpserver.New(cfg.Addr, router)

	// Workers get their own context so they outlive the HTTP server during
	// shutdown and drain what it already accepted.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()
	runner.Start(workCtx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(ctx, "starting visitorpass",
			"addr", cfg.Addr,
			"env", cfg.Environment,
			"store", cfg.Store.Backend,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	auditDone := make(chan error, 1)
	go func() {
		auditDone <- audit.NewWorker(sink, publisher.Inbox(), log).Run(workCtx)
	}()
	go svc.WatchFailures(workCtx, runner.Errors())

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if cerr := runner.Close(shutdownCtx); cerr != nil {
			log.Warn("task runner did not drain", "error", cerr)
		}
		publisher.Close()
		select {
		case <-auditDone:
		case <-shutdownCtx.Done():
			log.Warn("audit worker did not drain")
		}
		cancelWork()
		return err
	})

	return g.Wait()
}

func newRouter(cfg config.Server, log *slog.Logger, reg *prometheus.Registry, svc *service.Service, people *directory.Directory, limiter *ratelimit.Middleware, health func(context.Context) error) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(request.RequestID)
	r.Use(request.Logger(log))
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(metrics.New(reg).Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := health(r.Context()); err != nil {
			log.WarnContext(r.Context(), "health check failed", "error", err)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	handler.New(svc, people, log,
		handler.WithAdminToken(cfg.Security.AdminToken),
		handler.WithStaffToken(cfg.Security.StaffToken),
		handler.WithLimiter(limiter),
	).Register(r)
	return r
}

// openAuditSink publishes to Kafka when brokers are configured and keeps the
// trail in memory otherwise.
func openAuditSink(ctx context.Context, cfg config.Server, log *slog.Logger) (audit.Sink, func(), error) {
	if len(cfg.Kafka.Brokers) == 0 {
		log.InfoContext(ctx, "no KAFKA_BROKERS, audit events kept in memory")
		return audit.NewMemorySink(), func() {}, nil
	}
	producer, err := kafka.NewProducer(cfg.Kafka, log)
	if err != nil {
		return nil, nil, err
	}
	if err := producer.EnsureTopic(ctx, cfg.Kafka.AuditTopic, 3, 1); err != nil {
		log.WarnContext(ctx, "audit topic not ensured", "topic", cfg.Kafka.AuditTopic, "error", err)
	}
	closeFn := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := producer.Close(closeCtx); err != nil {
			log.Warn("kafka producer close", "error", err)
		}
	}
	return audit.NewKafkaSink(producer, cfg.Kafka.AuditTopic), closeFn, nil
}
