package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/MDx-Vision/fcra-sub001/internal/api"
	"github.com/MDx-Vision/fcra-sub001/internal/config"
	"github.com/MDx-Vision/fcra-sub001/internal/domain"
	"github.com/MDx-Vision/fcra-sub001/internal/handlers/webhook"
	"github.com/MDx-Vision/fcra-sub001/internal/queue"
	"github.com/MDx-Vision/fcra-sub001/internal/scheduler"
	"github.com/MDx-Vision/fcra-sub001/internal/store"
	"github.com/MDx-Vision/fcra-sub001/internal/trigger"
	"github.com/MDx-Vision/fcra-sub001/internal/worker"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "path to YAML config file")
		addr    = flag.String("addr", "", "HTTP bind address (overrides config)")
		dbPath  = flag.String("db", "", "SQLite DB path (overrides config)")
		workers = flag.Int("workers", 0, "number of worker goroutines (overrides config)")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer st.Close()

	if n, err := st.RecoverStale(context.Background()); err != nil {
		log.Error().Err(err).Msg("recover stale tasks")
	} else if n > 0 {
		log.Info().Int64("recovered", n).Msg("recovered stale running tasks")
	}

	// Handler registry, populated at startup and injected into the queue.
	registry := queue.NewRegistry()
	q := queue.New(st, registry)
	engine := trigger.NewEngine(st, q)
	sched := scheduler.NewService(st, q, time.Duration(cfg.TickInterval))

	registry.Register(trigger.TaskTypeExecuteWorkflow, engine.HandleExecuteWorkflow)
	registry.Register("queue_cleanup", q.HandleCleanup)
	registry.Register("http_request", webhook.Handler{}.Handle)
	// Delivery stubs; a real deployment registers its email/SMS/document
	// integrations here instead.
	registry.Register("send_email", logDelivery("send_email"))
	registry.Register("send_sms", logDelivery("send_sms"))
	registry.Register("generate_document", logDelivery("generate_document"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cleanupPayload, _ := json.Marshal(map[string]int{"older_than_days": cfg.RetentionDays})
	if err := sched.EnsureJob(ctx, domain.ScheduledJob{
		Name:     "queue-cleanup",
		TaskType: "queue_cleanup",
		Payload:  cleanupPayload,
		CronExpr: "0 3 * * *",
	}); err != nil {
		log.Error().Err(err).Msg("seed cleanup job")
	}

	pool := worker.NewPool(q, cfg.Workers, cfg.DequeueBatch, time.Duration(cfg.PollInterval))
	go pool.Run(ctx)
	go sched.Start(ctx)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: api.NewServerWithDebug(q, sched, engine, cfg.Debug)}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	cancel()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}

func logDelivery(kind string) queue.HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		log.Info().Str("task_type", kind).Int("payload_bytes", len(payload)).Msg("delivery handled")
		return json.Marshal(map[string]string{"delivered": kind})
	}
}
