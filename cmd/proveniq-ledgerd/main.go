// Command proveniq-ledgerd runs the ledger HTTP server: ingestion,
// retrieval, integrity verification, proof-view issuance, and the webhook
// delivery worker, all backed by a single Postgres database.
package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/terryholliday/proveniq-ledger/internal/api"
	"github.com/terryholliday/proveniq-ledger/internal/appendengine"
	"github.com/terryholliday/proveniq-ledger/internal/audit"
	"github.com/terryholliday/proveniq-ledger/internal/authctx"
	"github.com/terryholliday/proveniq-ledger/internal/config"
	"github.com/terryholliday/proveniq-ledger/internal/envelope"
	"github.com/terryholliday/proveniq-ledger/internal/evidenceblob"
	"github.com/terryholliday/proveniq-ledger/internal/integrity"
	"github.com/terryholliday/proveniq-ledger/internal/ledgerstore"
	"github.com/terryholliday/proveniq-ledger/internal/proofview"
	"github.com/terryholliday/proveniq-ledger/internal/webhook"
)

func main() {
	os.Exit(run())
}

func run() int {
	log.Println("[proveniq-ledgerd] starting")
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Printf("[proveniq-ledgerd] config: %v", err)
		return 2
	}

	logger := newLogger(cfg)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Printf("[proveniq-ledgerd] open database: %v", err)
		return 2
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Printf("[proveniq-ledgerd] ping database: %v", err)
		return 2
	}
	log.Println("[proveniq-ledgerd] postgres: connected")

	store := ledgerstore.NewSQLStore(db, ledgerstore.DriverPostgres)
	if err := store.Init(ctx); err != nil {
		log.Printf("[proveniq-ledgerd] init ledger store: %v", err)
		return 2
	}

	webhookStore := webhook.NewSQLStore(db, ledgerstore.DriverPostgres)
	if err := webhookStore.Init(ctx); err != nil {
		log.Printf("[proveniq-ledgerd] init webhook store: %v", err)
		return 2
	}

	checkpointStore := integrity.NewSQLCheckpointStore(db, ledgerstore.DriverPostgres)
	if err := checkpointStore.Init(ctx); err != nil {
		log.Printf("[proveniq-ledgerd] init checkpoint store: %v", err)
		return 2
	}

	cache, err := webhook.NewSubscriptionCache(cfg.RedisURL, 30*time.Second)
	if err != nil {
		log.Printf("[proveniq-ledgerd] init subscription cache: %v", err)
		return 2
	}

	blobStore, err := evidenceblob.NewStoreFromEnv(ctx)
	if err != nil {
		log.Printf("[proveniq-ledgerd] init evidence blob store: %v", err)
		return 2
	}

	validator, err := envelope.NewValidator(cfg.AllowedSchemaVersions)
	if err != nil {
		log.Printf("[proveniq-ledgerd] init envelope validator: %v", err)
		return 2
	}

	auditLogger := audit.NewSlogLogger(logger)
	webhookEngine := webhook.NewEngine(webhookStore, cache)
	appendEngine := appendengine.New(validator, store, webhookEngine, auditLogger, "proveniq-ledgerd")

	proofStore := proofview.NewSQLStore(db, ledgerstore.DriverPostgres)
	if err := proofStore.Init(ctx); err != nil {
		log.Printf("[proveniq-ledgerd] init proof-view store: %v", err)
		return 2
	}
	proofService := proofview.NewService(proofStore, store, appendEngine, auditLogger, "proveniq-ledgerd")

	verifier := integrity.NewVerifier(store, checkpointStore)
	webhookService := webhook.NewService(webhookStore, cache)
	backoff := webhook.NewBackoff(int64(cfg.BackoffBaseSeconds), int64(cfg.BackoffCapSeconds))
	worker := webhook.NewWorker("proveniq-ledgerd-worker-1", webhookStore, store, backoff, cfg.WebhookMaxAttempts, auditLogger, logger)

	limiter := api.NewGlobalRateLimiter(50, 100)
	authenticator := authctx.NewAuthenticator(cfg.AdminAPIKey)

	srv := api.NewServer(api.Config{
		Store:         store,
		Engine:        appendEngine,
		Proofs:        proofService,
		Verifier:      verifier,
		Webhooks:      webhookService,
		Worker:        worker,
		Blobs:         blobStore,
		Auth:          authenticator,
		Limiter:       limiter,
		ActiveVersion: cfg.ActiveSchemaVersion,
		Logger:        logger,
	})

	workerCtx, cancelWorker := context.WithCancel(ctx)
	go worker.Run(workerCtx, cfg.WebhookBatchSize, 30*time.Second)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Printf("[proveniq-ledgerd] listening on :%s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[proveniq-ledgerd] server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("[proveniq-ledgerd] shutting down")

	cancelWorker()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[proveniq-ledgerd] shutdown error: %v", err)
	}
	return 0
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
