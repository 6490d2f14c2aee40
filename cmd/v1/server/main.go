package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/veilchat/backend/go/internal/v1/auth"
	"github.com/veilchat/backend/go/internal/v1/bus"
	"github.com/veilchat/backend/go/internal/v1/config"
	"github.com/veilchat/backend/go/internal/v1/health"
	"github.com/veilchat/backend/go/internal/v1/httpapi"
	"github.com/veilchat/backend/go/internal/v1/logging"
	"github.com/veilchat/backend/go/internal/v1/message"
	"github.com/veilchat/backend/go/internal/v1/profanity"
	"github.com/veilchat/backend/go/internal/v1/ratelimit"
	"github.com/veilchat/backend/go/internal/v1/retention"
	"github.com/veilchat/backend/go/internal/v1/rooms"
	"github.com/veilchat/backend/go/internal/v1/store"
	"github.com/veilchat/backend/go/internal/v1/tracing"
	"github.com/veilchat/backend/go/internal/v1/translate"
	"github.com/veilchat/backend/go/internal/v1/transport"
	"github.com/veilchat/backend/go/internal/v1/uploads"
)

func main() {
	// Load .env for local development; containers set real env vars.
	for _, path := range []string{".env", "../../../.env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		logging.Error(context.Background(), "Environment validation failed", zap.Error(err))
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		os.Exit(1)
	}
	defer func() { _ = logging.GetLogger().Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, "veilchat-backend", cfg.OtelCollectorAddr)
		if err != nil {
			logging.Error(ctx, "Failed to initialize tracing", zap.Error(err))
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logging.Warn(ctx, "Tracer shutdown failed", zap.Error(err))
			}
		}()
	}

	st, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		logging.Error(ctx, "Failed to open database", zap.Error(err), zap.String("path", cfg.DatabasePath))
		os.Exit(1)
	}
	defer st.Close()

	// Redis pub/sub for cross-instance socket fan-out. With Redis disabled
	// the bus is a local no-op and the server runs single-instance.
	redisAddr := ""
	if cfg.RedisEnabled {
		redisAddr = cfg.RedisAddr
	}
	busService, err := bus.NewService(redisAddr, cfg.RedisPassword, uuid.NewString())
	if err != nil {
		logging.Error(ctx, "Failed to connect to Redis", zap.Error(err), zap.String("addr", redisAddr))
		os.Exit(1)
	}
	defer busService.Close()

	var storage uploads.Storage
	if cfg.StorageDriver == "s3" {
		storage, err = uploads.NewS3Storage(ctx, cfg.StorageBucket)
	} else {
		storage, err = uploads.NewLocalStorage(cfg.UploadDir)
	}
	if err != nil {
		logging.Error(ctx, "Failed to initialize storage", zap.Error(err), zap.String("driver", cfg.StorageDriver))
		os.Exit(1)
	}
	signer := uploads.NewSigner(cfg.SigningSecret, cfg.SignedURLTTL)
	uploadSvc := uploads.NewService(st, storage, signer, cfg.StorageDriver, cfg.MaxFileSizeBytes, cfg.SignedURLTTL)

	authSvc := auth.NewService(st, auth.NewTokenIssuer(cfg.JWTSecret))
	roomSvc := rooms.NewService(st)
	translator := translate.NewService(cfg.TranslationEnabled, cfg.TranslationURL, cfg.TranslateMaxInputChars, busService.Client())

	limiter, err := ratelimit.NewRateLimiter(cfg, busService.Client())
	if err != nil {
		logging.Error(ctx, "Failed to build rate limiters", zap.Error(err))
		os.Exit(1)
	}

	msgSvc := message.NewService(st, profanity.NewFilter(), translator, nil, signer,
		time.Duration(cfg.MessageEditWindowSec)*time.Second, cfg.LegacySocketEvents)
	msgSvc.SetTranslationBudget(limiter)

	var allowedOrigins []string
	for _, o := range strings.Split(cfg.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowedOrigins = append(allowedOrigins, o)
		}
	}
	hub := transport.NewHub(roomSvc, msgSvc, busService, limiter, allowedOrigins)
	msgSvc.SetEmitter(hub)

	var wg sync.WaitGroup
	hub.StartBus(ctx, &wg)

	worker := retention.NewWorker(st, msgSvc, cfg.ExpireJobInterval, cfg.ExpireJobBatch,
		cfg.FreeRetentionDays, cfg.PremiumRetentionDays)
	worker.Start(ctx)

	router := httpapi.NewRouter(httpapi.Deps{
		Cfg:      cfg,
		Store:    st,
		Auth:     authSvc,
		Rooms:    roomSvc,
		Messages: msgSvc,
		Uploads:  uploadSvc,
		Hub:      hub,
		Health:   health.NewChecker(st, busService),
		Limiter:  limiter,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info(ctx, "API server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "Failed to run server", zap.Error(err))
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "Shutting down server...")

	shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
	defer done()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "Server forced to shutdown", zap.Error(err))
	}
	hub.Shutdown(shutdownCtx)

	// Stop the retention worker and bus subscribers, then wait for them.
	cancel()
	worker.Wait()
	wg.Wait()

	logging.Info(ctx, "Server exiting")
}
