package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cipherchat/config"
	"cipherchat/internal/devices"
	"cipherchat/internal/handler"
	"cipherchat/internal/redis"
	"cipherchat/internal/repository"
	"cipherchat/internal/server"
	"cipherchat/internal/services"
	"cipherchat/internal/session"
	"cipherchat/internal/token"
	"cipherchat/pkg/database"
	"cipherchat/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()

	logMode := logger.DevelopmentMode
	if cfg.AppMode == "production" {
		logMode = logger.ProductionMode
	}
	l := logger.New(logMode)
	logger.SetGlobalLogger(l)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	rdb := redis.NewClient(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	cache := redis.NewCacheStore(rdb, redis.DefaultCacheConfig())

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionCfg := session.Config{
		IdleTimeout:     time.Duration(cfg.SessionIdleMin) * time.Minute,
		AbsoluteTimeout: time.Duration(cfg.SessionAbsoluteHour) * time.Hour,
		MaxPerUser:      cfg.MaxSessionsPerUser,
		SweepInterval:   time.Duration(cfg.SessionSweepSec) * time.Second,
	}

	var sessions session.Registry
	var revoked token.RevocationList
	if err := rdb.Ping(rootCtx).Err(); err != nil {
		// Single-process degraded mode. Sessions and revocations do not
		// survive a restart and are not shared between replicas.
		l.Warn(rootCtx, "redis unreachable, using in-memory session and revocation state", zap.Error(err))
		memory := session.NewMemoryRegistry(sessionCfg)
		memory.StartSweeper(rootCtx)
		sessions = memory
		revoked = token.NewMemoryRevocationList()
	} else {
		sessions = session.NewRedisRegistry(rdb, sessionCfg)
		revoked = token.NewRedisRevocationList(rdb)
	}

	issuer := token.NewIssuer(token.Config{
		AccessSecret:  []byte(cfg.AccessSecret),
		RefreshSecret: []byte(cfg.RefreshSecret),
		AccessTTL:     time.Duration(cfg.AccessExpiryMin) * time.Minute,
		RefreshTTL:    time.Duration(cfg.RefreshExpiry) * 24 * time.Hour,
	}, revoked)

	userRepo := repository.NewUserRepository(db)
	deviceRepo := repository.NewDeviceRepository(db)
	keyRepo := repository.NewKeyRepository(db)
	chatRepo := repository.NewChatRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	deviceSvc := services.NewDeviceService(deviceRepo, devices.NewVerifier(), l)
	keySvc := services.NewKeyService(keyRepo, l)
	chatSvc := services.NewChatService(chatRepo, cache, l)
	messageSvc := services.NewMessageService(messageRepo, userRepo, chatSvc, cache, l, services.MessageConfig{
		EditWindow:   time.Duration(cfg.EditWindowMin) * time.Minute,
		PageLimitMax: cfg.PageLimitMax,
	})
	authSvc := services.NewAuthService(userRepo, deviceSvc, keySvc, issuer, sessions, l, cfg.TOTPIssuer)

	batcher := services.NewBatcher(messageSvc, l, services.BatcherConfig{
		Window:  time.Duration(cfg.BatchWindowMs) * time.Millisecond,
		MaxSize: cfg.BatchMaxSize,
	})
	go batcher.Run(rootCtx)

	go func() {
		ticker := time.NewTicker(6 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := keySvc.PruneConsumedPrekeys(rootCtx, 30*24*time.Hour); err != nil {
					l.Warn(rootCtx, "prekey gc failed", zap.Error(err))
				} else if n > 0 {
					l.Info(rootCtx, "prekey gc", zap.Int64("pruned", n))
				}
			case <-rootCtx.Done():
				return
			}
		}
	}()

	srv := server.New(cfg, server.Handlers{
		Auth:    handler.NewAuthHandler(authSvc, deviceSvc),
		Keys:    handler.NewKeyHandler(keySvc),
		Chats:   handler.NewChatHandler(chatSvc),
		Message: handler.NewMessageHandler(messageSvc, batcher),
	}, issuer, sessions, l)

	go func() {
		l.Info(rootCtx, "server starting", zap.String("port", cfg.AppPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error(rootCtx, "server stopped", zap.Error(err))
			stop()
		}
	}()

	<-rootCtx.Done()
	l.Info(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error(shutdownCtx, "shutdown incomplete", zap.Error(err))
	}
}
