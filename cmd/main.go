package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"reportbot/backend/internal/api/handler"
	"reportbot/backend/internal/config"
	"reportbot/backend/internal/conversation"
	"reportbot/backend/internal/feed"
	"reportbot/backend/internal/identity"
	"reportbot/backend/internal/localization"
	"reportbot/backend/internal/logging"
	"reportbot/backend/internal/notify"
	"reportbot/backend/internal/otp"
	"reportbot/backend/internal/simulator"
	"reportbot/backend/internal/storage"
	"reportbot/backend/internal/telegram"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func setupDependencies(cfg *config.AppConfig) (*gorm.DB, *redis.Client) {
	// 1. База даних (Postgres або SQLite залежно від DSN); міграції виконує Open
	db, err := storage.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	// 2. Redis необов'язковий: без нього ліміти OTP живуть у пам'яті процесу
	if cfg.RedisAddr == "" {
		log.Info("Redis is not configured, using in-process limiter and announcements")
		return db, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatalf("Failed to connect Redis: %v", err)
	}

	log.Info("Database and Redis connections established, migrations complete.")
	return db, rdb
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug("No .env file loaded")
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = config.DefaultPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	closer, err := logging.Setup(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer closer.Close()

	log.Info("Starting report bot...")

	if cfg.TelegramToken == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Ініціалізація залежностей
	db, rdb := setupDependencies(cfg)
	s := storage.NewStorageService(db, rdb)

	notifier := notify.NewNotifier(s)
	resolver := identity.NewResolver(s, notifier)
	if err := resolver.BootstrapOwner(ctx, cfg.OwnerID); err != nil {
		log.Fatalf("Failed to bootstrap owner: %v", err)
	}

	var limiter otp.Limiter
	if cfg.OTP.IssueLimit > 0 {
		if rdb != nil {
			limiter = otp.NewRedisLimiter(rdb, cfg.OTP.IssueLimit, cfg.OTP.IssueWindow)
		} else {
			limiter = otp.NewMemoryLimiter(cfg.OTP.IssueLimit, cfg.OTP.IssueWindow)
		}
	}
	var otpOpts []otp.Option
	if limiter != nil {
		otpOpts = append(otpOpts, otp.WithLimiter(limiter))
	}
	passcodes := otp.NewManager(s, cfg.OTP.TTL, otpOpts...)

	sim := simulator.New(simulator.RandomStrategy{Probability: cfg.Reports.SuccessProbability}, cfg.Reports.AttemptDelay)

	engine := conversation.NewEngine(conversation.Deps{
		OTP:       passcodes,
		Identity:  resolver,
		Records:   s,
		Simulator: sim,
		Announcer: notifier,
	}, conversation.SettingsFrom(cfg))

	// 2. Стрічка прогресу для адмінського API
	hub := feed.NewHub()
	if rdb != nil {
		hub.StartPubSubListener(ctx, rdb, notify.Channel)
	} else {
		notifier.AddSink(hub.Announce)
	}
	engine.AddObserver(hub)

	localizer, err := localization.NewLocalizer()
	if err != nil {
		log.Fatalf("Failed to load translations: %v", err)
	}
	botService, err := telegram.NewBotService(cfg.TelegramToken, engine, localizer)
	if err != nil {
		log.Fatalf("Failed to start Telegram bot: %v", err)
	}
	engine.AddObserver(botService.Progress())

	// 3. Запуск основних Goroutines
	var wg sync.WaitGroup
	run := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}
	run(func() { hub.Run(ctx) })
	run(func() { botService.Run(ctx) })
	passcodes.Start(ctx, config.OTPPruneInterval)
	engine.Start(ctx, config.SessionSweepInterval)

	// 4. HTTP API; без секрету токени неможливо перевірити, тож API вимкнено
	if cfg.HTTPAddr != "" && cfg.JWTSecret != "" {
		server := &http.Server{
			Addr:           cfg.HTTPAddr,
			Handler:        handler.NewHandler(s, hub, cfg.JWTSecret).Router(),
			ReadTimeout:    10 * time.Second,
			MaxHeaderBytes: 1 << 20,
		}
		run(func() {
			log.Infof("Admin API listening on %s", cfg.HTTPAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Admin API stopped: %v", err)
				stop()
			}
		})
		run(func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		})
	} else {
		log.Warn("Admin API disabled: HTTP_ADDR or JWT_SECRET is empty")
	}

	<-ctx.Done()
	log.Info("Shutting down...")
	wg.Wait()

	if rdb != nil {
		_ = rdb.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info("Bye")
}
