package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"trustgate/internal/admin"
	"trustgate/internal/authz"
	"trustgate/internal/enrichment"
	"trustgate/internal/fileupload"
	"trustgate/internal/handler"
	"trustgate/internal/kyc"
	"trustgate/internal/notification"
	"trustgate/internal/repository/postgres"
	"trustgate/internal/risk"
	"trustgate/internal/security"
	"trustgate/internal/verification"
	"trustgate/pkg/config"
	"trustgate/pkg/logger"
	"trustgate/pkg/validator"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New("trustgate")

	log.Info("Starting verification service", logger.Fields{
		"port": cfg.Server.Port,
	})

	db, err := postgres.Connect(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", logger.Fields{"error": err.Error()})
	}
	defer db.Close()
	log.Info("Database connected", nil)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("Failed to connect to Redis", logger.Fields{"error": err.Error()})
	}
	log.Info("Redis connected", nil)

	// Repositories
	verifRepo := postgres.NewVerificationRepository(db)
	riskRepo := postgres.NewRiskRepository(db)
	kycRepo := postgres.NewKYCRepository(db)
	userRepo := postgres.NewUserRepository(db)

	// Blob storage, encrypted at rest when a master key is configured.
	var sealer fileupload.Sealer
	if cfg.Storage.EncryptAtRest {
		if cfg.Storage.MasterKeyHex != "" {
			crypto, err := security.NewCrypto(cfg.Storage.MasterKeyHex)
			if err != nil {
				log.Fatal("Invalid storage master key", logger.Fields{"error": err.Error()})
			}
			sealer = crypto
		} else {
			crypto, err := security.NewRandomCrypto()
			if err != nil {
				log.Fatal("Failed to generate storage key", logger.Fields{"error": err.Error()})
			}
			log.Warn("STORAGE_MASTER_KEY not set, using ephemeral key; blobs will be unreadable after restart", nil)
			sealer = crypto
		}
	}
	blobs, err := fileupload.NewStore(cfg.Storage, sealer, log)
	if err != nil {
		log.Fatal("Failed to initialize blob store", logger.Fields{"error": err.Error()})
	}

	// Core services
	ledger := risk.NewLedger(db, verifRepo, riskRepo, log)
	machine := verification.NewMachine(db, verifRepo, ledger, cfg.Policy, log)

	notifier := notification.NewService(notification.NewLogSender(log), log)

	ocr := enrichment.NewMockOCRProvider(log)
	faces := enrichment.NewMockFaceMatchProvider(log)

	kycService := kyc.NewService(db, kycRepo, machine, ocr, faces, notifier, cfg.Policy, cfg.Worker, log)
	kycService.Start()
	defer kycService.Stop()

	adminService := admin.NewService(machine, ledger, kycService, verifRepo, notifier, log)
	gate := authz.NewGate(verifRepo, kycRepo, log)

	// HTTP surface
	val := validator.New()
	router := handler.NewRouter(handler.RouterDeps{
		Verification: handler.NewVerificationHandler(machine, userRepo, val, log),
		KYC:          handler.NewKYCHandler(kycService, blobs, log),
		Admin:        handler.NewAdminHandler(adminService, kycService, val, log),
		Gate:         gate,
		JWTSecret:    cfg.JWT.Secret,
		Redis:        redisClient,
		Logger:       log,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Verification service started", logger.Fields{"address": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", logger.Fields{"error": err.Error()})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down verification service...", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Verification service forced to shutdown", logger.Fields{"error": err.Error()})
	}

	log.Info("Verification service stopped gracefully", nil)
}
