package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/wxjbaga/medical/pkg/audit"
	"github.com/wxjbaga/medical/pkg/auth"
	"github.com/wxjbaga/medical/pkg/clients/algorithm"
	"github.com/wxjbaga/medical/pkg/clients/filestore"
	"github.com/wxjbaga/medical/pkg/common/config"
	"github.com/wxjbaga/medical/pkg/common/database"
	"github.com/wxjbaga/medical/pkg/common/kafka"
	"github.com/wxjbaga/medical/pkg/common/logger"
	"github.com/wxjbaga/medical/pkg/common/web"
	"github.com/wxjbaga/medical/pkg/dataset"
	"github.com/wxjbaga/medical/pkg/feedback"
	"github.com/wxjbaga/medical/pkg/history"
	"github.com/wxjbaga/medical/pkg/identity"
	"github.com/wxjbaga/medical/pkg/model"
	"github.com/wxjbaga/medical/pkg/snapshot"
)

func main() {
	logger.Init()
	cfg, err := config.Load()
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load configuration")
	}

	db, err := database.OpenPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to connect to postgres")
	}
	defer database.ClosePostgres(db)

	redisClient, err := database.OpenRedis(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to connect to redis")
	}
	defer redisClient.Close()

	// Repositories and schema.
	datasetRepo := dataset.NewRepository(db)
	modelRepo := model.NewRepository(db)
	userRepo := identity.NewRepository(db)
	feedbackRepo := feedback.NewRepository(db)
	historyRepo := history.NewRepository(db)
	for name, migrate := range map[string]func() error{
		"datasets":  datasetRepo.AutoMigrate,
		"models":    modelRepo.AutoMigrate,
		"users":     userRepo.AutoMigrate,
		"feedbacks": feedbackRepo.AutoMigrate,
		"histories": historyRepo.AutoMigrate,
	} {
		if err := migrate(); err != nil {
			logger.Log.WithError(err).WithField("table", name).Fatal("Failed to migrate schema")
		}
	}

	// Lifecycle events go to Kafka when brokers are configured.
	var recorder audit.Recorder = audit.NopRecorder{}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaBrokers[0] != "" {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.AuditEventTopic)
		defer producer.Close()
		recorder = audit.NewKafkaRecorder(producer, "server")
	}

	files := filestore.New(cfg.FileServerURL, cfg.FileServerTimeout)
	compute := algorithm.New(cfg.AlgorithmBaseURL, cfg.AlgorithmTimeout)
	snapshots := snapshot.NewManager(files, snapshot.DefaultBucket)

	jwtManager, err := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to initialize token manager")
	}
	sessions := auth.NewSessionStore(redisClient)
	authMW := auth.NewMiddleware(jwtManager, sessions, cfg.InternalToken, cfg.SystemUserID)

	datasetService := dataset.NewService(db, datasetRepo, files, compute, recorder)
	modelService := model.NewService(db, modelRepo, datasetRepo, snapshots, files, compute, recorder)
	userService := identity.NewService(userRepo, jwtManager, sessions, files, recorder)
	feedbackService := feedback.NewService(feedbackRepo, modelRepo, files, recorder)
	historyService := history.NewService(historyRepo, modelRepo, files, recorder)

	if err := ensureAdmin(context.Background(), userRepo); err != nil {
		logger.Log.WithError(err).Fatal("Failed to seed administrator account")
	}

	router := mux.NewRouter()
	router.Use(web.Logging)
	router.Use(web.Recovery)
	router.Use(web.CORS)
	router.Use(web.BodyLimit(cfg.MaxRequestBody))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	userHandler := identity.NewHandler(userService)

	// Login and register work without a token.
	publicUsers := router.PathPrefix("/user").Subrouter()
	userHandler.RegisterPublic(publicUsers)

	authed := router.PathPrefix("/").Subrouter()
	authed.Use(authMW.Authenticate)

	users := authed.PathPrefix("/user").Subrouter()
	userHandler.Register(users)

	datasets := authed.PathPrefix("/dataset").Subrouter()
	dataset.NewHandler(datasetService).Register(datasets, authMW.RequireInternal)

	models := authed.PathPrefix("/model").Subrouter()
	model.NewHandler(modelService).Register(models, authMW.RequireInternal)

	feedbacks := authed.PathPrefix("/feedback").Subrouter()
	feedback.NewHandler(feedbackService).Register(feedbacks)

	histories := authed.PathPrefix("/history").Subrouter()
	history.NewHandler(historyService).Register(histories)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Server started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Forced shutdown")
	}
	logger.Log.Info("Server stopped")
}

// ensureAdmin seeds the first administrator so a fresh deployment can
// be logged into. The password comes from ADMIN_PASSWORD and should be
// rotated after first login.
func ensureAdmin(ctx context.Context, repo *identity.Repository) error {
	count, err := repo.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		password = "admin123"
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	admin := &identity.User{
		Username:     "admin",
		PasswordHash: string(hash),
		Nickname:     "Administrator",
		Role:         identity.RoleAdmin,
		Status:       identity.StatusEnabled,
	}
	if err := repo.Create(ctx, admin); err != nil {
		return err
	}
	logger.Log.WithField("user_id", admin.ID).Info("Seeded administrator account")
	return nil
}
