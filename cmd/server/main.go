package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/pulse/pulse/internal/config"
	"github.com/pulse/pulse/internal/handlers"
	"github.com/pulse/pulse/internal/middleware"
	"github.com/pulse/pulse/internal/models"
	"github.com/pulse/pulse/internal/repository"
	"github.com/pulse/pulse/internal/service"
)

type stores struct {
	accounts    service.AccountStore
	revocations service.RevocationStore
	closers     []func(context.Context) error
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("log_level", cfg.LogLevel).Warn("Unknown log level, using info")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Endpoint,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	startCtx, cancelStart := context.WithTimeout(context.Background(), 15*time.Second)
	st, err := initStores(startCtx, cfg, redisClient, logger)
	cancelStart()
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize storage")
	}

	metrics := service.NewMetricsService()
	hasher := service.NewBcryptHasher(cfg.Hash.Cost)
	tokens := service.NewJWTService(logger)
	ledger := service.NewRevocationService(st.revocations, cfg.Storage.Timeout, metrics, logger)
	credentials := service.NewCredentialService(cfg.JWT, tokens, ledger, st.accounts, cfg.Storage.Timeout, metrics, logger)
	codes := service.NewVerificationCodeService(redisClient, hasher, cfg.ResetCode, logger)
	accounts := service.NewAccountService(st.accounts, hasher, credentials, codes, cfg.Storage.Timeout, cfg.IsDevelopment(), logger)

	validate := validator.New()
	authHandlers := handlers.NewAuthHandlers(accounts, validate, cfg.IsDevelopment(), logger)
	userHandlers := handlers.NewUserHandlers(accounts, credentials, validate, cfg.IsDevelopment(), logger)
	authMiddleware := middleware.NewAuthMiddleware(credentials, cfg.IsDevelopment(), logger)

	router := setupRouter(authHandlers, userHandlers, authMiddleware, metrics, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":           cfg.Server.Port,
			"storage":        cfg.Storage.Driver,
			"revocation":     cfg.LedgerDriver(),
			"environment":    cfg.Env,
			"access_expiry":  cfg.JWT.AccessExpiry.String(),
			"refresh_expiry": cfg.JWT.RefreshExpiry.String(),
		}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	for _, closeStore := range st.closers {
		if err := closeStore(ctx); err != nil {
			logger.WithError(err).Warn("Failed to close store")
		}
	}
	if err := redisClient.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close Redis client")
	}

	logger.Info("Server exited")
}

func initStores(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger *logrus.Logger) (*stores, error) {
	st := &stores{}

	var dynamoClient *dynamodb.Client
	var mongoStore *repository.MongoStore

	needs := map[string]bool{cfg.Storage.Driver: true, cfg.LedgerDriver(): true}

	if needs[config.DriverDynamoDB] {
		client, err := initDynamoDB(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		dynamoClient = client
	}

	if needs[config.DriverMongoDB] {
		s, err := repository.NewMongoStore(ctx, cfg.MongoDB.URI, cfg.MongoDB.Database)
		if err != nil {
			return nil, err
		}
		mongoStore = s
		st.closers = append(st.closers, s.Close)
		logger.WithField("database", cfg.MongoDB.Database).Info("MongoDB client initialized")
	}

	if needs[config.DriverRedis] {
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to reach Redis: %w", err)
		}
	}

	switch cfg.Storage.Driver {
	case config.DriverMongoDB:
		st.accounts = mongoStore
	default:
		st.accounts = repository.NewUserRepository(dynamoClient, cfg.DynamoDB.TableName, logger)
	}

	switch cfg.LedgerDriver() {
	case config.DriverMongoDB:
		st.revocations = mongoStore.Revocations()
	case config.DriverRedis:
		st.revocations = repository.NewRedisRevocationStore(redisClient)
	default:
		st.revocations = repository.NewRevocationRepository(dynamoClient, cfg.DynamoDB.TableName, logger)
	}

	return st, nil
}

func initDynamoDB(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, error) {
	var awsCfg aws.Config
	var err error

	if cfg.DynamoDB.Endpoint != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.DynamoDB.Region),
			awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{
						URL:           cfg.DynamoDB.Endpoint,
						SigningRegion: cfg.DynamoDB.Region,
					}, nil
				})),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.DynamoDB.Region))
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg)
	logger.WithField("table", cfg.DynamoDB.TableName).Info("DynamoDB client initialized")
	return client, nil
}

func setupRouter(
	authHandlers *handlers.AuthHandlers,
	userHandlers *handlers.UserHandlers,
	authMiddleware *middleware.AuthMiddleware,
	metrics *service.MetricsService,
	logger *logrus.Logger,
) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.CORSMiddleware)
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.Metrics(metrics))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "OPTIONS")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()

	auth := api.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/signup", authHandlers.Signup).Methods("POST", "OPTIONS")
	auth.HandleFunc("/login", authHandlers.Login).Methods("POST", "OPTIONS")
	auth.HandleFunc("/confirm-email", authHandlers.ConfirmEmail).Methods("PATCH", "OPTIONS")
	auth.HandleFunc("/forgot-password", authHandlers.ForgotPassword).Methods("POST", "OPTIONS")
	auth.HandleFunc("/verify-forgot-password", authHandlers.VerifyForgotPassword).Methods("POST", "OPTIONS")
	auth.HandleFunc("/reset-password", authHandlers.ResetPassword).Methods("POST", "OPTIONS")

	// Router middleware only runs on a matched route, so every route lists
	// OPTIONS for CORSMiddleware to answer preflights.
	refresh := api.PathPrefix("/users").Subrouter()
	refresh.Use(authMiddleware.Authenticate(service.PurposeRefresh))
	refresh.HandleFunc("/refresh-token", userHandlers.RefreshToken).Methods("POST", "OPTIONS")

	staff := authMiddleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin)

	users := api.PathPrefix("/users").Subrouter()
	users.Use(authMiddleware.Authenticate(service.PurposeAccess))
	users.HandleFunc("/logout", userHandlers.Logout).Methods("POST", "OPTIONS")
	users.HandleFunc("/me", userHandlers.Me).Methods("GET", "OPTIONS")
	users.HandleFunc("/password", userHandlers.ChangePassword).Methods("PATCH", "OPTIONS")
	users.HandleFunc("/freeze-account", userHandlers.FreezeAccount).Methods("DELETE", "OPTIONS")
	users.Handle("/{id}/freeze-account", staff(http.HandlerFunc(userHandlers.FreezeAccount))).Methods("DELETE", "OPTIONS")
	users.Handle("/{id}/restore-account", staff(http.HandlerFunc(userHandlers.RestoreAccount))).Methods("PATCH", "OPTIONS")
	users.Handle("/{id}/role", staff(http.HandlerFunc(userHandlers.ChangeRole))).Methods("PATCH", "OPTIONS")

	return router
}
