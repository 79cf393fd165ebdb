package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	otphandler "portal-auth/internal/apps/otp/handler"
	otpmodels "portal-auth/internal/apps/otp/models"
	"portal-auth/internal/apps/otp/provider"
	otprepo "portal-auth/internal/apps/otp/repository"
	otpservice "portal-auth/internal/apps/otp/service"
	userhandler "portal-auth/internal/apps/user/handler"
	usermodels "portal-auth/internal/apps/user/models"
	userrepo "portal-auth/internal/apps/user/repository"
	userservice "portal-auth/internal/apps/user/service"
	"portal-auth/internal/common/config"
	"portal-auth/internal/common/database"
	"portal-auth/internal/common/events"
	"portal-auth/internal/common/logger"
	"portal-auth/internal/common/metrics"
	"portal-auth/internal/common/middleware"
	"portal-auth/pkg/secure"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	memoryStoreMaxEntries = 10000
	shutdownTimeout       = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// falls back to the production logger
		logger.Fatal("Failed to load configuration", logger.ErrorField(err))
	}

	log := logger.Init(cfg.Env, cfg.LogLevel, cfg.LogFormat)
	defer logger.Sync()

	gin.SetMode(cfg.GinMode)

	// Database configuration
	db, err := database.NewConnection(database.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	migrations := []interface{}{&usermodels.User{}}
	if cfg.OTPStore == config.StorePostgres {
		migrations = append(migrations, &otpmodels.OTPChallengeRecord{}, &otpmodels.SessionRecord{})
	}
	if err := database.Migrate(db, migrations...); err != nil {
		log.Fatal("Failed to migrate database", zap.Error(err))
	}

	var redisClient *redis.Client
	if cfg.OTPStore == config.StoreRedis {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal("Invalid REDIS_URL", zap.Error(err))
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	m := metrics.New(prometheus.NewRegistry())

	var publisher events.Publisher = events.NopPublisher{}
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		publisher = events.NewKafkaPublisher(brokers, cfg.AuthEventsTopic)
		log.Info("Publishing auth events", zap.Strings("brokers", brokers), zap.String("topic", cfg.AuthEventsTopic))
	}
	defer publisher.Close()

	// Initialize OTP dependencies
	registry, err := buildProviders(cfg, db, redisClient, log)
	if err != nil {
		log.Fatal("Failed to configure SMS providers", zap.Error(err))
	}
	gateway := otpservice.NewGateway(registry, buildSessionLedger(cfg, db, redisClient), m, publisher, log)
	otpHandler := otphandler.NewOTPHandler(gateway)

	// Initialize user profile dependencies
	userRepo := userrepo.NewUserRepository(db)
	userService := userservice.NewUserService(userRepo, gateway, m, publisher, log)
	userHandler := userhandler.NewUserHandler(userService)

	// Setup Gin router
	router := gin.New()
	router.Use(middleware.Recovery(log), middleware.RequestLogger(log), m.Middleware())

	cors, err := middleware.SetupCORS(cfg.CORSAllowedOrigins, cfg.IsProduction())
	if err != nil {
		log.Fatal("Invalid CORS configuration", zap.Error(err))
	}
	router.Use(cors)

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Server is running",
		})
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	// OTP gateway routes keep their legacy unversioned paths
	api := router.Group("/api")
	{
		otphandler.RegisterOTPRoutes(api, otpHandler)
	}

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		userhandler.RegisterUserRoutes(v1, userHandler)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Server starting", zap.String("port", cfg.Port), zap.String("otp_store", cfg.OTPStore),
			zap.Strings("providers", providerNames(registry)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("Shutting down server")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("Server stopped with error", zap.Error(err))
		return
	}
	log.Info("Server stopped")
}

// buildProviders wires one challenge store per provider, namespaced by provider name
func buildProviders(cfg *config.Config, db *gorm.DB, redisClient redis.UniversalClient, log *zap.Logger) (*provider.Registry, error) {
	ttl := cfg.OTPTTLDuration()

	sealer, err := secure.NewSealer([]byte(cfg.OTPEncryptionKey))
	if err != nil {
		return nil, fmt.Errorf("OTP_ENCRYPTION_KEY: %w", err)
	}

	storeFor := func(name otpmodels.ProviderName) otprepo.ChallengeStore {
		switch cfg.OTPStore {
		case config.StoreRedis:
			return otprepo.NewRedisChallengeStore(redisClient, name, ttl)
		case config.StorePostgres:
			return otprepo.NewPostgresChallengeStore(db, name, ttl, sealer)
		default:
			return otprepo.NewMemoryChallengeStore(name, ttl, memoryStoreMaxEntries)
		}
	}

	tokens, err := provider.NewTokenIssuer([]byte(cfg.SessionSigningKey), provider.SessionTTL)
	if err != nil {
		return nil, err
	}
	if cfg.SessionSigningKey == "" {
		log.Warn("SESSION_SIGNING_KEY not set, session tokens will not survive a restart")
	}

	vonage := provider.NewVonage(provider.VonageConfig{
		APIKey:    cfg.VonageAPIKey,
		APISecret: cfg.VonageAPISecret,
		BrandName: cfg.VonageBrandName,
		BaseURL:   cfg.VonageBaseURL,
	}, storeFor(otpmodels.ProviderVonage), log)

	twilio := provider.NewTwilio(provider.TwilioConfig{
		AccountSID:       cfg.TwilioAccountSID,
		AuthToken:        cfg.TwilioAuthToken,
		VerifyServiceSID: cfg.TwilioVerifyServiceSID,
		BaseURL:          cfg.TwilioBaseURL,
	}, storeFor(otpmodels.ProviderTwilio), tokens, log)

	if vonage.DevelopmentMode() {
		log.Warn("Vonage credentials missing, running in development mode")
	}
	if twilio.DevelopmentMode() {
		log.Warn("Twilio credentials missing, running in development mode")
	}

	return provider.NewRegistry(twilio, vonage), nil
}

// buildSessionLedger keeps issued session ids in the same backend as the OTP challenges
func buildSessionLedger(cfg *config.Config, db *gorm.DB, redisClient redis.UniversalClient) otprepo.SessionLedger {
	switch cfg.OTPStore {
	case config.StoreRedis:
		return otprepo.NewRedisSessionLedger(redisClient, provider.SessionTTL)
	case config.StorePostgres:
		return otprepo.NewPostgresSessionLedger(db, provider.SessionTTL)
	default:
		return otprepo.NewMemorySessionLedger(provider.SessionTTL, memoryStoreMaxEntries)
	}
}

func providerNames(r *provider.Registry) []string {
	var out []string
	for _, n := range r.Names() {
		out = append(out, string(n))
	}
	return out
}
