package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	echoapi "github.com/portfoliolab/authcore/api/echo"
	"github.com/portfoliolab/authcore/config"
	"github.com/portfoliolab/authcore/internal/auth"
	"github.com/portfoliolab/authcore/internal/federation"
	"github.com/portfoliolab/authcore/internal/metrics"
	"github.com/portfoliolab/authcore/middleware"
	"github.com/portfoliolab/authcore/mongodb"
	"github.com/portfoliolab/authcore/services"
	"github.com/portfoliolab/authcore/session"
	"github.com/portfoliolab/authcore/token"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogger(cfg)
	log.Info().
		Str("http_port", cfg.HTTPPort).
		Str("mongo_db_name", cfg.MongoDBName).
		Str("log_level", cfg.LogLevel).
		Msg("Starting authcore server")

	ctx := context.Background()
	if initErr := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); initErr != nil {
		log.Fatal().Err(initErr).Msg("Failed to initialize MongoDB connection")
	}
	db := mongodb.GetDB()

	// Repositories
	accountRepo, err := mongodb.NewAccountRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize AccountRepository")
	}
	identityRepo, err := mongodb.NewExternalIdentityRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize ExternalIdentityRepository")
	}

	// Refresh-token ledger. Redis when configured, MongoDB otherwise; the
	// in-memory store stays a test and single-process fallback.
	var sessionStore session.Store
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if pingErr := redisClient.Ping(ctx).Err(); pingErr != nil {
			log.Fatal().Err(pingErr).Msg("Failed to ping Redis")
		}
		sessionStore = session.NewRedisStore(redisClient, "authcore")
		log.Info().Str("addr", cfg.RedisAddr).Msg("Using Redis session store")
	} else {
		sessionStore, err = mongodb.NewRefreshTokenStore(ctx, db)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize refresh token store")
		}
		log.Info().Msg("Using MongoDB session store")
	}

	// Token signing
	keyring := token.NewKeyring(cfg.JWTKeyID, []byte(cfg.JWTSecretKey))
	codec := token.NewCodec(keyring, "authcore")

	// Services
	passwordHasher := auth.NewBcryptPasswordHasher(bcrypt.DefaultCost)
	verifier := auth.NewCredentialVerifier(accountRepo, passwordHasher)
	authService := services.NewAuthService(
		accountRepo,
		verifier,
		passwordHasher,
		codec,
		sessionStore,
		time.Duration(cfg.AccessTokenTTLMin)*time.Minute,
		time.Duration(cfg.RefreshTokenTTLHour)*time.Hour,
	)

	stateStore := federation.NewStateStore(federation.DefaultStateTTL)
	defer stateStore.Close()
	adapter := federation.NewAdapter(stateStore, buildProviders(cfg)...)
	federationService := services.NewFederationService(
		adapter, accountRepo, identityRepo, authService, cfg.FederationLinkByEmail)

	metrics.Register(prometheus.DefaultRegisterer)

	// HTTP server
	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error {
		if err := mongodb.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "down"})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})

	gate := middleware.NewGate(codec)
	api := echoapi.NewAuthAPI(authService, federationService, accountRepo, gate)
	api.RegisterRoutes(e)

	go func() {
		log.Info().Msgf("HTTP server listening on port %s", cfg.HTTPPort)
		if serveErr := e.Start(":" + cfg.HTTPPort); serveErr != nil && serveErr != http.ErrServerClosed {
			log.Fatal().Err(serveErr).Msg("Failed to start HTTP server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	mongodb.CloseMongoDB(shutdownCtx)
	log.Info().Msg("Server stopped")
}

func setupLogger(cfg *config.ServerConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// buildProviders registers every social login provider with credentials.
func buildProviders(cfg *config.ServerConfig) []federation.Provider {
	var providers []federation.Provider
	if cfg.GoogleClientID != "" {
		providers = append(providers, federation.NewGoogleProvider(federation.ProviderConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		}))
		log.Info().Msg("Registered Google login provider")
	}
	if cfg.GitHubClientID != "" {
		providers = append(providers, federation.NewGitHubProvider(federation.ProviderConfig{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  cfg.GitHubRedirectURL,
		}))
		log.Info().Msg("Registered GitHub login provider")
	}
	return providers
}
