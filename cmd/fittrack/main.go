package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/simple-fittrack/internal/config"
	httpserver "github.com/tendant/simple-fittrack/internal/http"
	"github.com/tendant/simple-fittrack/internal/httputil"
	"github.com/tendant/simple-fittrack/pkg/docstore"
	"github.com/tendant/simple-fittrack/pkg/identity"
	"github.com/tendant/simple-fittrack/pkg/session"
	"github.com/tendant/simple-fittrack/pkg/workouts"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fittrack exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if !cfg.HasGoogleOAuth() {
		return fmt.Errorf("google sign-in is required: set GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET and GOOGLE_REDIRECT_URI")
	}

	store, closeStore, err := openDocstore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	tokens, closeTokens, err := openTokenStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeTokens()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	googleIDP, err := identity.NewGoogle(ctx, identity.GoogleConfig{
		ClientID:        cfg.GoogleClientID,
		ClientSecret:    cfg.GoogleClientSecret,
		RedirectURI:     cfg.GoogleRedirectURI,
		Issuer:          cfg.GoogleIssuer,
		StateSigningKey: []byte(cfg.StateSigningKey),
		SessionTTL:      cfg.IDPSessionTTL,
		Logger:          logger,
	}, tokens, identity.NewHub())
	cancel()
	if err != nil {
		return fmt.Errorf("initialize google sign-in: %w", err)
	}
	logger.Info("Google sign-in enabled", "issuer", cfg.GoogleIssuer)

	registry := session.NewRegistry(googleIDP.Client, store, session.RegistryConfig{
		IdleTTL: cfg.SessionIdleTTL,
		Logger:  logger,
		Options: []session.Option{session.WithCallTimeout(cfg.SessionCallTimeout)},
	})
	defer registry.Close()

	cookieCfg := httputil.DefaultCookieConfig()
	cookieCfg.Secure = cfg.CookieSecure

	router, err := httpserver.NewRouter(httpserver.RouterConfig{
		Logger:          logger,
		Sessions:        registry,
		Google:          googleIDP,
		GoogleClientID:  cfg.GoogleClientID,
		Workouts:        workouts.NewService(store, logger),
		RateLimitConfig: cfg.RateLimit,
		SecurityHeaders: cfg.SecurityHeaders,
		Validation:      cfg.Validation,
		Cookie:          cookieCfg,
		CookieTTL:       cfg.IDPSessionTTL,
		GuardWait:       cfg.GuardWait,
	})
	if err != nil {
		return err
	}

	// Request contexts end when shutdown starts so event streams return.
	baseCtx, stopRequests := context.WithCancel(context.Background())
	defer stopRequests()

	// Create HTTP server. WriteTimeout is lifted per request by the event streams.
	server := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}
	server.RegisterOnShutdown(stopRequests)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		server.Close()
	}

	logger.Info("server stopped")
	return nil
}

func openDocstore(cfg *config.Config, logger *slog.Logger) (docstore.Store, func(), error) {
	if cfg.DocstoreDriver != "postgres" {
		logger.Warn("using in-memory document store, data is lost on restart")
		return docstore.NewMemoryStore(), func() {}, nil
	}

	pgCfg := docstore.PostgresConfig{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}
	db, err := docstore.OpenPostgres(pgCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	store, err := docstore.NewPostgresStore(db, docstore.NewPQListener(pgCfg.DSN(), logger), logger)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("create document store: %w", err)
	}
	logger.Info("connected to database", "host", cfg.DBHost, "db", cfg.DBName)

	return store, func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close document store", "error", err)
		}
		db.Close()
	}, nil
}

func openTokenStore(cfg *config.Config, logger *slog.Logger) (identity.TokenStore, func(), error) {
	if !cfg.HasRedis() {
		logger.Warn("keeping sign-in state in memory, sign-ins are lost on restart")
		return identity.NewMemoryTokenStore(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to redis", "addr", cfg.RedisAddr)

	return identity.NewRedisTokenStore(client), func() { client.Close() }, nil
}
