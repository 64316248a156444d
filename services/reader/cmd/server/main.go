package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"betareader/internal/util"
	"betareader/pkg/storage"
	"betareader/pkg/store"
	"betareader/services/reader/internal/app"
	"betareader/services/reader/internal/audio"
	"betareader/services/reader/internal/config"
	"betareader/services/reader/internal/content"
	"betareader/services/reader/internal/server"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, cacheTTL, upstreamTimeout := cfg.Durations()

	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer redisClient.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatalf("failed to reach redis: %v", err)
		}
	}

	sessions, err := newSessionStore(cfg, redisClient, sessionTTL)
	if err != nil {
		log.Fatalf("failed to init sessions: %v", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("invalid trusted proxies: %v", err)
	}

	assets, err := newAssetStore(cfg)
	if err != nil {
		log.Fatalf("failed to init asset store: %v", err)
	}

	library := content.New(content.Options{
		ManifestPath:  cfg.ManifestPath,
		BuildInfoPath: cfg.BuildInfoPath,
		SyncedTextDir: cfg.SyncedTextDir,
		BookTitle:     cfg.BookTitle,
		CacheTTL:      cacheTTL,
	})
	proxy := audio.NewProxy(library, audio.Options{
		AllowedHosts: cfg.AudioAllowedHosts,
		UserAgent:    cfg.AudioUserAgent,
		Timeout:      upstreamTimeout,
	})

	appCore, err := app.New(app.Config{
		Store:       db,
		Sessions:    sessions,
		AdminEmails: cfg.AdminEmails,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                      appCore,
		Library:                  library,
		Audio:                    proxy,
		Assets:                   assets,
		Redis:                    redisClient,
		BookFileBase:             cfg.BookFileBase,
		SessionCookieName:        cfg.SessionCookieName,
		SessionCookieSecure:      cfg.SessionCookieSecure,
		SessionTTL:               sessionTTL,
		FrontendOrigin:           cfg.FrontendOrigin,
		TrustedProxies:           trusted,
		SignupRateLimitPerMinute: cfg.SignupRateLimitPerMinute,
		LoginRateLimitPerMinute:  cfg.LoginRateLimitPerMinute,
		GlobalRateLimitPerMinute: cfg.GlobalRateLimitPerMinute,
		MetricsEnabled:           cfg.MetricsEnabled,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
	logger.Info("server stopped")
}

// newSessionStore prefers signed tokens when a secret is configured, revoking
// through Redis when available. Without a secret, sessions live in Redis.
func newSessionStore(cfg config.FileConfig, client *redis.Client, ttl time.Duration) (store.SessionStore, error) {
	if cfg.SessionSecret != "" {
		var revoker store.TokenRevoker = store.NewMemoryTokenRevoker()
		if client != nil {
			revoker = store.NewRedisTokenRevoker(client)
		}
		return store.NewJWTSessionStore(cfg.SessionSecret, ttl, revoker, store.JWTOptions{})
	}
	return store.NewRedisSessionStore(client, ttl), nil
}

func newAssetStore(cfg config.FileConfig) (storage.ObjectStore, error) {
	if cfg.MinioEndpoint != "" {
		return storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioPrefix, cfg.MinioUseSSL)
	}
	return storage.NewFileStore(cfg.DownloadsDir)
}
