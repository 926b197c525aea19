package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"exportdesk.org/internal/auth"
	"exportdesk.org/internal/config"
	"exportdesk.org/internal/httpapi"
	"exportdesk.org/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		db    *sql.DB
		users auth.UserStore
		ready httpapi.Readiness
	)
	if cfg.DatabaseDSN != "" {
		db, err = sql.Open("pgx", cfg.DatabaseDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		pg := auth.NewPGStore(db)
		users, ready.Users = pg, pg
	} else {
		obs.Warn("no database configured, users are kept in memory", nil)
		users = auth.NewMemoryStore()
	}

	codec, err := auth.NewCodec(auth.CodecConfig{
		Secret:     cfg.JWTSecret,
		Issuer:     cfg.JWTIssuer,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	})
	if err != nil {
		log.Fatalf("codec: %v", err)
	}

	var (
		rdb     redis.UniversalClient
		revoked auth.RevocationStore
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis url: %v", err)
		}
		rdb = redis.NewClient(opts)
		rs := auth.NewRedisRevocationStore(rdb, codec)
		revoked, ready.Revocations = rs, rs
	} else {
		obs.Warn("no redis configured, revocations are kept in memory", nil)
		revoked = auth.NewMemoryRevocationStore(codec)
	}

	providers := cfg.Providers()
	verifier, err := auth.NewIdentityVerifier(users, providers)
	if err != nil {
		log.Fatalf("identity verifier: %v", err)
	}
	sessionOpts := []auth.SessionOption{
		auth.WithRevocationStore(revoked),
		auth.WithRefreshStore(auth.NewRefreshStore(users,
			auth.WithBcryptCost(cfg.BcryptCost),
			auth.WithMaxScan(cfg.RefreshMaxScan),
		)),
	}
	if len(providers) > 0 {
		sessionOpts = append(sessionOpts, auth.WithIdentityVerifier(verifier))
	} else {
		obs.Warn("no identity providers configured, login is disabled", nil)
	}
	sessions, err := auth.NewSessionService(users, codec, sessionOpts...)
	if err != nil {
		log.Fatalf("sessions: %v", err)
	}

	api := httpapi.New(ready, version, sessions,
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
		httpapi.WithAllowedOrigins(cfg.AllowedOrigins...),
		httpapi.WithTrustedProxies(cfg.TrustedProxies...),
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	obs.Info("starting exportdesk-api", map[string]any{
		"version":   version,
		"addr":      srv.Addr,
		"providers": len(providers),
		"postgres":  db != nil,
		"redis":     rdb != nil,
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	obs.Info("shutting down", nil)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		obs.Error("shutdown", map[string]any{"error": err})
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if db != nil {
		_ = db.Close()
	}
	obs.Info("stopped", nil)
}
