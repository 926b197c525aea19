package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"exportdesk.org/internal/auth"
)

const envPrefix = "EXPORTDESK_"

// Config holds runtime settings for the API server.
type Config struct {
	// Server
	Addr            string
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	RateBurst       int
	RatePerSec      int
	AllowedOrigins  []string
	// TrustedProxies are the peers whose X-Forwarded-For header is honored.
	TrustedProxies []netip.Prefix

	// Storage. Empty values select the in-process stores.
	DatabaseDSN string
	RedisURL    string

	// Credentials
	JWTSecret      string
	JWTIssuer      string
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	BcryptCost     int
	RefreshMaxScan int

	// Identity providers. A provider is enabled when its client id is set.
	KakaoClientID  string
	KakaoJWKSURL   string
	GoogleClientID string
	GoogleJWKSURL  string
	JWKSRefresh    time.Duration
}

// Load reads .env (if present) and the environment, then validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (*Config, error) {
	c := &Config{
		Addr:           getEnvOrDefault("HTTP_ADDR", ":8080"),
		AllowedOrigins: splitList(getEnvOrDefault("CORS_ORIGINS", "")),
		DatabaseDSN:    getEnv("PG_DSN"),
		RedisURL:       getEnv("REDIS_URL"),
		JWTSecret:      getEnv("JWT_SECRET"),
		JWTIssuer:      getEnvOrDefault("JWT_ISSUER", "exportdesk"),
		KakaoClientID:  getEnv("KAKAO_CLIENT_ID"),
		KakaoJWKSURL:   getEnvOrDefault("KAKAO_JWKS_URL", auth.KakaoJWKSURL),
		GoogleClientID: getEnv("GOOGLE_CLIENT_ID"),
		GoogleJWKSURL:  getEnvOrDefault("GOOGLE_JWKS_URL", auth.GoogleJWKSURL),
	}

	var err error
	if c.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if c.AccessTTL, err = getDuration("ACCESS_TTL", 30*time.Minute); err != nil {
		return nil, err
	}
	if c.RefreshTTL, err = getDuration("REFRESH_TTL", 14*24*time.Hour); err != nil {
		return nil, err
	}
	if c.JWKSRefresh, err = getDuration("JWKS_REFRESH", time.Hour); err != nil {
		return nil, err
	}
	if c.TrustedProxies, err = getPrefixes("TRUSTED_PROXIES"); err != nil {
		return nil, err
	}
	if c.RateBurst, err = getInt("RATE_BURST", 20); err != nil {
		return nil, err
	}
	if c.RatePerSec, err = getInt("RATE_PER_SEC", 10); err != nil {
		return nil, err
	}
	if c.BcryptCost, err = getInt("BCRYPT_COST", 10); err != nil {
		return nil, err
	}
	if c.RefreshMaxScan, err = getInt("REFRESH_MAX_SCAN", 0); err != nil {
		return nil, err
	}
	maxBody, err := getInt("MAX_BODY_BYTES", 1<<20)
	if err != nil {
		return nil, err
	}
	c.MaxBodyBytes = int64(maxBody)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return c, nil
}

// Validate checks required settings and bounds.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("%sJWT_SECRET is required", envPrefix)
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("%sJWT_SECRET must be at least 32 bytes for HS512", envPrefix)
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("token lifetimes must be positive")
	}
	if c.AccessTTL >= c.RefreshTTL {
		return fmt.Errorf("access ttl %v must be shorter than refresh ttl %v", c.AccessTTL, c.RefreshTTL)
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("bcrypt cost must be between 4 and 31, got %d", c.BcryptCost)
	}
	if c.RefreshMaxScan < 0 {
		return fmt.Errorf("refresh max scan must not be negative, got %d", c.RefreshMaxScan)
	}
	if c.RateBurst < 1 || c.RatePerSec < 1 {
		return errors.New("rate limit burst and rate must be at least 1")
	}
	if c.MaxBodyBytes < 1 {
		return errors.New("max body bytes must be positive")
	}
	return nil
}

// Providers returns the identity providers enabled by configuration.
func (c *Config) Providers(opts ...auth.KeySetOption) []auth.ProviderConfig {
	var out []auth.ProviderConfig
	add := func(p auth.Provider, clientID, jwksURL string) {
		if clientID == "" {
			return
		}
		cfg := auth.DefaultProviderConfig(p, clientID)
		cfg.JWKSURL = jwksURL
		cfg.Keys = auth.NewKeySet(jwksURL, append([]auth.KeySetOption{auth.WithJWKSRefreshInterval(c.JWKSRefresh)}, opts...)...)
		out = append(out, cfg)
	}
	add(auth.ProviderKakao, c.KakaoClientID, c.KakaoJWKSURL)
	add(auth.ProviderGoogle, c.GoogleClientID, c.GoogleJWKSURL)
	return out
}

// Helper functions

func getEnv(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := getEnv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	raw := getEnv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
	}
	return v, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := getEnv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
	}
	return v, nil
}

// getPrefixes parses a comma list of CIDRs. Bare addresses cover one host.
func getPrefixes(key string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, part := range splitList(getEnv(key)) {
		if !strings.Contains(part, "/") {
			addr, err := netip.ParseAddr(part)
			if err != nil {
				return nil, fmt.Errorf("invalid %s%s entry %q: %w", envPrefix, key, part, err)
			}
			addr = addr.Unmap()
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(part)
		if err != nil {
			return nil, fmt.Errorf("invalid %s%s entry %q: %w", envPrefix, key, part, err)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
