package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"exportdesk.org/internal/authclient"
)

// smoke-auth drives one session through login, silent renewal, reissue and
// logout against a running API.
func main() {
	log.SetFlags(0)
	var (
		addr    = flag.String("addr", envOr("EXPORTDESK_API_URL", "http://localhost:8080"), "API base URL")
		idToken = flag.String("id-token", os.Getenv("EXPORTDESK_SMOKE_ID_TOKEN"), "Provider ID token to log in with")
	)
	flag.Parse()
	if *idToken == "" {
		log.Fatal("missing ID token: provide via -id-token or EXPORTDESK_SMOKE_ID_TOKEN")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	c := authclient.New(*addr)
	if err := c.Healthy(ctx); err != nil {
		log.Fatalf("healthz: %v", err)
	}

	first, err := c.Login(ctx, *idToken)
	if err != nil {
		log.Fatalf("login: %v", err)
	}
	profile, err := c.Me(ctx, false)
	if err != nil {
		log.Fatalf("me: %v", err)
	}

	if _, err := c.Me(ctx, true); err != nil {
		log.Fatalf("silent renewal: %v", err)
	}
	if c.Tokens().RefreshToken == first.RefreshToken {
		log.Fatal("silent renewal did not rotate the refresh credential")
	}

	renewed := c.Tokens()
	if _, err := c.Reissue(ctx); err != nil {
		log.Fatalf("reissue: %v", err)
	}
	rotated := c.Tokens()

	c.SetTokens(renewed)
	if _, err := c.Reissue(ctx); authclient.Code(err) != "TOKEN4002" {
		log.Fatalf("superseded refresh credential still accepted: %v", err)
	}

	c.SetTokens(rotated)
	if err := c.Logout(ctx); err != nil {
		log.Fatalf("logout: %v", err)
	}
	c.SetTokens(rotated)
	if _, err := c.Me(ctx, false); authclient.Code(err) != "AUTH401" {
		log.Fatalf("revoked access credential still accepted: %v", err)
	}

	fmt.Printf("auth smoke test passed: user=%s role=%s\n", profile.Email, profile.Role)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
