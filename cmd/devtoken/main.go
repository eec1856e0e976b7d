// Command devtoken prints a signed access token for local testing.
//
//	go run ./cmd/devtoken -role supervisor -tenant <uuid>
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"nexopos/internal/config"
	"nexopos/internal/middleware"

	"github.com/google/uuid"
)

func main() {
	tenant := flag.String("tenant", "", "tenant UUID (random when empty)")
	user := flag.String("user", "", "user UUID (random when empty)")
	username := flag.String("username", "dev", "display name")
	role := flag.String("role", middleware.RoleCashier, "cashier | supervisor | admin")
	ttl := flag.Duration("ttl", 8*time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.JWTSecret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET is not set")
		os.Exit(1)
	}

	claims := middleware.JWTClaims{
		TenantID: orRandom(*tenant),
		UserID:   orRandom(*user),
		Username: *username,
		Role:     *role,
	}
	token, err := middleware.IssueToken(cfg.JWTSecret, claims, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sign:", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "tenant=%s user=%s role=%s\n", claims.TenantID, claims.UserID, claims.Role)
	fmt.Println(token)
}

func orRandom(s string) string {
	if s == "" {
		return uuid.NewString()
	}
	if _, err := uuid.Parse(s); err != nil {
		fmt.Fprintf(os.Stderr, "invalid uuid %q\n", s)
		os.Exit(1)
	}
	return s
}
