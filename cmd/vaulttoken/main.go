package main

import (
	"SynthVault/internal/config"
	"SynthVault/internal/observability"
	"SynthVault/internal/server"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config holding the auth secret")
	subject := flag.String("subject", "", "account the token acts as")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	if *subject == "" {
		fmt.Println("Usage: vaulttoken -subject <account> [-ttl 1h] [-config config.yaml]")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  VAULT_AUTH_SECRET    - HMAC secret shared with the API")
		fmt.Println("  VAULT_AUTH_ISSUER    - token issuer")
		fmt.Println("  VAULT_AUTH_AUDIENCE  - token audience")
		os.Exit(1)
	}

	// Logs go to stderr so stdout carries only the token.
	logger := observability.NewLoggerTo(os.Stderr, "vaulttoken", zerolog.InfoLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	auth, err := server.NewAuthenticator(server.AuthConfig{
		HMACSecret: cfg.Server.AuthSecret,
		Issuer:     cfg.Server.AuthIssuer,
		Audience:   cfg.Server.AuthAudience,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("auth config")
	}
	token, err := auth.Issue(*subject, *ttl, time.Now())
	if err != nil {
		logger.Fatal().Err(err).Msg("sign token")
	}
	logger.Info().Str("subject", *subject).Dur("ttl", *ttl).Msg("token issued")
	fmt.Println(token)
}
