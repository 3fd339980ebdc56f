package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goodtune/avtrack/internal/config"
	"github.com/goodtune/avtrack/internal/ingest"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token PLAYER_ID",
	Short: "Issue an ingest token for a player",
	Long: `Sign a bearer token for PLAYER_ID with the configured auth.jwt_secret.
Players send it in the Authorization header, or as the token query
parameter when opening the WebSocket.`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	token, err := issueToken(cfg.Auth, args[0])
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(os.Stdout, token)
	return nil
}

// newAuthService returns nil when auth is disabled
func newAuthService(cfg config.AuthConfig) *ingest.AuthService {
	if !cfg.Enabled() {
		return nil
	}
	return ingest.NewAuthService(cfg.JWTSecret, parseDuration(cfg.TokenExpiration, 24*time.Hour))
}

func issueToken(cfg config.AuthConfig, playerID string) (string, error) {
	auth := newAuthService(cfg)
	if auth == nil {
		return "", errors.New("auth is disabled: set auth.jwt_secret")
	}
	return auth.GenerateToken(playerID)
}
