package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/mqtt-call-service/internal/api"
	"github.com/nerrad567/mqtt-call-service/internal/infrastructure/config"
)

// errNoJWTSecret is returned when the token command has nothing to sign with.
var errNoJWTSecret = errors.New("security.jwt.secret is not set")

func newTokenCmd(configPath *string) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API bearer token",
		Long: `Prints a bearer token for the REST API, signed with
security.jwt.secret from the configuration file.

Without --ttl the lifetime is security.jwt.access_token_ttl minutes.
A --ttl of 0 issues a token that never expires.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.Security.JWT.Secret == "" {
				return errNoJWTSecret
			}

			if !cmd.Flags().Changed("ttl") {
				ttl = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
			}

			token, err := api.IssueToken(cfg.Security.JWT.Secret, subject, ttl)
			if err != nil {
				return fmt.Errorf("issuing token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject, reported as the caller of API service calls")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, 0 for no expiry (default security.jwt.access_token_ttl)")
	return cmd
}
