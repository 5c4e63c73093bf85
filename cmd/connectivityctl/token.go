package main

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/kristianrpo/connectivity-microservice/internal/auth"
	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a client-credentials token for the citizen lookup endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			clientID, _ := cmd.Flags().GetString("client-id")
			scope, _ := cmd.Flags().GetString("scope")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			token, err := mintToken(cfg.Auth.JWTSecret, cfg.Auth.JWTAlgorithm, clientID, scope, ttl, time.Now())
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().String("client-id", "auth-microservice", "client_id claim")
	cmd.Flags().String("scope", "read:citizens write:citizens", "space separated scopes")
	cmd.Flags().Duration("ttl", time.Hour, "token lifetime")

	return cmd
}

func mintToken(secret, algorithm, clientID, scope string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("auth.jwt_secret is not configured")
	}

	method := jwt.GetSigningMethod(algorithm)
	if method == nil {
		return "", fmt.Errorf("unsupported jwt algorithm %q", algorithm)
	}

	claims := auth.TokenClaims{
		ClientID:  clientID,
		Scope:     scope,
		GrantType: auth.GrantClientCredentials,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
}
