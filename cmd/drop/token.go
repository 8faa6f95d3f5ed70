package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/drop/internal/config"
	"github.com/gezibash/drop/internal/middleware"
)

func newTokenCmd(v *viper.Viper) *cobra.Command {
	var subject string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an upload token",
		Long: `Sign a bearer token for the upload endpoint with auth.jwt_secret.

Examples:
  drop token --subject ci --ttl 720h
  curl -H "Authorization: Bearer $(drop token)" -F file=@cat.png https://drop.example/upload`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, v.GetString(config.ConfigFileKey))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not set; uploads are not authenticated")
			}
			token, err := middleware.IssueToken([]byte(cfg.Auth.JWTSecret), subject, ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "drop", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (0 = no expiry)")
	return cmd
}
