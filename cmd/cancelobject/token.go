package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"cancelobject/pkg/auth"
	"cancelobject/pkg/errors"
)

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator token",
		Long: `Issue a signed bearer token for the operator API, using the configured
server.jwt_secret. Requests carrying it may cancel objects.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			authn := auth.NewAuthenticator(cfg.Server.JWTSecret)
			if !authn.Enabled() {
				return errors.ConfigError("server.jwt_secret", "required to issue tokens")
			}
			token, err := authn.Issue(subject, ttl)
			if err != nil {
				return err
			}
			res := map[string]any{
				"subject":    subject,
				"token":      token,
				"expires_at": time.Now().Add(ttl).UTC().Format(time.RFC3339),
			}
			return rootOpts.emit(cmd.OutOrStdout(), res, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, token)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "operator name carried in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
