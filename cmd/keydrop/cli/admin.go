package cli

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/keydropio/keydrop/internal/service"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage admin access to the HTTP API",
		Long: `Issue bearer tokens for the admin routes (full key listing, cleanup and clear)
and generate secrets for auth.jwt_secret and auth.search_secret.`,
	}

	cmd.AddCommand(newAdminTokenCmd())
	cmd.AddCommand(newAdminSecretCmd())

	return cmd
}

// ---------- admin token ----------

func newAdminTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin bearer token",
		Long: `Sign an admin token with auth.jwt_secret. When no secret is configured the
secret is read from the terminal without echo.`,
		Example: `  keydrop admin token --subject ops
  curl -H "Authorization: Bearer $(keydrop admin token)" localhost:8080/api/keys`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			secret := cfg.Auth.JWTSecret
			if secret == "" {
				secret, err = promptSecret(cmd.ErrOrStderr(), "JWT secret: ")
				if err != nil {
					return err
				}
			}

			if !cmd.Flags().Changed("ttl") {
				if ttl, err = cfg.Auth.JWTExpiryDuration(service.DefaultAdminTokenTTL); err != nil {
					return fmt.Errorf("auth.jwt_expiry: %w", err)
				}
			}
			return runAdminToken(cmd.OutOrStdout(), secret, subject, ttl)
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "admin", "Subject recorded in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", service.DefaultAdminTokenTTL, "Token lifetime (default from auth.jwt_expiry)")

	return cmd
}

func runAdminToken(w io.Writer, secret, subject string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("--ttl must be positive")
	}
	if strings.TrimSpace(subject) == "" {
		return fmt.Errorf("--subject must not be empty")
	}

	tok, err := service.NewAdminAuth(secret).IssueToken(subject, ttl)
	if err != nil {
		return fmt.Errorf("issue admin token: %w", err)
	}
	fmt.Fprintln(w, tok)
	return nil
}

// promptSecret reads a secret from the controlling terminal without echo.
func promptSecret(w io.Writer, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("auth.jwt_secret is not configured (set KEYDROP_AUTH_JWT_SECRET)")
	}

	fmt.Fprint(w, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}

	secret := strings.TrimSpace(string(b))
	if secret == "" {
		return "", fmt.Errorf("secret must not be empty")
	}
	return secret, nil
}

// ---------- admin secret ----------

func newAdminSecretCmd() *cobra.Command {
	var size int

	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Generate a random secret for auth.jwt_secret or auth.search_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminSecret(cmd.OutOrStdout(), size)
		},
	}

	cmd.Flags().IntVar(&size, "bytes", 32, "Number of random bytes (hex encoded)")
	return cmd
}

func runAdminSecret(w io.Writer, size int) error {
	if size < 16 {
		return fmt.Errorf("--bytes must be at least 16")
	}
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return fmt.Errorf("generate secret: %w", err)
	}
	fmt.Fprintln(w, hex.EncodeToString(b))
	return nil
}
