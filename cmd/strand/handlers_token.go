package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/strandlabs/strand/internal/auth"
	"github.com/strandlabs/strand/pkg/models"
)

// =============================================================================
// Token Command Handler
// =============================================================================

type tokenOptions struct {
	UserID string
	Email  string
	Name   string
	Secret string
	Expiry time.Duration
}

// runToken issues a stream token for a user and prints it to stdout.
func runToken(cmd *cobra.Command, configPath string, opts tokenOptions) error {
	secret := opts.Secret
	expiry := opts.Expiry

	if secret == "" && configPath != "" {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		secret = cfg.Auth.JWTSecret
		if expiry == 0 {
			expiry = cfg.Auth.TokenExpiry
		}
	}
	if secret == "" {
		prompted, err := promptSecret("JWT secret")
		if err != nil {
			return fmt.Errorf("failed to read secret: %w", err)
		}
		secret = prompted
	}
	if secret == "" {
		return fmt.Errorf("a signing secret is required (flag --secret, config auth.jwt_secret, or prompt)")
	}
	if expiry == 0 {
		expiry = 24 * time.Hour
	}

	svc := auth.NewJWTService(secret, expiry)
	token, err := svc.Generate(&models.User{
		ID:    opts.UserID,
		Email: opts.Email,
		Name:  opts.Name,
	})
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

// promptSecret prompts for a secret without echoing input. When stdin is not
// a terminal it falls back to reading a line, so the command stays usable in
// pipes.
func promptSecret(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		text, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(text)), nil
	}
	reader := bufio.NewReader(os.Stdin)
	text, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
