package main

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/nerrad567/gray-logic-tsdbsink/internal/auth"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/infrastructure/config"
)

// runToken implements the token subcommand: it signs an admin API token with
// the configured secret and writes it to w.
func runToken(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(w)
	subject := fs.String("subject", "admin", "token subject (shown in API logs)")
	role := fs.String("role", string(auth.RoleOperator), "token role: viewer or operator")
	ttl := fs.Int("ttl", 0, "token lifetime in minutes (0 uses security.jwt.token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	minutes := *ttl
	if minutes <= 0 {
		minutes = cfg.Security.JWT.TokenTTL
	}
	lifetime := time.Duration(minutes) * time.Minute
	if lifetime <= 0 {
		lifetime = auth.DefaultTTL
	}

	token, err := auth.GenerateToken(*subject, auth.Role(*role), cfg.Security.JWT.Secret, lifetime)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	_, err = fmt.Fprintln(w, token)
	return err
}
