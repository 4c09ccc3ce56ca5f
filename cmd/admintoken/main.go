// Command admintoken mints a short-lived admin JWT for the gatekeep admin API.
//
//	GATEKEEP_ADMIN_JWT_SECRET=... admintoken -sub alice@example.com -ttl 15m
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/pkg/jwtx"
)

var errNoSubject = errors.New("admintoken: -sub is required")

func main() {
	if err := run(os.Args[1:], os.Getenv, os.Stdout, time.Now()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, getenv func(string) string, out io.Writer, now time.Time) error {
	fs := flag.NewFlagSet("admintoken", flag.ContinueOnError)
	var (
		subject  = fs.String("sub", "", "operator identity recorded as invitedBy")
		role     = fs.String("role", string(domain.RoleAdmin), "role claim")
		ttl      = fs.Duration("ttl", jwtx.DefaultAdminTokenTTL, "token lifetime")
		issuer   = fs.String("iss", envOr(getenv, "GATEKEEP_ADMIN_JWT_ISSUER", "gatekeep"), "issuer claim")
		audience = fs.String("aud", envOr(getenv, "GATEKEEP_ADMIN_JWT_AUDIENCE", "gatekeep-admin"), "comma separated audience")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if strings.TrimSpace(*subject) == "" {
		return errNoSubject
	}
	r, err := domain.ParseRole(*role)
	if err != nil {
		return fmt.Errorf("admintoken: %w", err)
	}

	signer, err := jwtx.NewSignerHS256([]byte(getenv("GATEKEEP_ADMIN_JWT_SECRET")))
	if err != nil {
		return fmt.Errorf("admintoken: GATEKEEP_ADMIN_JWT_SECRET: %w", err)
	}

	claims := jwtx.NewClaims(*subject, string(r), *ttl, *issuer, strings.Split(*audience, ","), now)
	token, err := signer.Sign(claims)
	if err != nil {
		return fmt.Errorf("admintoken: sign: %w", err)
	}

	_, err = fmt.Fprintln(out, token)
	return err
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}
