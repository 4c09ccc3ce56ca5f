package jwtx_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/gatekeep/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestNewClaims(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	c := jwtx.NewClaims("op-7", "ADMIN", 15*time.Minute, "gatekeep", []string{"gatekeep-admin"}, now)

	require.Equal(t, "op-7", c.Subject)
	require.Equal(t, "ADMIN", c.Role)
	require.Equal(t, "gatekeep", c.Issuer)
	require.Equal(t, jwt.ClaimStrings{"gatekeep-admin"}, c.Audience)
	require.True(t, c.IssuedAt.Time.Equal(now))
	require.True(t, c.NotBefore.Time.Equal(now))
	require.True(t, c.ExpiresAt.Time.Equal(now.Add(15*time.Minute)))
	require.NotEmpty(t, c.ID)

	other := jwtx.NewClaims("op-7", "ADMIN", 15*time.Minute, "gatekeep", nil, now)
	require.NotEqual(t, c.ID, other.ID, "every token gets its own jti")
}

func TestClaimsValidateIssuer(t *testing.T) {
	c := &jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: "gatekeep"}}

	tests := []struct {
		name     string
		expected string
		wantErr  error
	}{
		{"matches", "gatekeep", nil},
		{"not enforced", "", nil},
		{"different issuer", "gatekeep-staging", jwtx.ErrIssuer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.ValidateIssuer(tt.expected)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClaimsValidateAudience(t *testing.T) {
	c := &jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{
		Audience: []string{"gatekeep-admin", "gatekeep-ops"},
	}}

	tests := []struct {
		name     string
		expected []string
		wantErr  error
	}{
		{"single match", []string{"gatekeep-admin"}, nil},
		{"any of several", []string{"billing", "gatekeep-ops"}, nil},
		{"not enforced", nil, nil},
		{"no overlap", []string{"billing"}, jwtx.ErrAudience},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.ValidateAudience(tt.expected)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClaimsValidateExpiryWithLeeway(t *testing.T) {
	now := time.Now().UTC()
	at := func(d time.Duration) *jwt.NumericDate { return jwt.NewNumericDate(now.Add(d)) }

	tests := []struct {
		name    string
		exp     *jwt.NumericDate
		nbf     *jwt.NumericDate
		leeway  time.Duration
		wantErr error
	}{
		{name: "fresh", exp: at(time.Minute)},
		{name: "no time claims"},
		{name: "expired", exp: at(-time.Minute), wantErr: jwtx.ErrExpired},
		{name: "expired within leeway", exp: at(-10 * time.Second), leeway: 30 * time.Second},
		{name: "expired beyond leeway", exp: at(-2 * time.Minute), leeway: 30 * time.Second, wantErr: jwtx.ErrExpired},
		{name: "not yet valid", nbf: at(time.Minute), wantErr: jwtx.ErrNotYetValid},
		{name: "nbf within leeway", nbf: at(10 * time.Second), leeway: 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: tt.exp, NotBefore: tt.nbf}}
			err := c.ValidateExpiryWithLeeway(tt.leeway)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}
