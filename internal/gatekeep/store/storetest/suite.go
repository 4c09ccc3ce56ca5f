// Package storetest holds behaviour tests shared by every store driver.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store"
	"github.com/aussiebroadwan/gatekeep/pkg/idx"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, migrated, empty store.
type Factory func(t *testing.T) store.Store

// NewVerification builds a record for identifier created at createdAt.
func NewVerification(identifier string, createdAt, expiresAt time.Time, metadata []byte) domain.Verification {
	return domain.Verification{
		ID:         idx.NewAt(createdAt).String(),
		Identifier: identifier,
		Value:      "hash-" + identifier + "-" + createdAt.Format(time.RFC3339Nano),
		ExpiresAt:  expiresAt.Truncate(time.Millisecond),
		CreatedAt:  createdAt.Truncate(time.Millisecond),
		UpdatedAt:  createdAt.Truncate(time.Millisecond),
		Metadata:   metadata,
	}
}

// RunVerifications exercises the Verifications contract against newStore.
func RunVerifications(t *testing.T, newStore Factory) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	const ident = "invitation:ada@example.com"

	t.Run("missing identifier is not found", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Verifications().GetActiveVerification(ctx, ident, now)
		require.ErrorIs(t, err, store.ErrNotFound)

		_, err = s.Verifications().GetLatestVerification(ctx, ident)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("round trip", func(t *testing.T) {
		s := newStore(t)
		meta := []byte(`{"name":"Ada","role":"USER","invitedBy":"op","invitedAt":"2026-01-02T03:04:05Z"}`)
		v := NewVerification(ident, now, now.Add(time.Hour), meta)
		require.NoError(t, s.Verifications().CreateVerification(ctx, v))

		got, err := s.Verifications().GetActiveVerification(ctx, ident, now)
		require.NoError(t, err)
		require.Equal(t, v.ID, got.ID)
		require.Equal(t, v.Identifier, got.Identifier)
		require.Equal(t, v.Value, got.Value)
		require.True(t, v.ExpiresAt.Equal(got.ExpiresAt))
		require.True(t, v.CreatedAt.Equal(got.CreatedAt))
		require.JSONEq(t, string(meta), string(got.Metadata))
	})

	t.Run("nil metadata stays empty", func(t *testing.T) {
		s := newStore(t)
		v := NewVerification(ident, now, now.Add(time.Hour), nil)
		require.NoError(t, s.Verifications().CreateVerification(ctx, v))

		got, err := s.Verifications().GetLatestVerification(ctx, ident)
		require.NoError(t, err)
		require.Empty(t, got.Metadata)
	})

	t.Run("newest active wins", func(t *testing.T) {
		s := newStore(t)
		older := NewVerification(ident, now.Add(-2*time.Minute), now.Add(time.Hour), nil)
		newer := NewVerification(ident, now.Add(-time.Minute), now.Add(time.Hour), nil)
		require.NoError(t, s.Verifications().CreateVerification(ctx, older))
		require.NoError(t, s.Verifications().CreateVerification(ctx, newer))

		got, err := s.Verifications().GetActiveVerification(ctx, ident, now)
		require.NoError(t, err)
		require.Equal(t, newer.ID, got.ID)
	})

	t.Run("expired records are not active but are latest", func(t *testing.T) {
		s := newStore(t)
		live := NewVerification(ident, now.Add(-2*time.Hour), now.Add(time.Hour), nil)
		dead := NewVerification(ident, now.Add(-time.Hour), now.Add(-time.Minute), nil)
		require.NoError(t, s.Verifications().CreateVerification(ctx, live))
		require.NoError(t, s.Verifications().CreateVerification(ctx, dead))

		active, err := s.Verifications().GetActiveVerification(ctx, ident, now)
		require.NoError(t, err)
		require.Equal(t, live.ID, active.ID)

		latest, err := s.Verifications().GetLatestVerification(ctx, ident)
		require.NoError(t, err)
		require.Equal(t, dead.ID, latest.ID)

		// exactly at expiry the record is no longer active
		_, err = s.Verifications().GetActiveVerification(ctx, ident, live.ExpiresAt)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("duplicate id", func(t *testing.T) {
		s := newStore(t)
		v := NewVerification(ident, now, now.Add(time.Hour), nil)
		require.NoError(t, s.Verifications().CreateVerification(ctx, v))
		require.ErrorIs(t, s.Verifications().CreateVerification(ctx, v), store.ErrAlreadyExists)
	})

	t.Run("delete by identifier", func(t *testing.T) {
		s := newStore(t)
		other := "invitation:bob@example.com"
		for i := range 3 {
			at := now.Add(time.Duration(-i) * time.Minute)
			require.NoError(t, s.Verifications().CreateVerification(ctx, NewVerification(ident, at, now.Add(time.Hour), nil)))
		}
		require.NoError(t, s.Verifications().CreateVerification(ctx, NewVerification(other, now, now.Add(time.Hour), nil)))

		n, err := s.Verifications().DeleteVerificationsByIdentifier(ctx, ident)
		require.NoError(t, err)
		require.Equal(t, int64(3), n)

		_, err = s.Verifications().GetLatestVerification(ctx, ident)
		require.ErrorIs(t, err, store.ErrNotFound)

		_, err = s.Verifications().GetActiveVerification(ctx, other, now)
		require.NoError(t, err)

		n, err = s.Verifications().DeleteVerificationsByIdentifier(ctx, ident)
		require.NoError(t, err)
		require.Zero(t, n)
	})

	t.Run("delete one record", func(t *testing.T) {
		s := newStore(t)
		older := NewVerification(ident, now.Add(-time.Minute), now.Add(time.Hour), nil)
		newer := NewVerification(ident, now, now.Add(time.Hour), nil)
		require.NoError(t, s.Verifications().CreateVerification(ctx, older))
		require.NoError(t, s.Verifications().CreateVerification(ctx, newer))

		n, err := s.Verifications().DeleteVerification(ctx, ident, newer.ID)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)

		got, err := s.Verifications().GetLatestVerification(ctx, ident)
		require.NoError(t, err)
		require.Equal(t, older.ID, got.ID)

		n, err = s.Verifications().DeleteVerification(ctx, ident, newer.ID)
		require.NoError(t, err)
		require.Zero(t, n)

		n, err = s.Verifications().DeleteVerification(ctx, "invitation:bob@example.com", older.ID)
		require.NoError(t, err)
		require.Zero(t, n, "id must belong to identifier")
	})

	t.Run("delete one record in tx", func(t *testing.T) {
		s := newStore(t)
		v := NewVerification(ident, now, now.Add(time.Hour), nil)
		require.NoError(t, s.Verifications().CreateVerification(ctx, v))

		var first, second int64
		err := s.WithTx(ctx, func(tx store.Tx) error {
			got, err := tx.Verifications().GetActiveVerification(ctx, ident, now)
			if err != nil {
				return err
			}
			if first, err = tx.Verifications().DeleteVerification(ctx, ident, got.ID); err != nil {
				return err
			}
			second, err = tx.Verifications().DeleteVerification(ctx, ident, "missing")
			return err
		})
		require.NoError(t, err)
		require.Equal(t, int64(1), first)
		require.Zero(t, second)

		_, err = s.Verifications().GetLatestVerification(ctx, ident)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("delete expired", func(t *testing.T) {
		s := newStore(t)
		live := NewVerification(ident, now.Add(-time.Hour), now.Add(time.Hour), nil)
		dead1 := NewVerification(ident, now.Add(-2*time.Hour), now.Add(-time.Minute), nil)
		dead2 := NewVerification("invitation:bob@example.com", now.Add(-3*time.Hour), now.Add(-time.Hour), nil)
		for _, v := range []domain.Verification{live, dead1, dead2} {
			require.NoError(t, s.Verifications().CreateVerification(ctx, v))
		}

		n, err := s.Verifications().DeleteExpiredVerifications(ctx, now)
		require.NoError(t, err)
		require.Equal(t, int64(2), n)

		latest, err := s.Verifications().GetLatestVerification(ctx, ident)
		require.NoError(t, err)
		require.Equal(t, live.ID, latest.ID)

		_, err = s.Verifications().GetLatestVerification(ctx, "invitation:bob@example.com")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("with tx commits", func(t *testing.T) {
		s := newStore(t)
		old := NewVerification(ident, now.Add(-time.Minute), now.Add(time.Hour), nil)
		require.NoError(t, s.Verifications().CreateVerification(ctx, old))

		fresh := NewVerification(ident, now, now.Add(2*time.Hour), nil)
		err := s.WithTx(ctx, func(tx store.Tx) error {
			if _, err := tx.Verifications().DeleteVerificationsByIdentifier(ctx, ident); err != nil {
				return err
			}
			return tx.Verifications().CreateVerification(ctx, fresh)
		})
		require.NoError(t, err)

		got, err := s.Verifications().GetLatestVerification(ctx, ident)
		require.NoError(t, err)
		require.Equal(t, fresh.ID, got.ID)

		n, err := s.Verifications().DeleteVerificationsByIdentifier(ctx, ident)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
	})

	t.Run("with tx rolls back on error", func(t *testing.T) {
		s := newStore(t)
		old := NewVerification(ident, now.Add(-time.Minute), now.Add(time.Hour), nil)
		require.NoError(t, s.Verifications().CreateVerification(ctx, old))

		boom := errors.New("boom")
		err := s.WithTx(ctx, func(tx store.Tx) error {
			if _, err := tx.Verifications().DeleteVerificationsByIdentifier(ctx, ident); err != nil {
				return err
			}
			if err := tx.Verifications().CreateVerification(ctx, NewVerification(ident, now, now.Add(time.Hour), nil)); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		got, err := s.Verifications().GetLatestVerification(ctx, ident)
		require.NoError(t, err)
		require.Equal(t, old.ID, got.ID)
	})

	t.Run("nested tx is refused", func(t *testing.T) {
		s := newStore(t)
		err := s.WithTx(ctx, func(tx store.Tx) error {
			_, err := tx.Tx(ctx)
			require.ErrorIs(t, err, store.ErrTxUnsupported)
			return tx.WithTx(ctx, func(store.Tx) error { return nil })
		})
		require.ErrorIs(t, err, store.ErrTxUnsupported)
	})

	t.Run("ping", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Ping(ctx))
	})
}
