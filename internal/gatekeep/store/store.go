package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
	ErrTxUnsupported = errors.New("store: nested transactions are not supported")

	// ErrConflict is returned on commit when a concurrent writer changed
	// data the transaction read. Drivers with blocking locks never return it.
	ErrConflict = errors.New("store: concurrent modification")
)

// Store is the root data access interface. Concrete drivers (sqlite,
// postgres, redis) implement this. Sub-repositories are reached through
// methods so a Tx can hand out repos bound to the transaction, and nobody
// accidentally starts a transaction inside a transaction.
type Store interface {
	Verifications() Verifications

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the backend is still reachable.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

// Verifications stores single-use credentials keyed by identifier. Several
// records may share an identifier; "newest" means greatest CreatedAt.
type Verifications interface {
	// CreateVerification inserts v. ID collisions return ErrAlreadyExists.
	CreateVerification(ctx context.Context, v domain.Verification) error

	// GetActiveVerification returns the newest record for identifier whose
	// ExpiresAt is after now, or ErrNotFound.
	GetActiveVerification(ctx context.Context, identifier string, now time.Time) (domain.Verification, error)

	// GetLatestVerification returns the newest record for identifier
	// regardless of expiry, or ErrNotFound.
	GetLatestVerification(ctx context.Context, identifier string) (domain.Verification, error)

	// DeleteVerification removes the single record id under identifier and
	// returns 1, or 0 when it is already gone.
	DeleteVerification(ctx context.Context, identifier, id string) (int64, error)

	// DeleteVerificationsByIdentifier removes every record for identifier and
	// returns how many were removed.
	DeleteVerificationsByIdentifier(ctx context.Context, identifier string) (int64, error)

	// DeleteExpiredVerifications is housekeeping: removes records whose
	// ExpiresAt is at or before now.
	DeleteExpiredVerifications(ctx context.Context, now time.Time) (int64, error)
}
