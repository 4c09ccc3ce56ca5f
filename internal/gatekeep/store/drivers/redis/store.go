// Package redis stores verifications in Redis. Each identifier owns a hash of
// JSON records keyed by ID and a sorted set ordering those IDs by creation
// time. Both keys expire together once the newest record has been expired for
// the configured retention.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store"
	goredis "github.com/redis/go-redis/v9"
)

const (
	DefaultKeyPrefix = "gatekeep:"
	DefaultRetention = 24 * time.Hour

	// watchRetries bounds optimistic retries when a watched key changes.
	watchRetries = 3
)

// ErrConflict is returned when a watched key changed before EXEC.
var ErrConflict = fmt.Errorf("redis: %w", store.ErrConflict)

type Store struct {
	client    *goredis.Client
	prefix    string
	retention time.Duration
}

type Option func(*Store)

// WithKeyPrefix namespaces every key the store writes.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithRetention keeps expired records readable for d after they expire so
// diagnostics can tell "expired" from "never existed".
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.retention = d
		}
	}
}

// NewStore connects using a redis:// or rediss:// URL.
func NewStore(url string, opts ...Option) (*Store, error) {
	o, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	return NewStoreFromClient(goredis.NewClient(o), opts...), nil
}

func NewStoreFromClient(client *goredis.Client, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultKeyPrefix, retention: DefaultRetention}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// ApplyMigrations is a no-op, Redis has no schema.
func (s *Store) ApplyMigrations() error { return nil }

// Tx pins a connection and WATCHes every key the transaction touches. Writes
// are queued and sent as one MULTI/EXEC on Commit. Reads see committed state
// only.
func (s *Store) Tx(ctx context.Context) (store.Tx, error) {
	return newTx(ctx, s), nil
}

// WithTx executes fn within a transaction, automatically handling commit/rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.Tx(ctx)
	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback() // safe to call even after commit
	}()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) Verifications() store.Verifications { return &verificationsRepo{s: s} }

func (s *Store) recordsKey(identifier string) string {
	return s.prefix + "verification:{" + identifier + "}:records"
}

func (s *Store) orderKey(identifier string) string {
	return s.prefix + "verification:{" + identifier + "}:order"
}

func (s *Store) orderPattern() string {
	return s.prefix + "verification:*:order"
}

// recordsKeyFromOrder maps an order key found by SCAN to its records key.
func recordsKeyFromOrder(orderKey string) string {
	return strings.TrimSuffix(orderKey, ":order") + ":records"
}

// keyExpiry picks when the identifier's keys should vanish: the later of the
// current key deadline (pttl, as returned by PTTL) and this record's
// expiry plus retention.
func (s *Store) keyExpiry(v domain.Verification, pttl time.Duration, now time.Time) time.Time {
	want := v.ExpiresAt.Add(s.retention)
	if pttl > 0 {
		if current := now.Add(pttl); current.After(want) {
			return current
		}
	}
	return want
}

type record struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier"`
	Value      string `json:"value"`
	Metadata   []byte `json:"metadata,omitempty"`
	ExpiresAt  int64  `json:"expiresAt"`
	CreatedAt  int64  `json:"createdAt"`
	UpdatedAt  int64  `json:"updatedAt"`
}

func encodeRecord(v domain.Verification) ([]byte, error) {
	return json.Marshal(record{
		ID:         v.ID,
		Identifier: v.Identifier,
		Value:      v.Value,
		Metadata:   v.Metadata,
		ExpiresAt:  v.ExpiresAt.UTC().UnixMilli(),
		CreatedAt:  v.CreatedAt.UTC().UnixMilli(),
		UpdatedAt:  v.UpdatedAt.UTC().UnixMilli(),
	})
}

func decodeRecord(raw string) (domain.Verification, error) {
	var r record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return domain.Verification{}, fmt.Errorf("redis: decode verification: %w", err)
	}
	return domain.Verification{
		ID:         r.ID,
		Identifier: r.Identifier,
		Value:      r.Value,
		Metadata:   r.Metadata,
		ExpiresAt:  time.UnixMilli(r.ExpiresAt).UTC(),
		CreatedAt:  time.UnixMilli(r.CreatedAt).UTC(),
		UpdatedAt:  time.UnixMilli(r.UpdatedAt).UTC(),
	}, nil
}

// queueCreate appends the writes for v to pipe.
func (s *Store) queueCreate(ctx context.Context, pipe goredis.Pipeliner, v domain.Verification, data []byte, expireAt time.Time) {
	rk, ok := s.recordsKey(v.Identifier), s.orderKey(v.Identifier)
	pipe.HSet(ctx, rk, v.ID, data)
	pipe.ZAdd(ctx, ok, goredis.Z{Score: float64(v.CreatedAt.UTC().UnixMilli()), Member: v.ID})
	pipe.PExpireAt(ctx, rk, expireAt)
	pipe.PExpireAt(ctx, ok, expireAt)
}
