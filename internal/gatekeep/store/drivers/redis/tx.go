package redis

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store"
	goredis "github.com/redis/go-redis/v9"
)

type txStore struct {
	ctx  context.Context
	s    *Store
	conn *goredis.Conn

	ops     []func(pipe goredis.Pipeliner)
	watched map[string]bool
	deleted map[string]bool      // identifiers wiped earlier in this tx
	created map[string]bool      // IDs queued in this tx
	expiry  map[string]time.Time // pending key deadline per identifier
	done    bool
}

func newTx(ctx context.Context, s *Store) *txStore {
	return &txStore{
		ctx:     ctx,
		s:       s,
		conn:    s.client.Conn(),
		watched: make(map[string]bool),
		deleted: make(map[string]bool),
		created: make(map[string]bool),
		expiry:  make(map[string]time.Time),
	}
}

func (t *txStore) watch(ctx context.Context, identifier string) error {
	if t.watched[identifier] {
		return nil
	}
	if err := t.conn.Do(ctx, "WATCH", t.s.recordsKey(identifier), t.s.orderKey(identifier)).Err(); err != nil {
		return err
	}
	t.watched[identifier] = true
	return nil
}

func (t *txStore) Commit() error {
	if t.done {
		return errors.New("redis: transaction already finished")
	}
	defer t.finish()

	if len(t.ops) == 0 {
		return nil
	}

	_, err := t.conn.TxPipelined(t.ctx, func(pipe goredis.Pipeliner) error {
		for _, op := range t.ops {
			op(pipe)
		}
		return nil
	})
	if errors.Is(err, goredis.TxFailedErr) {
		return ErrConflict
	}
	return err
}

func (t *txStore) Rollback() error {
	if t.done {
		return nil
	}
	t.finish()
	return nil
}

func (t *txStore) finish() {
	t.done = true
	t.ops = nil
	if len(t.watched) > 0 {
		_ = t.conn.Do(context.WithoutCancel(t.ctx), "UNWATCH").Err()
	}
	_ = t.conn.Close()
}

func (t *txStore) Close() error { return nil }

func (t *txStore) Ping(ctx context.Context) error { return nil }

func (t *txStore) ApplyMigrations() error { return nil }

func (t *txStore) Tx(ctx context.Context) (store.Tx, error) {
	return nil, store.ErrTxUnsupported
}

func (t *txStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return store.ErrTxUnsupported
}

func (t *txStore) Verifications() store.Verifications { return &txVerifications{t: t} }

type txVerifications struct {
	t *txStore
}

func (r *txVerifications) CreateVerification(ctx context.Context, v domain.Verification) error {
	t := r.t
	if t.done {
		return errors.New("redis: transaction already finished")
	}
	if err := t.watch(ctx, v.Identifier); err != nil {
		return err
	}
	if t.created[v.ID] {
		return store.ErrAlreadyExists
	}

	rk := t.s.recordsKey(v.Identifier)
	var pttl time.Duration
	if !t.deleted[v.Identifier] {
		exists, err := t.conn.HExists(ctx, rk, v.ID).Result()
		if err != nil {
			return err
		}
		if exists {
			return store.ErrAlreadyExists
		}
		if pttl, err = t.conn.PTTL(ctx, rk).Result(); err != nil {
			return err
		}
	}

	data, err := encodeRecord(v)
	if err != nil {
		return err
	}

	now := time.Now()
	expireAt := t.s.keyExpiry(v, pttl, now)
	if pending, ok := t.expiry[v.Identifier]; ok && pending.After(expireAt) {
		expireAt = pending
	}
	t.expiry[v.Identifier] = expireAt
	t.created[v.ID] = true

	t.ops = append(t.ops, func(pipe goredis.Pipeliner) {
		t.s.queueCreate(t.ctx, pipe, v, data, expireAt)
	})
	return nil
}

func (r *txVerifications) DeleteVerificationsByIdentifier(ctx context.Context, identifier string) (int64, error) {
	t := r.t
	if t.done {
		return 0, errors.New("redis: transaction already finished")
	}
	if err := t.watch(ctx, identifier); err != nil {
		return 0, err
	}

	var n int64
	if !t.deleted[identifier] {
		var err error
		if n, err = t.conn.HLen(ctx, t.s.recordsKey(identifier)).Result(); err != nil {
			return 0, err
		}
	}

	t.deleted[identifier] = true
	delete(t.expiry, identifier)
	rk, ok := t.s.recordsKey(identifier), t.s.orderKey(identifier)
	t.ops = append(t.ops, func(pipe goredis.Pipeliner) {
		pipe.Del(t.ctx, rk, ok)
	})
	return n, nil
}

func (r *txVerifications) DeleteVerification(ctx context.Context, identifier, id string) (int64, error) {
	t := r.t
	if t.done {
		return 0, errors.New("redis: transaction already finished")
	}
	if err := t.watch(ctx, identifier); err != nil {
		return 0, err
	}
	if t.deleted[identifier] && !t.created[id] {
		return 0, nil
	}

	exists := t.created[id]
	if !exists {
		var err error
		if exists, err = t.conn.HExists(ctx, t.s.recordsKey(identifier), id).Result(); err != nil {
			return 0, err
		}
	}
	if !exists {
		return 0, nil
	}

	delete(t.created, id)
	rk, ok := t.s.recordsKey(identifier), t.s.orderKey(identifier)
	t.ops = append(t.ops, func(pipe goredis.Pipeliner) {
		pipe.HDel(t.ctx, rk, id)
		pipe.ZRem(t.ctx, ok, id)
	})
	return 1, nil
}

// Reads WATCH the identifier first, so a write by anyone else between this
// read and Commit fails the transaction with ErrConflict.
func (r *txVerifications) GetActiveVerification(ctx context.Context, identifier string, now time.Time) (domain.Verification, error) {
	if err := r.t.watch(ctx, identifier); err != nil {
		return domain.Verification{}, err
	}
	return r.t.s.Verifications().GetActiveVerification(ctx, identifier, now)
}

func (r *txVerifications) GetLatestVerification(ctx context.Context, identifier string) (domain.Verification, error) {
	if err := r.t.watch(ctx, identifier); err != nil {
		return domain.Verification{}, err
	}
	return r.t.s.Verifications().GetLatestVerification(ctx, identifier)
}

// DeleteExpiredVerifications runs immediately, outside the transaction.
func (r *txVerifications) DeleteExpiredVerifications(ctx context.Context, now time.Time) (int64, error) {
	return r.t.s.Verifications().DeleteExpiredVerifications(ctx, now)
}
