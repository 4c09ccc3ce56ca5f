package redis

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store"
	goredis "github.com/redis/go-redis/v9"
)

type verificationsRepo struct {
	s *Store
}

func (r *verificationsRepo) CreateVerification(ctx context.Context, v domain.Verification) error {
	data, err := encodeRecord(v)
	if err != nil {
		return err
	}

	rk := r.s.recordsKey(v.Identifier)
	create := func(tx *goredis.Tx) error {
		exists, err := tx.HExists(ctx, rk, v.ID).Result()
		if err != nil {
			return err
		}
		if exists {
			return store.ErrAlreadyExists
		}

		pttl, err := tx.PTTL(ctx, rk).Result()
		if err != nil {
			return err
		}
		expireAt := r.s.keyExpiry(v, pttl, time.Now())

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			r.s.queueCreate(ctx, pipe, v, data, expireAt)
			return nil
		})
		return err
	}

	for range watchRetries {
		err = r.s.client.Watch(ctx, create, rk)
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
	}
	return ErrConflict
}

func (r *verificationsRepo) GetActiveVerification(
	ctx context.Context,
	identifier string,
	now time.Time,
) (domain.Verification, error) {
	records, err := r.newestFirst(ctx, identifier, -1)
	if err != nil {
		return domain.Verification{}, err
	}
	for _, v := range records {
		if v.ExpiresAt.After(now) {
			return v, nil
		}
	}
	return domain.Verification{}, store.ErrNotFound
}

func (r *verificationsRepo) GetLatestVerification(
	ctx context.Context,
	identifier string,
) (domain.Verification, error) {
	records, err := r.newestFirst(ctx, identifier, 0)
	if err != nil {
		return domain.Verification{}, err
	}
	if len(records) == 0 {
		return domain.Verification{}, store.ErrNotFound
	}
	return records[0], nil
}

// newestFirst loads records for identifier ordered by created time then ID,
// both descending. stop is the last rank to load, -1 for all.
func (r *verificationsRepo) newestFirst(ctx context.Context, identifier string, stop int64) ([]domain.Verification, error) {
	ids, err := r.s.client.ZRevRange(ctx, r.s.orderKey(identifier), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	raws, err := r.s.client.HMGet(ctx, r.s.recordsKey(identifier), ids...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]domain.Verification, 0, len(raws))
	for _, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			// order entry without a record; pruned by housekeeping
			continue
		}
		v, err := decodeRecord(str)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *verificationsRepo) DeleteVerification(ctx context.Context, identifier, id string) (int64, error) {
	var n *goredis.IntCmd
	_, err := r.s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		n = pipe.HDel(ctx, r.s.recordsKey(identifier), id)
		pipe.ZRem(ctx, r.s.orderKey(identifier), id)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n.Val(), nil
}

func (r *verificationsRepo) DeleteVerificationsByIdentifier(ctx context.Context, identifier string) (int64, error) {
	rk := r.s.recordsKey(identifier)

	var n *goredis.IntCmd
	_, err := r.s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		n = pipe.HLen(ctx, rk)
		pipe.Del(ctx, rk, r.s.orderKey(identifier))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n.Val(), nil
}

// DeleteExpiredVerifications walks every identifier with SCAN and prunes
// records whose expiry is at or before now.
func (r *verificationsRepo) DeleteExpiredVerifications(ctx context.Context, now time.Time) (int64, error) {
	var (
		removed int64
		cursor  uint64
	)
	for {
		keys, next, err := r.s.client.Scan(ctx, cursor, r.s.orderPattern(), 100).Result()
		if err != nil {
			return removed, err
		}

		for _, ok := range keys {
			n, err := r.pruneKey(ctx, ok, now)
			if err != nil {
				return removed, err
			}
			removed += n
		}

		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func (r *verificationsRepo) pruneKey(ctx context.Context, orderKey string, now time.Time) (int64, error) {
	rk := recordsKeyFromOrder(orderKey)

	ids, err := r.s.client.ZRange(ctx, orderKey, 0, -1).Result()
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	raws, err := r.s.client.HMGet(ctx, rk, ids...).Result()
	if err != nil {
		return 0, err
	}

	var expired []string
	var orphans []any
	for i, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			orphans = append(orphans, ids[i])
			continue
		}
		v, err := decodeRecord(str)
		if err != nil {
			return 0, err
		}
		if !v.ExpiresAt.After(now) {
			expired = append(expired, v.ID)
		}
	}
	if len(expired) == 0 && len(orphans) == 0 {
		return 0, nil
	}

	var hdel *goredis.IntCmd
	_, err = r.s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if len(expired) > 0 {
			hdel = pipe.HDel(ctx, rk, expired...)
			members := make([]any, len(expired))
			for i, id := range expired {
				members[i] = id
			}
			pipe.ZRem(ctx, orderKey, members...)
		}
		if len(orphans) > 0 {
			pipe.ZRem(ctx, orderKey, orphans...)
		}
		return nil
	})
	if err != nil || hdel == nil {
		return 0, err
	}
	return hdel.Val(), nil
}
