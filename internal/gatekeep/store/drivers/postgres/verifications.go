package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
)

type verificationsRepo struct {
	db dbtx
}

const verificationColumns = `id, identifier, value, metadata, expires_at, created_at, updated_at`

func (r *verificationsRepo) CreateVerification(ctx context.Context, v domain.Verification) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO verifications (`+verificationColumns+`)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7)`,
		v.ID,
		v.Identifier,
		v.Value,
		mapBytesNull(v.Metadata),
		v.ExpiresAt.UTC(),
		v.CreatedAt.UTC(),
		v.UpdatedAt.UTC(),
	)
	return mapConstraint(err)
}

func (r *verificationsRepo) GetActiveVerification(
	ctx context.Context,
	identifier string,
	now time.Time,
) (domain.Verification, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, identifier, value, metadata::text, expires_at, created_at, updated_at
		FROM verifications
		WHERE identifier = $1 AND expires_at > $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		identifier, now.UTC(),
	)
	return scanVerification(row)
}

func (r *verificationsRepo) GetLatestVerification(
	ctx context.Context,
	identifier string,
) (domain.Verification, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, identifier, value, metadata::text, expires_at, created_at, updated_at
		FROM verifications
		WHERE identifier = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		identifier,
	)
	return scanVerification(row)
}

func (r *verificationsRepo) DeleteVerification(ctx context.Context, identifier, id string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM verifications WHERE identifier = $1 AND id = $2`, identifier, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *verificationsRepo) DeleteVerificationsByIdentifier(ctx context.Context, identifier string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM verifications WHERE identifier = $1`, identifier)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *verificationsRepo) DeleteExpiredVerifications(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM verifications WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanVerification(row *sql.Row) (domain.Verification, error) {
	var (
		v        domain.Verification
		metadata sql.NullString
	)
	if err := row.Scan(&v.ID, &v.Identifier, &v.Value, &metadata, &v.ExpiresAt, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return domain.Verification{}, mapNotFound(err)
	}

	v.Metadata = mapNullBytes(metadata)
	v.ExpiresAt = v.ExpiresAt.UTC()
	v.CreatedAt = v.CreatedAt.UTC()
	v.UpdatedAt = v.UpdatedAt.UTC()
	return v, nil
}
