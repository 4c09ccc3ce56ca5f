package sqlite

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
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID,
		v.Identifier,
		v.Value,
		mapBytesNull(v.Metadata),
		toMillis(v.ExpiresAt),
		toMillis(v.CreatedAt),
		toMillis(v.UpdatedAt),
	)
	return mapConstraint(err)
}

func (r *verificationsRepo) GetActiveVerification(
	ctx context.Context,
	identifier string,
	now time.Time,
) (domain.Verification, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+verificationColumns+`
		FROM verifications
		WHERE identifier = ? AND expires_at > ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		identifier, toMillis(now),
	)
	return scanVerification(row)
}

func (r *verificationsRepo) GetLatestVerification(
	ctx context.Context,
	identifier string,
) (domain.Verification, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+verificationColumns+`
		FROM verifications
		WHERE identifier = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		identifier,
	)
	return scanVerification(row)
}

func (r *verificationsRepo) DeleteVerification(ctx context.Context, identifier, id string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM verifications WHERE identifier = ? AND id = ?`, identifier, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *verificationsRepo) DeleteVerificationsByIdentifier(ctx context.Context, identifier string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM verifications WHERE identifier = ?`, identifier)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *verificationsRepo) DeleteExpiredVerifications(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM verifications WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanVerification(row *sql.Row) (domain.Verification, error) {
	var (
		v                               domain.Verification
		metadata                        sql.NullString
		expiresAt, createdAt, updatedAt int64
	)
	if err := row.Scan(&v.ID, &v.Identifier, &v.Value, &metadata, &expiresAt, &createdAt, &updatedAt); err != nil {
		return domain.Verification{}, mapNotFound(err)
	}

	v.Metadata = mapNullBytes(metadata)
	v.ExpiresAt = fromMillis(expiresAt)
	v.CreatedAt = fromMillis(createdAt)
	v.UpdatedAt = fromMillis(updatedAt)
	return v, nil
}
