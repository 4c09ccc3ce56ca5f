package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/metrics"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store"
	"github.com/aussiebroadwan/gatekeep/pkg/cryptox"
	"github.com/aussiebroadwan/gatekeep/pkg/idx"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

// DefaultInvitationTTL is how long a freshly minted invitation stays valid.
const DefaultInvitationTTL = 7 * 24 * time.Hour

var (
	ErrInvitationPersist = errors.New("failed to persist invitation")
	ErrInvitationDelete  = errors.New("failed to delete invitation")
)

// InvitationService issues and checks single-use invitation tokens. Only the
// SHA-256 of a token is stored; the plaintext leaves through Generate or
// Update exactly once and is never logged.
type InvitationService struct {
	Store store.Store
	TTL   time.Duration
	Now   func() time.Time
}

func (s *InvitationService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *InvitationService) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return DefaultInvitationTTL
}

// Generate mints a token for email and stores its hash with meta. A failed
// write discards the token; callers retry by calling Generate again.
func (s *InvitationService) Generate(ctx context.Context, email string, meta domain.InvitationMetadata) (string, error) {
	log := slogx.FromContext(ctx)

	addr, token, v, err := s.prepare(email, meta)
	if err != nil {
		metrics.InvitationOps.WithLabelValues("generate", metrics.OutcomeInvalid).Inc()
		return "", err
	}

	if err := s.Store.Verifications().CreateVerification(ctx, v); err != nil {
		log.Error("failed to persist invitation",
			slog.String("email", addr),
			slog.Any("error", err),
		)
		metrics.InvitationOps.WithLabelValues("generate", metrics.OutcomeError).Inc()
		return "", fmt.Errorf("%w: %w", ErrInvitationPersist, err)
	}

	log.Info("invitation generated",
		slog.String("email", addr),
		slog.String("role", string(meta.Role)),
		slog.Time("expires_at", v.ExpiresAt),
	)
	metrics.InvitationOps.WithLabelValues("generate", metrics.OutcomeSuccess).Inc()
	return token, nil
}

// Validate reports whether token is the current invitation token for email.
// Every failure, including storage errors, reads as false.
func (s *InvitationService) Validate(ctx context.Context, email, token string) bool {
	log := slogx.FromContext(ctx).With(slog.String("email", normalizeForLog(email)))

	v, err := s.Store.Verifications().GetActiveVerification(ctx, domain.InvitationIdentifier(email), s.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Info("invitation not found or expired")
		} else {
			log.Error("failed to look up invitation", slog.Any("error", err))
		}
		metrics.InvitationOps.WithLabelValues("validate", metrics.OutcomeInvalid).Inc()
		return false
	}

	if !cryptox.EqualHash(cryptox.HashToken(token), v.Value) {
		log.Warn("invitation token mismatch")
		metrics.InvitationOps.WithLabelValues("validate", metrics.OutcomeInvalid).Inc()
		return false
	}

	metrics.InvitationOps.WithLabelValues("validate", metrics.OutcomeSuccess).Inc()
	return true
}

// GetInvitationMetadata proves token like Validate and, on success, returns
// the metadata stored at mint time. Reason is for logs and metrics only.
func (s *InvitationService) GetInvitationMetadata(ctx context.Context, email, token string) domain.MetadataResult {
	res, _ := s.lookup(ctx, s.Store.Verifications(), email, token)
	if res.Valid {
		metrics.InvitationOps.WithLabelValues("metadata", metrics.OutcomeSuccess).Inc()
	} else {
		metrics.InvitationOps.WithLabelValues("metadata", metrics.OutcomeInvalid).Inc()
		metrics.InvitationRejections.WithLabelValues(string(res.Reason)).Inc()
	}
	return res
}

// lookup proves token against the newest active record read through repo and
// returns the ID of the record it proved.
func (s *InvitationService) lookup(ctx context.Context, repo store.Verifications, email, token string) (domain.MetadataResult, string) {
	log := slogx.FromContext(ctx).With(slog.String("email", normalizeForLog(email)))
	ident := domain.InvitationIdentifier(email)
	now := s.now()

	v, err := repo.GetActiveVerification(ctx, ident, now)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// The latest record, if any, tells expired apart from never issued.
		latest, lerr := repo.GetLatestVerification(ctx, ident)
		if lerr == nil && latest.Expired(now) {
			log.Info("invitation expired", slog.Time("expired_at", latest.ExpiresAt))
			return domain.Invalid(domain.ReasonExpired), ""
		}
		log.Info("invitation not found")
		return domain.Invalid(domain.ReasonNotFound), ""
	case err != nil:
		log.Error("failed to look up invitation", slog.Any("error", err))
		return domain.Invalid(domain.ReasonNotFound), ""
	}

	if !cryptox.EqualHash(cryptox.HashToken(token), v.Value) {
		log.Warn("invitation token mismatch")
		return domain.Invalid(domain.ReasonInvalidToken), ""
	}

	meta, err := domain.ParseInvitationMetadata(v.Metadata)
	if err != nil {
		log.Error("stored invitation metadata is malformed",
			slog.String("verification_id", v.ID),
			slog.Any("error", err),
		)
		return domain.Invalid(domain.ReasonMalformedMetadata), ""
	}

	expiresAt := v.ExpiresAt
	return domain.MetadataResult{
		Valid:     true,
		Metadata:  &meta,
		ExpiresAt: &expiresAt,
	}, v.ID
}

// Delete removes every invitation record for email and returns how many were
// removed.
func (s *InvitationService) Delete(ctx context.Context, email string) (int64, error) {
	log := slogx.FromContext(ctx)
	addr := normalizeForLog(email)

	n, err := s.Store.Verifications().DeleteVerificationsByIdentifier(ctx, domain.InvitationIdentifier(email))
	if err != nil {
		log.Error("failed to delete invitation",
			slog.String("email", addr),
			slog.Any("error", err),
		)
		metrics.InvitationOps.WithLabelValues("delete", metrics.OutcomeError).Inc()
		return 0, fmt.Errorf("%w: %w", ErrInvitationDelete, err)
	}

	log.Info("invitation deleted", slog.String("email", addr), slog.Int64("records", n))
	metrics.InvitationOps.WithLabelValues("delete", metrics.OutcomeSuccess).Inc()
	return n, nil
}

// Update rotates the invitation for email: every existing record is deleted
// and a new token is minted in the same store transaction, so the old token
// stops validating the moment the new one exists.
func (s *InvitationService) Update(ctx context.Context, email string, meta domain.InvitationMetadata) (string, error) {
	log := slogx.FromContext(ctx)

	addr, token, v, err := s.prepare(email, meta)
	if err != nil {
		metrics.InvitationOps.WithLabelValues("update", metrics.OutcomeInvalid).Inc()
		return "", err
	}

	var replaced int64
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		n, err := tx.Verifications().DeleteVerificationsByIdentifier(ctx, v.Identifier)
		if err != nil {
			return err
		}
		replaced = n
		return tx.Verifications().CreateVerification(ctx, v)
	})
	if err != nil {
		log.Error("failed to rotate invitation",
			slog.String("email", addr),
			slog.Any("error", err),
		)
		metrics.InvitationOps.WithLabelValues("update", metrics.OutcomeError).Inc()
		return "", fmt.Errorf("%w: %w", ErrInvitationPersist, err)
	}

	log.Info("invitation rotated",
		slog.String("email", addr),
		slog.Int64("replaced", replaced),
		slog.Time("expires_at", v.ExpiresAt),
	)
	metrics.InvitationOps.WithLabelValues("update", metrics.OutcomeSuccess).Inc()
	return token, nil
}

// GetValidInvitation returns the active invitation for email without
// consuming it, or nil when there is none or its metadata cannot be trusted.
func (s *InvitationService) GetValidInvitation(ctx context.Context, email string) (*domain.Invitation, error) {
	log := slogx.FromContext(ctx)
	addr := normalizeForLog(email)

	v, err := s.Store.Verifications().GetActiveVerification(ctx, domain.InvitationIdentifier(email), s.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		log.Error("failed to look up invitation", slog.String("email", addr), slog.Any("error", err))
		return nil, err
	}

	meta, err := domain.ParseInvitationMetadata(v.Metadata)
	if err != nil {
		log.Warn("ignoring invitation with malformed metadata",
			slog.String("email", addr),
			slog.String("verification_id", v.ID),
			slog.Any("error", err),
		)
		return nil, nil
	}

	return &domain.Invitation{
		Email:     addr,
		Metadata:  meta,
		ExpiresAt: v.ExpiresAt,
		CreatedAt: v.CreatedAt,
	}, nil
}

// Accept proves token and consumes the invitation in one store transaction.
// Only the proven record is claimed: if a rotation or another accept removed
// it first, the claim deletes nothing and the result is invalid. A commit
// conflict reads the same way.
func (s *InvitationService) Accept(ctx context.Context, email, token string) (domain.MetadataResult, error) {
	log := slogx.FromContext(ctx).With(slog.String("email", normalizeForLog(email)))
	ident := domain.InvitationIdentifier(email)

	var res domain.MetadataResult
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		repo := tx.Verifications()

		var id string
		res, id = s.lookup(ctx, repo, email, token)
		if !res.Valid {
			return nil
		}

		n, err := repo.DeleteVerification(ctx, ident, id)
		if err != nil {
			return err
		}
		if n == 0 {
			log.Warn("invitation consumed concurrently")
			res = domain.Invalid(domain.ReasonNotFound)
			return nil
		}

		// Older records under the same email are dead once one is accepted.
		_, err = repo.DeleteVerificationsByIdentifier(ctx, ident)
		return err
	})
	switch {
	case errors.Is(err, store.ErrConflict):
		log.Warn("invitation changed while being accepted")
		res = domain.Invalid(domain.ReasonNotFound)
	case err != nil:
		log.Error("failed to accept invitation", slog.Any("error", err))
		metrics.InvitationOps.WithLabelValues("accept", metrics.OutcomeError).Inc()
		return domain.MetadataResult{}, fmt.Errorf("%w: %w", ErrInvitationDelete, err)
	}

	if !res.Valid {
		metrics.InvitationOps.WithLabelValues("accept", metrics.OutcomeInvalid).Inc()
		metrics.InvitationRejections.WithLabelValues(string(res.Reason)).Inc()
		return res, nil
	}

	log.Info("invitation accepted")
	metrics.InvitationOps.WithLabelValues("accept", metrics.OutcomeSuccess).Inc()
	return res, nil
}

// prepare validates input and builds the record for a new token.
func (s *InvitationService) prepare(email string, meta domain.InvitationMetadata) (string, string, domain.Verification, error) {
	addr, err := domain.NormalizeEmail(email)
	if err != nil {
		return "", "", domain.Verification{}, err
	}

	data, err := meta.Marshal()
	if err != nil {
		return "", "", domain.Verification{}, err
	}

	token, err := cryptox.GenerateHexToken(cryptox.TokenSize256)
	if err != nil {
		return "", "", domain.Verification{}, err
	}

	now := s.now()
	return addr, token, domain.Verification{
		ID:         idx.NewAt(now).String(),
		Identifier: domain.InvitationIdentifier(addr),
		Value:      cryptox.HashToken(token),
		ExpiresAt:  now.Add(s.ttl()),
		CreatedAt:  now,
		UpdatedAt:  now,
		Metadata:   data,
	}, nil
}

func normalizeForLog(email string) string {
	if addr, err := domain.NormalizeEmail(email); err == nil {
		return addr
	}
	return "<invalid>"
}
