package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// IdentifierPrefix namespaces invitation records in the shared verification
// table.
const IdentifierPrefix = "invitation:"

// MaxNameLength bounds InvitationMetadata.Name.
const MaxNameLength = 200

var (
	ErrInvalidEmail    = errors.New("domain: invalid email")
	ErrInvalidRole     = errors.New("domain: invalid role")
	ErrInvalidMetadata = errors.New("domain: invalid invitation metadata")
)

// Verification is the generic single-use credential record. Invitations are
// one kind of verification, keyed by identifier.
type Verification struct {
	ID         string
	Identifier string
	Value      string // SHA-256 hex of the plaintext token, never the token
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Metadata   []byte // JSON encoded InvitationMetadata
}

// Expired reports whether v is no longer usable at now.
func (v Verification) Expired(now time.Time) bool {
	return !v.ExpiresAt.After(now)
}

// InvitationMetadata is stored alongside an invitation and returned once the
// token is proven.
type InvitationMetadata struct {
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	InvitedBy string    `json:"invitedBy"`
	InvitedAt time.Time `json:"invitedAt"`
}

// Validate checks the invariants every stored metadata blob must satisfy.
func (m InvitationMetadata) Validate() error {
	name := strings.TrimSpace(m.Name)
	switch {
	case name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidMetadata)
	case len(name) > MaxNameLength:
		return fmt.Errorf("%w: name too long", ErrInvalidMetadata)
	case !m.Role.Valid():
		return fmt.Errorf("%w: %w %q", ErrInvalidMetadata, ErrInvalidRole, m.Role)
	case strings.TrimSpace(m.InvitedBy) == "":
		return fmt.Errorf("%w: invitedBy is required", ErrInvalidMetadata)
	case m.InvitedAt.IsZero():
		return fmt.Errorf("%w: invitedAt is required", ErrInvalidMetadata)
	}
	return nil
}

// Marshal validates m and encodes it for storage.
func (m InvitationMetadata) Marshal() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// ParseInvitationMetadata decodes and validates a stored metadata blob.
// Unknown fields are rejected so a tampered row cannot smuggle extra state.
func ParseInvitationMetadata(raw []byte) (InvitationMetadata, error) {
	var m InvitationMetadata
	if len(bytes.TrimSpace(raw)) == 0 {
		return m, fmt.Errorf("%w: empty", ErrInvalidMetadata)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return InvitationMetadata{}, fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}
	if dec.More() {
		return InvitationMetadata{}, fmt.Errorf("%w: trailing data", ErrInvalidMetadata)
	}
	if err := m.Validate(); err != nil {
		return InvitationMetadata{}, err
	}
	return m, nil
}

// Invitation is the read model of a pending invitation.
type Invitation struct {
	Email     string
	Metadata  InvitationMetadata
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NormalizeEmail trims and lowercases email and checks it parses as a bare
// address.
func NormalizeEmail(email string) (string, error) {
	e := strings.ToLower(strings.TrimSpace(email))
	if e == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(e)
	if err != nil || addr.Address != e || addr.Name != "" {
		return "", ErrInvalidEmail
	}
	return e, nil
}

// InvitationIdentifier is the storage key for email's invitation.
func InvitationIdentifier(email string) string {
	return IdentifierPrefix + strings.ToLower(strings.TrimSpace(email))
}

// Reason explains why an invitation did not validate. It is for logs and
// metrics only; callers must show users one generic message.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonNotFound          Reason = "not_found"
	ReasonExpired           Reason = "expired"
	ReasonInvalidToken      Reason = "invalid_token"
	ReasonMalformedMetadata Reason = "malformed_metadata"
)

// MetadataResult is the outcome of proving an invitation token.
type MetadataResult struct {
	Valid     bool
	Metadata  *InvitationMetadata
	ExpiresAt *time.Time
	Reason    Reason
}

// Invalid returns a failed result carrying r.
func Invalid(r Reason) MetadataResult {
	return MetadataResult{Reason: r}
}
