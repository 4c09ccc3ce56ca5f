package gatekeepsdk

// ============================================================================
// Error Types
// ============================================================================

// ErrorResponse is the JSON body of every non-429 error.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// RateLimitResponse is the JSON body of a 429.
type RateLimitResponse struct {
	Success bool `json:"success"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ============================================================================
// Invitation Types
// ============================================================================

// MintInvitationRequest asks for a new invitation token. When an active
// invitation already exists the server answers 409 unless Rotate is set, in
// which case the old token is revoked and a new one minted.
type MintInvitationRequest struct {
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"` // USER or ADMIN
	Rotate bool   `json:"rotate,omitempty"`
}

// MintInvitationResponse carries the plaintext token. It is shown once and
// cannot be fetched again.
type MintInvitationResponse struct {
	Email     string `json:"email"`
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"` // epoch seconds
	Rotated   bool   `json:"rotated"`
}

// InvitationResponse describes a pending invitation without its token.
type InvitationResponse struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	InvitedBy string `json:"invited_by"`
	InvitedAt int64  `json:"invited_at"` // epoch seconds
	ExpiresAt int64  `json:"expires_at"` // epoch seconds
	CreatedAt int64  `json:"created_at"` // epoch seconds
}

// DeleteInvitationResponse reports how many stored records were removed.
type DeleteInvitationResponse struct {
	Email   string `json:"email"`
	Deleted int64  `json:"deleted"`
}

// VerifyInvitationRequest proves possession of an invitation token without
// consuming it.
type VerifyInvitationRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

// VerifyInvitationResponse is returned for a valid token.
type VerifyInvitationResponse struct {
	Valid     bool   `json:"valid"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	InvitedBy string `json:"invited_by"`
	ExpiresAt int64  `json:"expires_at"` // epoch seconds
}

// AcceptInvitationRequest consumes an invitation. Redirect is optional and is
// replaced by "/" unless it is a safe same-site path or an allowed host.
type AcceptInvitationRequest struct {
	Email    string `json:"email"`
	Token    string `json:"token"`
	Redirect string `json:"redirect,omitempty"`
}

// AcceptInvitationResponse returns the metadata captured at mint time.
type AcceptInvitationResponse struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	InvitedBy string `json:"invited_by"`
	Redirect  string `json:"redirect"`
}

// ============================================================================
// Health Types
// ============================================================================

// HealthResponse is returned by /livez and /readyz.
type HealthResponse struct {
	// Status indicates the overall health status (e.g., "ok")
	Status string `json:"status"`

	// Uptime is the service uptime duration as a string (e.g., "1h23m45s")
	Uptime string `json:"uptime,omitempty"`

	// Version is the service version string
	Version string `json:"version,omitempty"`

	// Checks is only present on /readyz.
	Checks *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks reports the status of critical dependencies.
type HealthChecks struct {
	Store string `json:"store"`
}
