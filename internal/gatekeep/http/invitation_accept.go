package http

import (
	"net/http"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/service"
	"github.com/aussiebroadwan/gatekeep/pkg/gatekeepsdk"
	"github.com/aussiebroadwan/gatekeep/pkg/httpx"
	"github.com/aussiebroadwan/gatekeep/pkg/sanitize"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

type InvitationAcceptHandler struct {
	InvitationService *service.InvitationService
	RedirectHosts     []string
}

// ServeHTTP godoc
//
//	@Summary		Accept Invitation
//	@Description	Consume an invitation token. The token cannot be used again afterwards.
//	@Description	The optional redirect is returned only if it is a same-site path or points at an allowed host, otherwise "/".
//	@Tags			Invitations
//	@Accept			json
//	@Produce		json
//	@Param			request	body		gatekeepsdk.AcceptInvitationRequest		true	"email, token, redirect"
//	@Success		200		{object}	gatekeepsdk.AcceptInvitationResponse
//	@Failure		400		{object}	gatekeepsdk.ErrorResponse		"error, error_description"
//	@Failure		429		{object}	gatekeepsdk.RateLimitResponse	"success, error"
//	@Failure		500		{object}	gatekeepsdk.ErrorResponse		"error, error_description"
//	@Router			/v1/invitations/accept [post].
func (h *InvitationAcceptHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req gatekeepsdk.AcceptInvitationRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil || req.Email == "" || req.Token == "" {
		httpx.WriteError(w, http.StatusBadRequest, gatekeepsdk.ErrorCodeInvalidRequest, "email and token are required")
		return
	}

	res, err := h.InvitationService.Accept(ctx, req.Email, req.Token)
	if err != nil {
		slogx.FromContext(ctx).Error("failed to accept invitation", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, gatekeepsdk.ErrorCodeServerError, "Failed to accept invitation")
		return
	}
	if !res.Valid {
		httpx.WriteError(w, http.StatusBadRequest, gatekeepsdk.ErrorCodeInvalidInvitation, invalidInvitation)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, gatekeepsdk.AcceptInvitationResponse{
		Email:     normalizedOr(req.Email),
		Name:      res.Metadata.Name,
		Role:      string(res.Metadata.Role),
		InvitedBy: res.Metadata.InvitedBy,
		Redirect:  sanitize.SafeRedirect(req.Redirect, "/", h.RedirectHosts...),
	})
}

// normalizedOr returns the normalised form of email, or email itself when it
// does not parse.
func normalizedOr(email string) string {
	if n, err := domain.NormalizeEmail(email); err == nil {
		return n
	}
	return email
}
