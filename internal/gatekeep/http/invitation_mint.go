package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/service"
	"github.com/aussiebroadwan/gatekeep/pkg/gatekeepsdk"
	"github.com/aussiebroadwan/gatekeep/pkg/httpx"
	"github.com/aussiebroadwan/gatekeep/pkg/sanitize"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

type InvitationMintHandler struct {
	InvitationService *service.InvitationService
}

// ServeHTTP godoc
//
//	@Summary		Mint Invitation
//	@Description	Create an invitation for an email address and return its token. The token is only ever shown in this response.
//	@Description	If an active invitation exists the request fails with 409 unless rotate is true, which revokes the old token.
//	@Tags			Invitations
//	@Accept			json
//	@Produce		json
//	@Param			request	body		gatekeepsdk.MintInvitationRequest	true	"Invitation request"
//	@Success		201		{object}	gatekeepsdk.MintInvitationResponse	"email, token, expires_at, rotated"
//	@Failure		400		{object}	gatekeepsdk.ErrorResponse			"error, error_description"
//	@Failure		401		{object}	gatekeepsdk.ErrorResponse			"error, error_description"
//	@Failure		403		{object}	gatekeepsdk.ErrorResponse			"error, error_description"
//	@Failure		409		{object}	gatekeepsdk.ErrorResponse			"error, error_description"
//	@Failure		429		{object}	gatekeepsdk.RateLimitResponse		"success, error"
//	@Failure		500		{object}	gatekeepsdk.ErrorResponse			"error, error_description"
//	@Security		BearerAuth
//	@Router			/v1/invitations [post].
func (h *InvitationMintHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req gatekeepsdk.MintInvitationRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, gatekeepsdk.ErrorCodeInvalidRequest, "Invalid JSON body")
		return
	}

	email, err := domain.NormalizeEmail(req.Email)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, gatekeepsdk.ErrorCodeInvalidRequest, "email is invalid")
		return
	}
	role, err := domain.ParseRole(req.Role)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, gatekeepsdk.ErrorCodeInvalidRequest, "role must be USER or ADMIN")
		return
	}
	name := sanitize.Text(req.Name)
	if name == "" || sanitize.ContainsInjection(req.Name) {
		httpx.WriteError(w, http.StatusBadRequest, gatekeepsdk.ErrorCodeInvalidRequest, "name is invalid")
		return
	}

	invitedBy := httpx.UserID(ctx)
	if invitedBy == "" {
		httpx.WriteError(w, http.StatusUnauthorized, gatekeepsdk.ErrorCodeUnauthorized, "Authentication required")
		return
	}

	existing, err := h.InvitationService.GetValidInvitation(ctx, email)
	if err != nil {
		log.Error("failed to check for existing invitation", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, gatekeepsdk.ErrorCodeServerError, "Failed to create invitation")
		return
	}
	if existing != nil && !req.Rotate {
		httpx.WriteError(w, http.StatusConflict, gatekeepsdk.ErrorCodeConflict, "an active invitation already exists for this email")
		return
	}

	meta := domain.InvitationMetadata{
		Name:      name,
		Role:      role,
		InvitedBy: invitedBy,
		InvitedAt: time.Now().UTC(),
	}

	var token string
	if req.Rotate {
		token, err = h.InvitationService.Update(ctx, email, meta)
	} else {
		token, err = h.InvitationService.Generate(ctx, email, meta)
	}
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidMetadata), errors.Is(err, domain.ErrInvalidEmail):
			httpx.WriteError(w, http.StatusBadRequest, gatekeepsdk.ErrorCodeInvalidRequest, "Invalid invitation parameters")
		default:
			log.Error("failed to mint invitation", "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, gatekeepsdk.ErrorCodeServerError, "Failed to create invitation")
		}
		return
	}

	inv, err := h.InvitationService.GetValidInvitation(ctx, email)
	var expiresAt int64
	if err == nil && inv != nil {
		expiresAt = inv.ExpiresAt.Unix()
	}

	httpx.WriteJSON(w, http.StatusCreated, gatekeepsdk.MintInvitationResponse{
		Email:     email,
		Token:     token,
		ExpiresAt: expiresAt,
		Rotated:   req.Rotate && existing != nil,
	})
}
