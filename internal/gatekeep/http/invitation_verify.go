package http

import (
	"net/http"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/service"
	"github.com/aussiebroadwan/gatekeep/pkg/gatekeepsdk"
	"github.com/aussiebroadwan/gatekeep/pkg/httpx"
)

// invalidInvitation is the only failure message public callers ever see.
const invalidInvitation = "invalid or expired invitation"

type InvitationVerifyHandler struct {
	InvitationService *service.InvitationService
}

// ServeHTTP godoc
//
//	@Summary		Verify Invitation
//	@Description	Check an invitation token without consuming it and return the invitation details.
//	@Description	Unknown, expired and mismatched tokens all produce the same 400 response.
//	@Tags			Invitations
//	@Accept			json
//	@Produce		json
//	@Param			request	body		gatekeepsdk.VerifyInvitationRequest		true	"email and token"
//	@Success		200		{object}	gatekeepsdk.VerifyInvitationResponse
//	@Failure		400		{object}	gatekeepsdk.ErrorResponse		"error, error_description"
//	@Failure		429		{object}	gatekeepsdk.RateLimitResponse	"success, error"
//	@Router			/v1/invitations/verify [post].
func (h *InvitationVerifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req gatekeepsdk.VerifyInvitationRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil || req.Email == "" || req.Token == "" {
		httpx.WriteError(w, http.StatusBadRequest, gatekeepsdk.ErrorCodeInvalidRequest, "email and token are required")
		return
	}

	res := h.InvitationService.GetInvitationMetadata(r.Context(), req.Email, req.Token)
	if !res.Valid {
		httpx.WriteError(w, http.StatusBadRequest, gatekeepsdk.ErrorCodeInvalidInvitation, invalidInvitation)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, gatekeepsdk.VerifyInvitationResponse{
		Valid:     true,
		Email:     normalizedOr(req.Email),
		Name:      res.Metadata.Name,
		Role:      string(res.Metadata.Role),
		InvitedBy: res.Metadata.InvitedBy,
		ExpiresAt: res.ExpiresAt.Unix(),
	})
}
