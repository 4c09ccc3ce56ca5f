package http

import (
	"net/http"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/service"
	"github.com/aussiebroadwan/gatekeep/pkg/gatekeepsdk"
	"github.com/aussiebroadwan/gatekeep/pkg/httpx"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

type InvitationLookupHandler struct {
	InvitationService *service.InvitationService
}

// HandleGet godoc
//
//	@Summary		Get Invitation
//	@Description	Show the pending invitation for an email without consuming it. Never returns the token.
//	@Tags			Invitations
//	@Produce		json
//	@Param			email	path		string							true	"Invitee email"
//	@Success		200		{object}	gatekeepsdk.InvitationResponse
//	@Failure		400		{object}	gatekeepsdk.ErrorResponse	"error, error_description"
//	@Failure		401		{object}	gatekeepsdk.ErrorResponse	"error, error_description"
//	@Failure		404		{object}	gatekeepsdk.ErrorResponse	"error, error_description"
//	@Security		BearerAuth
//	@Router			/v1/invitations/{email} [get].
func (h *InvitationLookupHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	email, err := domain.NormalizeEmail(r.PathValue("email"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, gatekeepsdk.ErrorCodeInvalidRequest, "email is invalid")
		return
	}

	inv, err := h.InvitationService.GetValidInvitation(ctx, email)
	if err != nil {
		slogx.FromContext(ctx).Error("failed to fetch invitation", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, gatekeepsdk.ErrorCodeServerError, "Failed to fetch invitation")
		return
	}
	if inv == nil {
		httpx.WriteError(w, http.StatusNotFound, gatekeepsdk.ErrorCodeNotFound, "no active invitation")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, gatekeepsdk.InvitationResponse{
		Email:     inv.Email,
		Name:      inv.Metadata.Name,
		Role:      string(inv.Metadata.Role),
		InvitedBy: inv.Metadata.InvitedBy,
		InvitedAt: inv.Metadata.InvitedAt.Unix(),
		ExpiresAt: inv.ExpiresAt.Unix(),
		CreatedAt: inv.CreatedAt.Unix(),
	})
}

// HandleDelete godoc
//
//	@Summary		Delete Invitation
//	@Description	Revoke every invitation record for an email.
//	@Tags			Invitations
//	@Produce		json
//	@Param			email	path		string	true	"Invitee email"
//	@Success		200		{object}	gatekeepsdk.DeleteInvitationResponse
//	@Failure		400		{object}	gatekeepsdk.ErrorResponse	"error, error_description"
//	@Failure		401		{object}	gatekeepsdk.ErrorResponse	"error, error_description"
//	@Failure		500		{object}	gatekeepsdk.ErrorResponse	"error, error_description"
//	@Security		BearerAuth
//	@Router			/v1/invitations/{email} [delete].
func (h *InvitationLookupHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	email, err := domain.NormalizeEmail(r.PathValue("email"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, gatekeepsdk.ErrorCodeInvalidRequest, "email is invalid")
		return
	}

	n, err := h.InvitationService.Delete(r.Context(), email)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, gatekeepsdk.ErrorCodeServerError, "Failed to delete invitation")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, gatekeepsdk.DeleteInvitationResponse{Email: email, Deleted: n})
}
