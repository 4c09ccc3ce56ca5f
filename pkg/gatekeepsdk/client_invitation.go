package gatekeepsdk

import (
	"context"
	"net/http"
	"net/url"
)

// MintInvitation creates an invitation and returns its one-time token.
// Requires an admin token.
func (c *Client) MintInvitation(ctx context.Context, req MintInvitationRequest) (*MintInvitationResponse, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/invitations", req, true)
	if err != nil {
		return nil, err
	}

	var out MintInvitationResponse
	if err := decodeJSON(resp, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetInvitation returns the pending invitation for email. Requires an admin
// token.
func (c *Client) GetInvitation(ctx context.Context, email string) (*InvitationResponse, error) {
	resp, err := c.doJSON(ctx, http.MethodGet, "/v1/invitations/"+url.PathEscape(email), nil, true)
	if err != nil {
		return nil, err
	}

	var out InvitationResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteInvitation revokes every invitation for email. Requires an admin
// token.
func (c *Client) DeleteInvitation(ctx context.Context, email string) (*DeleteInvitationResponse, error) {
	resp, err := c.doJSON(ctx, http.MethodDelete, "/v1/invitations/"+url.PathEscape(email), nil, true)
	if err != nil {
		return nil, err
	}

	var out DeleteInvitationResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyInvitation checks a token without consuming it. Public.
func (c *Client) VerifyInvitation(ctx context.Context, req VerifyInvitationRequest) (*VerifyInvitationResponse, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/invitations/verify", req, false)
	if err != nil {
		return nil, err
	}

	var out VerifyInvitationResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// AcceptInvitation consumes a token. A second call with the same token fails.
// Public.
func (c *Client) AcceptInvitation(ctx context.Context, req AcceptInvitationRequest) (*AcceptInvitationResponse, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/invitations/accept", req, false)
	if err != nil {
		return nil, err
	}

	var out AcceptInvitationResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}
