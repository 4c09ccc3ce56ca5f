// Package gatekeepsdk is a Go client for the gatekeep HTTP API.
//
// Public invitation endpoints need no credentials:
//
//	c := gatekeepsdk.NewClient("https://gatekeep.example.com")
//	res, err := c.VerifyInvitation(ctx, gatekeepsdk.VerifyInvitationRequest{
//		Email: "ada@example.com",
//		Token: token,
//	})
//
// Admin endpoints need an HS256 admin token, minted with cmd/admintoken or
// by any signer that shares the service secret:
//
//	admin := gatekeepsdk.NewClient(baseURL, gatekeepsdk.WithAdminToken(jwt))
//	minted, err := admin.MintInvitation(ctx, gatekeepsdk.MintInvitationRequest{
//		Email: "ada@example.com",
//		Name:  "Ada Lovelace",
//		Role:  "USER",
//	})
//
// Errors are typed. A 429 surfaces as *RateLimitError carrying Retry-After;
// everything else as *APIError:
//
//	var rl *gatekeepsdk.RateLimitError
//	if errors.As(err, &rl) {
//		time.Sleep(rl.RetryAfter)
//	}
//
// Invalid, expired and unknown invitations are indistinguishable on purpose:
// they all come back as an *APIError with Code ErrorCodeInvalidInvitation.
package gatekeepsdk
