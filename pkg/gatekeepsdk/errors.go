package gatekeepsdk

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Error codes returned in ErrorResponse.Error.
const (
	ErrorCodeInvalidRequest    = "invalid_request"
	ErrorCodeInvalidInvitation = "invalid_invitation"
	ErrorCodeUnauthorized      = "unauthorized"
	ErrorCodeForbidden         = "forbidden"
	ErrorCodeNotFound          = "not_found"
	ErrorCodeConflict          = "conflict"
	ErrorCodeServerError       = "server_error"
	ErrorCodeRateLimited       = "RATE_LIMIT_EXCEEDED"
)

// APIError is any non-2xx, non-429 response.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// RateLimitError is a 429 response.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
	Limit      int
	Remaining  int
	Reset      time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %s (retry after %s)", e.Message, e.RetryAfter)
}

// parseErrorResponse turns a failed response into *RateLimitError or
// *APIError. Returns nil for 2xx.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		rl := &RateLimitError{
			RetryAfter: time.Duration(headerInt(resp, "Retry-After")) * time.Second,
			Limit:      headerInt(resp, "X-RateLimit-Limit"),
			Remaining:  headerInt(resp, "X-RateLimit-Remaining"),
		}
		if reset := headerInt(resp, "X-RateLimit-Reset"); reset > 0 {
			rl.Reset = time.Unix(int64(reset), 0)
		}
		var body429 RateLimitResponse
		if err := json.Unmarshal(body, &body429); err == nil {
			rl.Message = body429.Error.Message
		}
		return rl
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &APIError{
			StatusCode:  resp.StatusCode,
			Code:        errResp.Error,
			Description: errResp.ErrorDescription,
		}
	}

	// Fallback: create generic error from status code
	return &APIError{
		StatusCode:  resp.StatusCode,
		Code:        ErrorCodeServerError,
		Description: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}
}

func headerInt(resp *http.Response, name string) int {
	n, err := strconv.Atoi(resp.Header.Get(name))
	if err != nil {
		return 0
	}
	return n
}
