package httpx

import (
	"net/http"
	"strings"
)

// RequireRole admits callers whose role claim is one of roles and answers
// 403 otherwise. It must run after AuthnMiddleware.
func RequireRole(roles ...string) Middleware {
	want := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		want[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := want[Role(r.Context())]; ok {
				next.ServeHTTP(w, r)
				return
			}
			WriteError(w, http.StatusForbidden, "forbidden", "role "+strings.Join(roles, " or ")+" required")
		})
	}
}
