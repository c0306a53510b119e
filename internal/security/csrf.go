package security

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// CSRF protects cookie-based flows using the double-submit technique: the
// token must arrive both as a header and as a cookie of the same name.
type CSRF struct {
	Header string
}

// Middleware enforces the token match on state-changing requests. Safe
// methods and bearer-authenticated requests pass through, since a bearer
// token cannot be attached by a cross-site form.
func (c CSRF) Middleware(next http.Handler) http.Handler {
	headerName := strings.TrimSpace(c.Header)
	if headerName == "" {
		headerName = "X-CSRF-Token"
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
			next.ServeHTTP(w, r)
			return
		}

		auth := strings.TrimSpace(r.Header.Get("Authorization"))
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimSpace(r.Header.Get(headerName))
		if token == "" {
			http.Error(w, "missing csrf token", http.StatusForbidden)
			return
		}

		cookie, err := r.Cookie(headerName)
		if err != nil || strings.TrimSpace(cookie.Value) == "" {
			http.Error(w, "missing csrf cookie", http.StatusForbidden)
			return
		}

		if !tokensEqual(token, cookie.Value) {
			http.Error(w, "invalid csrf token", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func tokensEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
