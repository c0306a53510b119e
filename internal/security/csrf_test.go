package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func runCSRF(t *testing.T, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	csrf := CSRF{Header: "X-CSRF-Token"}
	handler := csrf.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/protected", nil)
	if mutate != nil {
		mutate(req)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestCSRFMissingTokenRejected(t *testing.T) {
	if rr := runCSRF(t, nil); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestCSRFMatchingPairAccepted(t *testing.T) {
	rr := runCSRF(t, func(req *http.Request) {
		req.Header.Set("X-CSRF-Token", "secure-token")
		req.AddCookie(&http.Cookie{Name: "X-CSRF-Token", Value: "secure-token"})
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestCSRFMismatchedPairRejected(t *testing.T) {
	rr := runCSRF(t, func(req *http.Request) {
		req.Header.Set("X-CSRF-Token", "secure-token")
		req.AddCookie(&http.Cookie{Name: "X-CSRF-Token", Value: "other-token"})
	})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for mismatched tokens, got %d", rr.Code)
	}
}

func TestCSRFBearerRequestsSkipped(t *testing.T) {
	rr := runCSRF(t, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer abc.def")
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected bearer request to bypass CSRF, got %d", rr.Code)
	}
}

func TestCSRFSafeMethodsSkipped(t *testing.T) {
	csrf := CSRF{Header: "X-CSRF-Token"}
	handler := csrf.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected GET to bypass CSRF, got %d", rr.Code)
	}
}
