package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/apperrors"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/auth"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/httputil"
)

type stubVerifier struct {
	identity *auth.Identity
	err      error
	gotToken string
}

func (s *stubVerifier) Verify(ctx context.Context, rawToken string) (*auth.Identity, error) {
	s.gotToken = rawToken
	return s.identity, s.err
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) httputil.ErrorResponse {
	t.Helper()
	var body httputil.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body %q: %v", w.Body.String(), err)
	}
	return body
}

func TestAuthMiddleware_Handler(t *testing.T) {
	t.Run("rejects request without Authorization header when required", func(t *testing.T) {
		handler := NewAuthMiddleware(&stubVerifier{}, false).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/v1/claims", nil))

		if w.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", w.Code)
		}
		if body := decodeError(t, w); body.Code != apperrors.Unauthenticated {
			t.Errorf("code = %s, want UNAUTHENTICATED", body.Code)
		}
	})

	t.Run("allows request without Authorization header when optional", func(t *testing.T) {
		called := false
		handler := NewAuthMiddleware(&stubVerifier{}, true).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			if _, ok := auth.IdentityFromContext(r.Context()); ok {
				t.Error("expected no identity")
			}
		}))

		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
		if !called {
			t.Error("expected handler to be called")
		}
	})

	t.Run("rejects malformed headers", func(t *testing.T) {
		for _, header := range []string{"Basic abc", "Bearer", "Bearer ", "token"} {
			handler := NewAuthMiddleware(&stubVerifier{}, false).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("handler called for %q", header)
			}))
			req := httptest.NewRequest("GET", "/", nil)
			req.Header.Set("Authorization", header)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("%q: status %d, want 401", header, w.Code)
			}
		}
	})

	t.Run("rejects tokens the verifier refuses", func(t *testing.T) {
		verifier := &stubVerifier{err: errors.New("expired")}
		handler := NewAuthMiddleware(verifier, true).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer abc.def")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status %d, want 401", w.Code)
		}
		if verifier.gotToken != "abc.def" {
			t.Errorf("verifier got %q", verifier.gotToken)
		}
	})

	t.Run("puts the identity on the context", func(t *testing.T) {
		verifier := &stubVerifier{identity: &auth.Identity{UID: "u1", Email: "owner@org1.test", IssuedAt: time.Now()}}
		var got *auth.Identity
		handler := NewAuthMiddleware(verifier, false).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, _ = auth.IdentityFromContext(r.Context())
		}))
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "bearer tok")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if got == nil || got.UID != "u1" {
			t.Fatalf("identity = %+v, want u1", got)
		}
	})
}

func TestAuthMiddleware_WithHMACVerifier(t *testing.T) {
	verifier, err := auth.NewHMACVerifier("test-secret-with-enough-length", "tenantcore")
	if err != nil {
		t.Fatalf("NewHMACVerifier: %v", err)
	}
	token, err := verifier.Sign(&auth.Identity{UID: "su1", Email: "root@platform.test", EmailVerified: true}, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	var uid string
	handler := NewAuthMiddleware(verifier, false).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := auth.IdentityFromContext(r.Context())
		uid = identity.UID
	}))
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK || uid != "su1" {
		t.Errorf("status %d uid %q, want 200 su1", w.Code, uid)
	}
}

func TestRequireIdentity(t *testing.T) {
	handler := RequireIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status %d, want 401", w.Code)
	}

	req := httptest.NewRequest("GET", "/", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "u1"}))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("authenticated status %d, want 204", w.Code)
	}
}
