package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/apperrors"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/audit"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/auth"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/authz"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/billing"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/claims"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/httputil"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/middleware"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/observability"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/superuser"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/webhooks"
)

const webhookSecret = "whsec_api_test"

type serverFixture struct {
	verifier *auth.HMACVerifier
	dir      *claims.MemoryDirectory
	billing  *billing.MemoryStore
	audit    *audit.MemoryLogger
	metrics  *observability.Metrics
	deps     Dependencies
	server   *Server
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	verifier, err := auth.NewHMACVerifier("api-test-secret", "tenantcore")
	require.NoError(t, err)

	f := &serverFixture{
		verifier: verifier,
		dir:      claims.NewMemoryDirectory(),
		audit:    audit.NewMemoryLogger(),
		metrics:  observability.NewMetrics(prometheus.NewRegistry()),
	}

	wildcard := map[string]bool{auth.Wildcard: true}
	f.dir.PutRoot(&auth.User{ID: "su1", Email: "root@platform.test", Role: auth.RoleSuperUser, Permissions: wildcard, IsActive: true})
	f.dir.PutOrganizationUser("org_1", &auth.User{ID: "u1", Email: "owner@org1.test", Role: auth.RoleBusinessOwner, IsActive: true}, true)
	f.dir.PutOrganizationUser("org_1", &auth.User{ID: "u2", Email: "hr@org1.test", Role: auth.RoleHRManager, IsActive: true}, true)

	claimsStore := claims.NewMemoryClaimsStore()
	cache := claims.NewCache(100, time.Hour)
	issuer := claims.NewIssuer(claims.NewResolver(f.dir, 50, nil), claimsStore, cache, claims.WithAuditLogger(f.audit))
	validator := authz.NewValidator(cache, claimsStore, authz.WithAuditLogger(f.audit))

	accounts := superuser.NewMemoryStore(f.dir)
	for _, uid := range []string{"su1", "u1", "u2"} {
		_, err := issuer.Refresh(context.Background(), uid)
		require.NoError(t, err)
		accounts.PutIdentity(uid, uid+"@idp.test", true)
	}
	admin := superuser.NewAdmin(validator, accounts, issuer, superuser.WithAuditLogger(f.audit))

	f.billing = billing.NewMemoryStore(f.dir)
	f.billing.PutOrganization(billing.Organization{ID: "org_1", SubscriptionStatus: billing.SubscriptionStatusTrialing})
	calc, err := billing.NewCalculator(billing.DefaultRates)
	require.NoError(t, err)
	processor := billing.NewWebhookProcessor(f.billing, calc, billing.ProcessorConfig{Secret: webhookSecret},
		billing.WithAuditLogger(f.audit))

	f.deps = Dependencies{
		Verifier:  verifier,
		Issuer:    issuer,
		Validator: validator,
		Admin:     admin,
		Webhooks:  processor,
		Health:    observability.NewHealthChecker(nil, nil, "test"),
		Metrics:   f.metrics,
	}
	f.server = NewServer(f.deps)
	return f
}

func (f *serverFixture) token(t *testing.T, uid string) string {
	t.Helper()
	token, err := f.verifier.Sign(&auth.Identity{UID: uid, Email: uid + "@idp.test"}, time.Hour)
	require.NoError(t, err)
	return token
}

func (f *serverFixture) do(t *testing.T, method, path, uid string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if uid != "" {
		req.Header.Set("Authorization", "Bearer "+f.token(t, uid))
	}
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) apperrors.Code {
	t.Helper()
	var body httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body.Code
}

func TestServer_Health(t *testing.T) {
	f := newServerFixture(t)
	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		w := f.do(t, "GET", path, "", nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestServer_NotFound(t *testing.T) {
	f := newServerFixture(t)
	w := f.do(t, "GET", "/v1/nothing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apperrors.NotFound, errorCode(t, w))
}

func TestIssueClaims(t *testing.T) {
	f := newServerFixture(t)

	t.Run("requires authentication", func(t *testing.T) {
		w := f.do(t, "POST", "/v1/claims/issue", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, apperrors.Unauthenticated, errorCode(t, w))
	})

	t.Run("self issuance without a body", func(t *testing.T) {
		w := f.do(t, "POST", "/v1/claims/issue", "u2", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var result claims.IssueResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.Equal(t, "u2", result.UID)
		assert.Equal(t, auth.RoleHRManager, result.Role)
		assert.Equal(t, "org_1", result.OrganizationID)
	})

	t.Run("business owner issues for a member", func(t *testing.T) {
		w := f.do(t, "POST", "/v1/claims/issue", "u1", map[string]string{"targetUid": "u2"})
		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})

	t.Run("hr manager may not issue for the owner", func(t *testing.T) {
		w := f.do(t, "POST", "/v1/claims/issue", "u2", map[string]string{"targetUid": "u1"})
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, apperrors.PermissionDenied, errorCode(t, w))
	})

	t.Run("revoked owner session cannot issue for others", func(t *testing.T) {
		f := newServerFixture(t)
		token, err := f.verifier.Sign(&auth.Identity{UID: "u1", IssuedAt: time.Now().Add(-time.Hour)}, 2*time.Hour)
		require.NoError(t, err)
		_, err = f.deps.Issuer.RevokeSessions(context.Background(), "u1")
		require.NoError(t, err)

		body := bytes.NewBufferString(`{"targetUid":"u2"}`)
		req := httptest.NewRequest("POST", "/v1/claims/issue", body)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		f.server.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, apperrors.Unauthenticated, errorCode(t, w))
		entries := f.audit.ByOperation(audit.OpIssueClaims)
		require.Len(t, entries, 1)
		assert.False(t, entries[0].Success)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/v1/claims/issue", bytes.NewBufferString("{"))
		req.Header.Set("Authorization", "Bearer "+f.token(t, "u1"))
		w := httptest.NewRecorder()
		f.server.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetClaims(t *testing.T) {
	f := newServerFixture(t)

	w := f.do(t, "GET", "/v1/claims", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "u1", body["uid"])
	assert.Nil(t, body["validAfter"])
	claimsBody, ok := body["claims"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "business-owner", claimsBody["role"])
}

func TestIssueClaimsForOrganization(t *testing.T) {
	tests := []struct {
		name   string
		uid    string
		orgID  string
		status int
	}{
		{name: "business owner of the tenant", uid: "u1", orgID: "org_1", status: http.StatusOK},
		{name: "super-user bypasses tenant scope", uid: "su1", orgID: "org_1", status: http.StatusOK},
		{name: "hr manager lacks the role", uid: "u2", orgID: "org_1", status: http.StatusForbidden},
		{name: "owner of another tenant", uid: "u1", orgID: "org_2", status: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServerFixture(t)
			w := f.do(t, "POST", "/v1/organizations/"+tt.orgID+"/claims/issue", tt.uid, nil)
			require.Equal(t, tt.status, w.Code, w.Body.String())

			if tt.status == http.StatusOK {
				var result claims.OrganizationResult
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
				assert.Equal(t, 2, result.TotalUsers)
				assert.Equal(t, 2, result.SuccessCount)
			}
			assert.NotEmpty(t, f.audit.ByOperation(audit.OpIssueClaimsForOrganization))
		})
	}
}

func TestSuperUserRoutes(t *testing.T) {
	f := newServerFixture(t)

	w := f.do(t, "GET", "/v1/superusers/info", "su1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var info superuser.Info
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, 1, info.TotalSuperUsers)

	w = f.do(t, "GET", "/v1/superusers/info", "u1", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, "POST", "/v1/superusers/manage", "su1", map[string]string{
		"action": superuser.ActionGrant, "targetUid": "u2",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result superuser.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Success)
	require.NotNil(t, result.ElevatedCount)
	assert.Equal(t, 2, *result.ElevatedCount)

	w = f.do(t, "POST", "/v1/superusers/manage", "su1", map[string]string{"action": "DELETE_EVERYTHING"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, "POST", "/v1/superusers/manage", "su1", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func (f *serverFixture) webhook(t *testing.T, payload []byte, signed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/v1/billing/webhook", bytes.NewReader(payload))
	if signed {
		req.Header.Set(webhooks.SignatureHeader, webhooks.Sign(payload, webhookSecret, time.Now()))
	}
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	return w
}

func webhookEvent(t *testing.T, id, eventType string, object map[string]interface{}) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"id":   id,
		"type": eventType,
		"data": map[string]interface{}{"object": object},
	})
	require.NoError(t, err)
	return payload
}

func TestBillingWebhook(t *testing.T) {
	t.Run("unsigned delivery is rejected", func(t *testing.T) {
		f := newServerFixture(t)
		w := f.webhook(t, webhookEvent(t, "evt_1", "checkout.session.completed", nil), false)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("checkout activates the organization", func(t *testing.T) {
		f := newServerFixture(t)
		w := f.webhook(t, webhookEvent(t, "evt_1", "checkout.session.completed", map[string]interface{}{
			"customer":     "cus_1",
			"subscription": "sub_provider_1",
			"metadata":     map[string]string{"organizationId": "org_1"},
		}), true)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.JSONEq(t, `{"received":true}`, w.Body.String())

		org, ok := f.billing.Organization("org_1")
		require.True(t, ok)
		assert.Equal(t, billing.SubscriptionStatusActive, org.SubscriptionStatus)
	})

	t.Run("processing failure is still acknowledged", func(t *testing.T) {
		f := newServerFixture(t)
		w := f.webhook(t, webhookEvent(t, "evt_2", "invoice.payment_succeeded", map[string]interface{}{
			"amount_paid": 49900,
		}), true)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"received":true}`, w.Body.String())

		entries := f.audit.ByOperation(audit.OpWebhookEvent)
		require.Len(t, entries, 1)
		assert.False(t, entries[0].Success)
	})

	t.Run("anonymous callers are rate limited", func(t *testing.T) {
		f := newServerFixture(t)
		tiny := &middleware.RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}
		f.deps.RateLimits = middleware.NewRateLimitMiddleware(
			middleware.NewRateLimiter(middleware.PerUserRateLimitConfig()),
			middleware.NewRateLimiter(tiny),
		)
		f.server = NewServer(f.deps)

		payload := webhookEvent(t, "evt_3", "customer.created", map[string]interface{}{})
		assert.Equal(t, http.StatusOK, f.webhook(t, payload, true).Code)
		w := f.webhook(t, payload, true)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, apperrors.ResourceExhausted, errorCode(t, w))
	})
}

func TestServer_MetricsByRouteTemplate(t *testing.T) {
	f := newServerFixture(t)
	f.do(t, "POST", "/v1/organizations/org_1/claims/issue", "u2", nil)

	got := testutil.ToFloat64(f.metrics.HTTPRequestsTotal.WithLabelValues("POST", "/v1/organizations/{orgId}/claims/issue", "403"))
	assert.Equal(t, float64(1), got)
}
