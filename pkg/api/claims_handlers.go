package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/apperrors"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/audit"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/auth"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/authz"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/claims"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/httputil"
)

// ClaimsHandlers serves claims issuance and lookup
type ClaimsHandlers struct {
	issuer    *claims.Issuer
	validator *authz.Validator
}

// NewClaimsHandlers creates a new ClaimsHandlers
func NewClaimsHandlers(issuer *claims.Issuer, validator *authz.Validator) *ClaimsHandlers {
	return &ClaimsHandlers{issuer: issuer, validator: validator}
}

// RegisterRoutes registers claims routes behind authed
func (h *ClaimsHandlers) RegisterRoutes(router *mux.Router, authed func(http.Handler) http.Handler) {
	router.Handle("/claims/issue", authed(http.HandlerFunc(h.IssueClaims))).Methods("POST")
	router.Handle("/claims", authed(http.HandlerFunc(h.GetClaims))).Methods("GET")

	orgGate := h.validator.RequireFunc(func(r *http.Request) authz.Options {
		return authz.Options{
			Operation:         audit.OpIssueClaimsForOrganization,
			OrganizationID:    mux.Vars(r)["orgId"],
			OrganizationRoles: []auth.Role{auth.RoleBusinessOwner},
		}
	})
	router.Handle("/organizations/{orgId}/claims/issue",
		authed(orgGate(http.HandlerFunc(h.IssueClaimsForOrganization)))).Methods("POST")
}

type issueClaimsRequest struct {
	TargetUID string `json:"targetUid"`
}

// IssueClaims publishes claims for the caller or for targetUid
func (h *ClaimsHandlers) IssueClaims(w http.ResponseWriter, r *http.Request) {
	var req issueClaimsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	identity, _ := auth.IdentityFromContext(r.Context())
	target := strings.TrimSpace(req.TargetUID)

	// issuing for someone else is privileged; self issuance bootstraps a
	// caller that has nothing published yet
	if identity != nil && target != "" && target != identity.UID {
		if _, err := h.validator.Validate(r.Context(), authz.Options{Operation: audit.OpIssueClaims}); err != nil {
			httputil.WriteAppError(w, err)
			return
		}
	}

	result, err := h.issuer.Issue(r.Context(), target, identity)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

type getClaimsResponse struct {
	UID        string      `json:"uid"`
	Email      string      `json:"email,omitempty"`
	Claims     auth.Claims `json:"claims"`
	ValidAfter *time.Time  `json:"validAfter"`
}

// GetClaims returns the caller's published claims
func (h *ClaimsHandlers) GetClaims(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httputil.WriteAppError(w, apperrors.New(apperrors.Unauthenticated, "authentication required"))
		return
	}

	record, err := h.issuer.GetClaims(r.Context(), identity.UID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	resp := getClaimsResponse{UID: record.UID, Email: record.Email, Claims: record.Claims}
	if va := record.ValidAfter(); !va.IsZero() {
		resp.ValidAfter = &va
	}
	httputil.WriteSuccess(w, resp)
}

// IssueClaimsForOrganization publishes claims for every member of orgId
func (h *ClaimsHandlers) IssueClaimsForOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathStringOrError(w, r, "orgId")
	if !ok {
		return
	}
	identity, _ := auth.IdentityFromContext(r.Context())

	result, err := h.issuer.IssueForOrganization(r.Context(), orgID, identity)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}
