package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/httputil"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/superuser"
)

// SuperUserHandlers serves elevated account management
type SuperUserHandlers struct {
	admin *superuser.Admin
}

// NewSuperUserHandlers creates a new SuperUserHandlers
func NewSuperUserHandlers(admin *superuser.Admin) *SuperUserHandlers {
	return &SuperUserHandlers{admin: admin}
}

// RegisterRoutes registers super-user routes behind authed
func (h *SuperUserHandlers) RegisterRoutes(router *mux.Router, authed func(http.Handler) http.Handler) {
	router.Handle("/superusers/manage", authed(http.HandlerFunc(h.Manage))).Methods("POST")
	router.Handle("/superusers/info", authed(http.HandlerFunc(h.Info))).Methods("GET")
}

type manageRequest struct {
	Action      string `json:"action"`
	TargetUID   string `json:"targetUid"`
	NewEmail    string `json:"newEmail"`
	NewPassword string `json:"newPassword"`
}

// Manage runs one management action
func (h *SuperUserHandlers) Manage(w http.ResponseWriter, r *http.Request) {
	var req manageRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Action == "" {
		httputil.WriteBadRequest(w, "action is required")
		return
	}

	result, err := h.admin.Manage(r.Context(), req.Action, req.TargetUID, req.NewEmail, req.NewPassword)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// Info lists the active super-users
func (h *SuperUserHandlers) Info(w http.ResponseWriter, r *http.Request) {
	info, err := h.admin.Info(r.Context())
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, info)
}
