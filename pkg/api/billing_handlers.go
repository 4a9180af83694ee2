package api

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/apperrors"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/billing"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/httputil"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/observability"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/webhooks"
)

// BillingHandlers receives payment provider webhooks
type BillingHandlers struct {
	processor *billing.WebhookProcessor
}

// NewBillingHandlers creates a new BillingHandlers
func NewBillingHandlers(processor *billing.WebhookProcessor) *BillingHandlers {
	return &BillingHandlers{processor: processor}
}

// RegisterRoutes registers the webhook route behind public
func (h *BillingHandlers) RegisterRoutes(router *mux.Router, public func(http.Handler) http.Handler) {
	router.Handle("/billing/webhook", public(http.HandlerFunc(h.HandleWebhook))).Methods("POST")
}

// HandleWebhook verifies and applies one provider event. Only rejected
// deliveries get a 4xx; an event that fails while being applied is audited,
// left unprocessed and acknowledged like any other.
func (h *BillingHandlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read request body")
		return
	}

	outcome, err := h.processor.Process(r.Context(), payload, r.Header.Get(webhooks.SignatureHeader))
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.InvalidArgument {
			httputil.WriteBadRequest(w, apperrors.MessageOf(err))
			return
		}
		httputil.WriteAppError(w, err)
		return
	}

	if outcome.Err != nil {
		observability.FromContext(r.Context()).WithError(outcome.Err).WithField("event_id", outcome.EventID).
			Warn("Webhook event acknowledged after processing failure")
	}
	httputil.WriteSuccess(w, map[string]bool{"received": true})
}
