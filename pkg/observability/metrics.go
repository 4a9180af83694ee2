package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Every recording method is safe to call
// on a nil *Metrics so components can run without instrumentation.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	ClaimsCacheRequestsTotal *prometheus.CounterVec
	ClaimsIssuedTotal        *prometheus.CounterVec
	AuthzDecisionsTotal      *prometheus.CounterVec
	ElevatedAccounts         prometheus.Gauge

	// Billing metrics
	WebhookEventsTotal        *prometheus.CounterVec
	WebhookProcessingDuration *prometheus.HistogramVec
	CommissionsCreatedTotal   prometheus.Counter
	CommissionCentsTotal      *prometheus.CounterVec

	// Payout metrics
	PayoutRunsTotal           *prometheus.CounterVec
	PayoutCommissionsPromoted prometheus.Counter
	PayoutReportsUpserted     prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantcore_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantcore_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		ClaimsCacheRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantcore_claims_cache_requests_total",
				Help: "Session claims cache lookups by result",
			},
			[]string{"result"},
		),
		ClaimsIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantcore_claims_issued_total",
				Help: "Claims publications by outcome",
			},
			[]string{"outcome"},
		),
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantcore_authz_decisions_total",
				Help: "Permission validation decisions",
			},
			[]string{"operation", "outcome"},
		),
		ElevatedAccounts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenantcore_elevated_accounts",
				Help: "Number of active super-user accounts",
			},
		),

		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantcore_webhook_events_total",
				Help: "Payment provider webhook events by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		WebhookProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantcore_webhook_processing_duration_seconds",
				Help:    "Time spent applying a webhook event",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"type"},
		),
		CommissionsCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantcore_commissions_created_total",
				Help: "Commission records created",
			},
		),
		CommissionCentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantcore_commission_cents_total",
				Help: "Money flowing through commission calculation, in cents",
			},
			[]string{"component"},
		),

		PayoutRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantcore_payout_runs_total",
				Help: "Payout batch runs by status",
			},
			[]string{"status"},
		),
		PayoutCommissionsPromoted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantcore_payout_commissions_promoted_total",
				Help: "Commissions moved from calculated to pending",
			},
		),
		PayoutReportsUpserted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantcore_payout_reports_upserted_total",
				Help: "Commission reports created or extended",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ClaimsCacheRequestsTotal,
		m.ClaimsIssuedTotal,
		m.AuthzDecisionsTotal,
		m.ElevatedAccounts,
		m.WebhookEventsTotal,
		m.WebhookProcessingDuration,
		m.CommissionsCreatedTotal,
		m.CommissionCentsTotal,
		m.PayoutRunsTotal,
		m.PayoutCommissionsPromoted,
		m.PayoutReportsUpserted,
	)

	return m
}

// ObserveCacheLookup records a claims cache hit or miss
func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.ClaimsCacheRequestsTotal.WithLabelValues(result).Inc()
}

// ObserveClaimsIssued records a claims publication
func (m *Metrics) ObserveClaimsIssued(err error) {
	if m == nil {
		return
	}
	m.ClaimsIssuedTotal.WithLabelValues(outcomeOf(err)).Inc()
}

// ObserveDecision records a permission validation outcome
func (m *Metrics) ObserveDecision(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if err != nil {
		outcome = "denied"
	}
	m.AuthzDecisionsTotal.WithLabelValues(operation, outcome).Inc()
}

// SetElevatedAccounts records the current super-user count
func (m *Metrics) SetElevatedAccounts(n int) {
	if m == nil {
		return
	}
	m.ElevatedAccounts.Set(float64(n))
}

// ObserveWebhook records a webhook event outcome and its processing time
func (m *Metrics) ObserveWebhook(eventType, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
	m.WebhookProcessingDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

// ObserveCommission records the split of a created commission
func (m *Metrics) ObserveCommission(gross, fees, commission, owner, company int64) {
	if m == nil {
		return
	}
	m.CommissionsCreatedTotal.Inc()
	m.CommissionCentsTotal.WithLabelValues("gross").Add(float64(gross))
	m.CommissionCentsTotal.WithLabelValues("fees").Add(float64(fees))
	m.CommissionCentsTotal.WithLabelValues("commission").Add(float64(commission))
	m.CommissionCentsTotal.WithLabelValues("owner").Add(float64(owner))
	m.CommissionCentsTotal.WithLabelValues("company").Add(float64(company))
}

// ObservePayoutRun records a payout batch run
func (m *Metrics) ObservePayoutRun(reports, commissions int, err error) {
	if m == nil {
		return
	}
	m.PayoutRunsTotal.WithLabelValues(outcomeOf(err)).Inc()
	m.PayoutReportsUpserted.Add(float64(reports))
	m.PayoutCommissionsPromoted.Add(float64(commissions))
}

func outcomeOf(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by route template so path parameters do not explode
// label cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			if metrics == nil {
				return
			}
			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
