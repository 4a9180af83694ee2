package audit

import (
	"time"

	"github.com/google/uuid"
)

// Severity grades how much an operation changes the trust boundary
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Operation names the privileged operation an entry records
type Operation string

const (
	OpIssueClaims                Operation = "issueClaims"
	OpGetClaims                  Operation = "getClaims"
	OpIssueClaimsForOrganization Operation = "issueClaimsForOrganization"
	OpUpdateEmail                Operation = "UPDATE_EMAIL"
	OpUpdatePassword             Operation = "UPDATE_PASSWORD"
	OpGrantSuperUser             Operation = "GRANT_SUPER_USER"
	OpRevokeSuperUser            Operation = "REVOKE_SUPER_USER"
	OpGetSuperUserInfo           Operation = "getSuperUserInfo"
	OpWebhookEvent               Operation = "billing.webhook_event"
	OpPayoutBatch                Operation = "billing.payout_batch"
)

// Entry is one append-only audit record
type Entry struct {
	ID         string                 `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	ActorUID   string                 `json:"actor_uid,omitempty"`
	ActorEmail string                 `json:"actor_email,omitempty"`
	ActorRole  string                 `json:"actor_role,omitempty"`
	Operation  Operation              `json:"operation"`
	Success    bool                   `json:"success"`
	Severity   Severity               `json:"severity"`
	RequestID  string                 `json:"request_id,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// NewEntry creates an info-level entry for operation stamped with an id and
// the current UTC time
func NewEntry(operation Operation) *Entry {
	return &Entry{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Operation: operation,
		Severity:  SeverityInfo,
		Details:   make(map[string]interface{}),
	}
}

// WithActor sets the acting user
func (e *Entry) WithActor(uid, email, role string) *Entry {
	e.ActorUID = uid
	e.ActorEmail = email
	e.ActorRole = role
	return e
}

// WithDetail adds a single detail value
func (e *Entry) WithDetail(key string, value interface{}) *Entry {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithSeverity overrides the default severity
func (e *Entry) WithSeverity(s Severity) *Entry {
	e.Severity = s
	return e
}

// Outcome records success or failure. A non-nil err marks the entry failed.
func (e *Entry) Outcome(err error) *Entry {
	e.Success = err == nil
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Filter narrows a search over stored entries
type Filter struct {
	ActorUID   string
	Operations []Operation
	Success    *bool
	StartTime  *time.Time
	EndTime    *time.Time
	Limit      int
}
