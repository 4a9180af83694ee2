package billing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/auth"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/claims"
)

type memoryState struct {
	orgs        map[string]Organization
	subs        map[string]Subscription
	resellers   map[string]Reseller
	commissions map[string]Commission
	reports     map[string]CommissionReport
	events      map[string]string
}

func newMemoryState() *memoryState {
	return &memoryState{
		orgs:        make(map[string]Organization),
		subs:        make(map[string]Subscription),
		resellers:   make(map[string]Reseller),
		commissions: make(map[string]Commission),
		reports:     make(map[string]CommissionReport),
		events:      make(map[string]string),
	}
}

func (s *memoryState) clone() *memoryState {
	cp := newMemoryState()
	for k, v := range s.orgs {
		cp.orgs[k] = v
	}
	for k, v := range s.subs {
		cp.subs[k] = v
	}
	for k, v := range s.resellers {
		v.ClientIDs = append([]string(nil), v.ClientIDs...)
		cp.resellers[k] = v
	}
	for k, v := range s.commissions {
		cp.commissions[k] = v
	}
	for k, v := range s.reports {
		v.CommissionIDs = append([]string(nil), v.CommissionIDs...)
		cp.reports[k] = v
	}
	for k, v := range s.events {
		cp.events[k] = v
	}
	return cp
}

// MemoryStore is an in-process Store. Transactions work on a copy of the
// state that replaces it only on success, and run one at a time. Business
// owner activations are applied to the directory after commit.
type MemoryStore struct {
	mu    sync.Mutex
	state *memoryState
	dir   *claims.MemoryDirectory
}

// NewMemoryStore creates an empty store. dir may be nil.
func NewMemoryStore(dir *claims.MemoryDirectory) *MemoryStore {
	return &MemoryStore{state: newMemoryState(), dir: dir}
}

// PutOrganization stores an organization as provisioned
func (m *MemoryStore) PutOrganization(org Organization) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.orgs[org.ID] = org
}

// PutReseller stores a reseller
func (m *MemoryStore) PutReseller(r Reseller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ClientIDs = append([]string(nil), r.ClientIDs...)
	m.state.resellers[r.ID] = r
}

// PutCommission stores a commission as is
func (m *MemoryStore) PutCommission(c Commission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.commissions[c.ID] = c
}

// Organization returns a copy of the organization
func (m *MemoryStore) Organization(id string) (Organization, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.state.orgs[id]
	return org, ok
}

// Subscriptions returns every subscription record ordered by id
func (m *MemoryStore) Subscriptions() []Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Subscription, 0, len(m.state.subs))
	for _, s := range m.state.subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reseller returns a copy of the reseller
func (m *MemoryStore) Reseller(id string) (Reseller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.state.resellers[id]
	r.ClientIDs = append([]string(nil), r.ClientIDs...)
	return r, ok
}

// Commissions returns every commission ordered by id
func (m *MemoryStore) Commissions() []Commission {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Commission, 0, len(m.state.commissions))
	for _, c := range m.state.commissions {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetPayoutStatus records the external settlement outcome of a report
func (m *MemoryStore) SetPayoutStatus(reportID string, status PayoutStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.state.reports[reportID]
	if ok {
		r.PayoutStatus = status
		m.state.reports[reportID] = r
	}
	return ok
}

// Reports returns every commission report ordered by id
func (m *MemoryStore) Reports() []CommissionReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CommissionReport, 0, len(m.state.reports))
	for _, r := range m.state.reports {
		r.CommissionIDs = append([]string(nil), r.CommissionIDs...)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	tx := &memoryTx{state: m.state.clone(), dir: m.dir}
	if err := fn(tx); err != nil {
		m.mu.Unlock()
		return err
	}
	m.state = tx.state
	m.mu.Unlock()

	if m.dir != nil {
		for _, uid := range tx.activations {
			m.dir.Update(uid, func(u *auth.User) { u.IsActive = true })
		}
	}
	return nil
}

func (m *MemoryStore) MaturedCommissions(ctx context.Context, cutoff time.Time) ([]*Commission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Commission
	for _, c := range m.state.commissions {
		if c.Status == CommissionStatusCalculated && !c.CreatedAt.After(cutoff) {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

type memoryTx struct {
	state       *memoryState
	dir         *claims.MemoryDirectory
	activations []string
}

func (t *memoryTx) MarkEventProcessed(ctx context.Context, eventID, eventType string, at time.Time) (bool, error) {
	if _, ok := t.state.events[eventID]; ok {
		return false, nil
	}
	t.state.events[eventID] = eventType
	return true, nil
}

func (t *memoryTx) ActivateOrganization(ctx context.Context, orgID, customerID, subscriptionID, planTier string, at time.Time) error {
	org, ok := t.state.orgs[orgID]
	if !ok {
		return ErrNotFound
	}
	org.SubscriptionStatus = SubscriptionStatusActive
	org.IsActive = true
	org.StripeCustomerID = customerID
	org.StripeSubscriptionID = subscriptionID
	if planTier != "" {
		org.PlanTier = planTier
	}
	org.UpdatedAt = at
	t.state.orgs[orgID] = org
	return nil
}

func (t *memoryTx) UpsertSubscription(ctx context.Context, sub *Subscription) error {
	if prev, ok := t.state.subs[sub.ID]; ok {
		sub.CreatedAt = prev.CreatedAt
	}
	t.state.subs[sub.ID] = *sub
	return nil
}

func (t *memoryTx) ActivateFirstBusinessOwner(ctx context.Context, orgID string, at time.Time) (string, error) {
	if t.dir == nil {
		return "", nil
	}
	users, err := t.dir.OrganizationUsers(ctx, orgID)
	if err != nil {
		return "", err
	}
	for _, u := range users {
		if u.Role == auth.RoleBusinessOwner {
			t.activations = append(t.activations, u.ID)
			return u.ID, nil
		}
	}
	return "", nil
}

func (t *memoryTx) AddResellerClient(ctx context.Context, resellerID, orgID string, at time.Time) (bool, error) {
	r, ok := t.state.resellers[resellerID]
	if !ok {
		return false, ErrNotFound
	}
	for _, id := range r.ClientIDs {
		if id == orgID {
			return false, nil
		}
	}
	r.ClientIDs = append(r.ClientIDs, orgID)
	r.ClientsAcquired++
	r.UpdatedAt = at
	t.state.resellers[resellerID] = r
	return true, nil
}

func (t *memoryTx) ResellerExists(ctx context.Context, resellerID string) (bool, error) {
	_, ok := t.state.resellers[resellerID]
	return ok, nil
}

func (t *memoryTx) InsertCommission(ctx context.Context, c *Commission) (bool, error) {
	if _, ok := t.state.commissions[c.ID]; ok {
		return false, nil
	}
	for _, existing := range t.state.commissions {
		if existing.SourceEventID == c.SourceEventID {
			return false, nil
		}
	}
	t.state.commissions[c.ID] = *c
	return true, nil
}

func (t *memoryTx) AddResellerTotals(ctx context.Context, resellerID string, revenue, commission int64, at time.Time) error {
	r, ok := t.state.resellers[resellerID]
	if !ok {
		return ErrNotFound
	}
	r.MonthlyRecurringRevenue += revenue
	r.TotalCommissions += commission
	r.UpdatedAt = at
	t.state.resellers[resellerID] = r
	return nil
}

func (t *memoryTx) UpdateSubscriptionStatus(ctx context.Context, orgID string, status SubscriptionStatus, periodStart, periodEnd *time.Time, at time.Time) error {
	org, ok := t.state.orgs[orgID]
	if !ok {
		return ErrNotFound
	}
	org.SubscriptionStatus = status
	org.IsActive = status.Active()
	org.CurrentPeriodStart = periodStart
	org.CurrentPeriodEnd = periodEnd
	org.UpdatedAt = at
	t.state.orgs[orgID] = org

	id := SubscriptionID(orgID)
	sub, ok := t.state.subs[id]
	if !ok {
		sub = Subscription{ID: id, OrganizationID: orgID, PlanTier: org.PlanTier, CreatedAt: at}
	}
	sub.Status = status
	sub.CurrentPeriodStart = periodStart
	sub.CurrentPeriodEnd = periodEnd
	sub.UpdatedAt = at
	t.state.subs[id] = sub
	return nil
}

func (t *memoryTx) CancelSubscription(ctx context.Context, orgID string, at time.Time) error {
	org, ok := t.state.orgs[orgID]
	if !ok {
		return ErrNotFound
	}
	org.SubscriptionStatus = SubscriptionStatusCanceled
	org.IsActive = false
	org.UpdatedAt = at
	t.state.orgs[orgID] = org

	id := SubscriptionID(orgID)
	if sub, ok := t.state.subs[id]; ok {
		sub.Status = SubscriptionStatusCanceled
		sub.UpdatedAt = at
		t.state.subs[id] = sub
	}
	return nil
}

func (t *memoryTx) LockCalculated(ctx context.Context, ids []string) ([]*Commission, error) {
	var out []*Commission
	for _, id := range ids {
		if c, ok := t.state.commissions[id]; ok && c.Status == CommissionStatusCalculated {
			c := c
			out = append(out, &c)
		}
	}
	return out, nil
}

func (t *memoryTx) UpsertReport(ctx context.Context, report *CommissionReport) (*CommissionReport, error) {
	stored, ok := t.state.reports[report.ID]
	if !ok {
		stored = *report
		stored.CommissionIDs = append([]string(nil), report.CommissionIDs...)
	} else {
		if stored.PayoutStatus != PayoutStatusPending {
			return nil, ErrReportSettled
		}
		listed := make(map[string]bool, len(stored.CommissionIDs))
		for _, id := range stored.CommissionIDs {
			listed[id] = true
		}
		for _, id := range report.CommissionIDs {
			if !listed[id] {
				stored.CommissionIDs = append(stored.CommissionIDs, id)
			}
		}
		stored.TotalRevenue += report.TotalRevenue
		stored.TotalCommission += report.TotalCommission
		stored.UpdatedAt = report.UpdatedAt
	}

	orgs := make(map[string]bool)
	for _, id := range stored.CommissionIDs {
		if c, ok := t.state.commissions[id]; ok {
			orgs[c.OrganizationID] = true
		}
	}
	stored.TotalClients = len(orgs)
	t.state.reports[report.ID] = stored

	out := stored
	out.CommissionIDs = append([]string(nil), stored.CommissionIDs...)
	return &out, nil
}

func (t *memoryTx) MarkPending(ctx context.Context, ids []string, at time.Time) (int, error) {
	n := 0
	for _, id := range ids {
		if c, ok := t.state.commissions[id]; ok && c.Status == CommissionStatusCalculated {
			c.Status = CommissionStatusPending
			t.state.commissions[id] = c
			n++
		}
	}
	return n, nil
}
