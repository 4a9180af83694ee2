package claims

import (
	"context"
	"sort"
	"sync"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/auth"
)

// MemoryDirectory is an in-process Directory for tests and local runs
type MemoryDirectory struct {
	mu    sync.RWMutex
	root  map[string]*auth.User
	orgs  map[string]map[string]*auth.User
	index map[string]string
	// active lists active organizations in scan order
	active []string
}

// NewMemoryDirectory creates an empty directory
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		root:  make(map[string]*auth.User),
		orgs:  make(map[string]map[string]*auth.User),
		index: make(map[string]string),
	}
}

// PutRoot stores a root-partition record
func (d *MemoryDirectory) PutRoot(u *auth.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := copyUser(u)
	d.root[u.ID] = cp
}

// PutOrganizationUser stores a partition record. indexed controls whether the
// uid index learns about it.
func (d *MemoryDirectory) PutOrganizationUser(orgID string, u *auth.User, indexed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.orgs[orgID] == nil {
		d.orgs[orgID] = make(map[string]*auth.User)
		d.active = append(d.active, orgID)
	}
	cp := copyUser(u)
	cp.OrganizationID = orgID
	d.orgs[orgID][u.ID] = cp
	if indexed {
		d.index[u.ID] = orgID
	}
}

// AddOrganization registers an active organization with no users
func (d *MemoryDirectory) AddOrganization(orgID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.orgs[orgID] == nil {
		d.orgs[orgID] = make(map[string]*auth.User)
		d.active = append(d.active, orgID)
	}
}

// Update applies fn to every stored copy of uid
func (d *MemoryDirectory) Update(uid string, fn func(*auth.User)) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	found := false
	if u, ok := d.root[uid]; ok {
		fn(u)
		found = true
	}
	for _, users := range d.orgs {
		if u, ok := users[uid]; ok {
			fn(u)
			found = true
		}
	}
	return found
}

// All returns a copy of every distinct user, partition records first
func (d *MemoryDirectory) All() []*auth.User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[string]bool)
	var out []*auth.User
	for _, orgID := range d.active {
		for _, u := range d.orgs[orgID] {
			if !seen[u.ID] {
				seen[u.ID] = true
				out = append(out, copyUser(u))
			}
		}
	}
	for _, u := range d.root {
		if !seen[u.ID] {
			seen[u.ID] = true
			out = append(out, copyUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *MemoryDirectory) RootUser(ctx context.Context, uid string) (*auth.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.root[uid]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (d *MemoryDirectory) OrganizationUser(ctx context.Context, orgID, uid string) (*auth.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.orgs[orgID][uid]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (d *MemoryDirectory) IndexedOrganization(ctx context.Context, uid string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	orgID, ok := d.index[uid]
	if !ok {
		return "", ErrNotFound
	}
	return orgID, nil
}

func (d *MemoryDirectory) ActiveOrganizations(ctx context.Context, limit int) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if limit > len(d.active) {
		limit = len(d.active)
	}
	return append([]string(nil), d.active[:limit]...), nil
}

func (d *MemoryDirectory) OrganizationUsers(ctx context.Context, orgID string) ([]*auth.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*auth.User
	for _, u := range d.orgs[orgID] {
		out = append(out, copyUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func copyUser(u *auth.User) *auth.User {
	cp := *u
	if u.Permissions != nil {
		cp.Permissions = make(map[string]bool, len(u.Permissions))
		for k, v := range u.Permissions {
			cp.Permissions[k] = v
		}
	}
	return &cp
}

// MemoryClaimsStore is an in-process ClaimsStore
type MemoryClaimsStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryClaimsStore creates an empty store
func NewMemoryClaimsStore() *MemoryClaimsStore {
	return &MemoryClaimsStore{records: make(map[string]Record)}
}

func (s *MemoryClaimsStore) GetClaims(ctx context.Context, uid string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[uid]
	if !ok {
		return nil, ErrNotFound
	}
	r.Claims.Permissions = append([]string(nil), r.Claims.Permissions...)
	return &r, nil
}

func (s *MemoryClaimsStore) PutClaims(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.records[record.UID]; ok && prev.Claims.ValidAfter.After(record.Claims.ValidAfter) {
		record.Claims.ValidAfter = prev.Claims.ValidAfter
	}
	r := *record
	r.Claims.Permissions = append([]string(nil), record.Claims.Permissions...)
	s.records[record.UID] = r
	return nil
}

func (s *MemoryClaimsStore) DeleteClaims(ctx context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[uid]; !ok {
		return ErrNotFound
	}
	delete(s.records, uid)
	return nil
}
