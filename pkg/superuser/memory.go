package superuser

import (
	"context"
	"sync"
	"time"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/auth"
	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/claims"
)

// IdentityRecord is the identity-provider side of an account
type IdentityRecord struct {
	Email         string
	EmailVerified bool
	PasswordHash  string
}

// MemoryStore implements Store over a claims.MemoryDirectory, so profile
// changes are visible to the resolver sharing that directory
type MemoryStore struct {
	mu         sync.Mutex
	dir        *claims.MemoryDirectory
	identities map[string]*IdentityRecord
	now        func() time.Time
}

// NewMemoryStore creates a store over dir
func NewMemoryStore(dir *claims.MemoryDirectory) *MemoryStore {
	return &MemoryStore{
		dir:        dir,
		identities: make(map[string]*IdentityRecord),
		now:        time.Now,
	}
}

// PutIdentity registers an identity record
func (s *MemoryStore) PutIdentity(uid, email string, verified bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[uid] = &IdentityRecord{Email: email, EmailVerified: verified}
}

// Identity returns a copy of uid's identity record
func (s *MemoryStore) Identity(uid string) (IdentityRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.identities[uid]
	if !ok {
		return IdentityRecord{}, false
	}
	return *rec, true
}

func (s *MemoryStore) UpdateIdentityEmail(ctx context.Context, uid, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.identities[uid]
	if !ok {
		return ErrNotFound
	}
	rec.Email = email
	rec.EmailVerified = false
	return nil
}

func (s *MemoryStore) UpdateProfileEmail(ctx context.Context, uid, email string) error {
	if !s.dir.Update(uid, func(u *auth.User) { u.Email = email }) {
		return ErrNotFound
	}
	return nil
}

func (s *MemoryStore) UpdatePasswordHash(ctx context.Context, uid, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.identities[uid]
	if !ok {
		return ErrNotFound
	}
	rec.PasswordHash = hash
	return nil
}

func (s *MemoryStore) Grant(ctx context.Context, uid string, ceiling int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target *auth.User
	count := 0
	for _, u := range s.dir.All() {
		if isElevated(u) {
			count++
		}
		if u.ID == uid {
			target = u
		}
	}
	if target == nil {
		return 0, ErrNotFound
	}
	if isElevated(target) {
		return 0, ErrAlreadyElevated
	}
	if count >= ceiling {
		return 0, ErrCeilingReached
	}

	s.dir.Update(uid, func(u *auth.User) {
		u.Role = auth.RoleSuperUser
		u.Permissions = map[string]bool{auth.Wildcard: true}
		u.IsActive = true
	})
	return count + 1, nil
}

func (s *MemoryStore) Revoke(ctx context.Context, uid string) (RevokeOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target *auth.User
	for _, u := range s.dir.All() {
		if u.ID == uid {
			target = u
		}
	}
	if target == nil {
		return "", ErrNotFound
	}
	if !isElevated(target) {
		return "", ErrNotElevated
	}

	outcome := RevokeDeactivated
	if target.OrganizationID != "" {
		outcome = RevokeDemoted
	}
	s.dir.Update(uid, func(u *auth.User) {
		u.Permissions = map[string]bool{}
		if outcome == RevokeDemoted {
			u.Role = auth.RoleBusinessOwner
		} else {
			u.IsActive = false
		}
	})
	return outcome, nil
}

func (s *MemoryStore) ListElevated(ctx context.Context) ([]Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Account
	for _, u := range s.dir.All() {
		if isElevated(u) {
			out = append(out, Account{UID: u.ID, Email: u.Email, OrganizationID: u.OrganizationID, UpdatedAt: s.now()})
		}
	}
	return out, nil
}

func isElevated(u *auth.User) bool {
	return u.Role == auth.RoleSuperUser && u.IsActive
}
