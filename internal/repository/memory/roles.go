package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/arklim/credential-engine/internal/core/domain"
	"github.com/arklim/credential-engine/internal/core/port"
	"github.com/arklim/credential-engine/internal/repository"
)

// RoleStore implements port.RoleAdmin over a Store.
type RoleStore struct {
	store *Store
}

// NewRoleStore constructs the store.
func NewRoleStore(store *Store) *RoleStore {
	return &RoleStore{store: store}
}

// AssignedRoles lists the roles assigned to an account, ordered by name.
func (s *RoleStore) AssignedRoles(_ context.Context, accountID string) ([]domain.Role, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	roles := make([]domain.Role, 0, len(s.store.assignments[accountID]))
	for roleID := range s.store.assignments[accountID] {
		if role, ok := s.store.roles[roleID]; ok {
			roles = append(roles, role)
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

// UpsertRole creates or replaces a role by id.
func (s *RoleStore) UpsertRole(ctx context.Context, role domain.Role) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	previous, existed := s.store.roles[role.ID]
	s.store.roles[role.ID] = role
	s.store.remember(ctx, "role:"+role.ID, func() {
		if existed {
			s.store.roles[role.ID] = previous
		} else {
			delete(s.store.roles, role.ID)
		}
	})
	return nil
}

// GetRoleByName finds a role by case-insensitive name.
func (s *RoleStore) GetRoleByName(_ context.Context, name string) (*domain.Role, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	for _, role := range s.store.roles {
		if strings.EqualFold(role.Name, strings.TrimSpace(name)) {
			r := role
			return &r, nil
		}
	}
	return nil, repository.ErrNotFound
}

// AssignRole links a role to an account. Re-assigning is a no-op.
func (s *RoleStore) AssignRole(ctx context.Context, assignment domain.RoleAssignment) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if _, ok := s.store.roles[assignment.RoleID]; !ok {
		return repository.ErrNotFound
	}
	set, ok := s.store.assignments[assignment.AccountID]
	if !ok {
		set = make(map[string]domain.RoleAssignment)
		s.store.assignments[assignment.AccountID] = set
	}
	if _, exists := set[assignment.RoleID]; exists {
		return nil
	}
	set[assignment.RoleID] = assignment
	s.store.remember(ctx, assignmentKey(assignment.AccountID, assignment.RoleID), func() {
		delete(s.store.assignments[assignment.AccountID], assignment.RoleID)
	})
	return nil
}

// RevokeRole unlinks a role from an account.
func (s *RoleStore) RevokeRole(ctx context.Context, accountID, roleID string) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	previous, ok := s.store.assignments[accountID][roleID]
	if !ok {
		return repository.ErrNotFound
	}
	delete(s.store.assignments[accountID], roleID)
	s.store.remember(ctx, assignmentKey(accountID, roleID), func() {
		s.store.assignments[accountID][roleID] = previous
	})
	return nil
}

func assignmentKey(accountID, roleID string) string {
	return "assignment:" + accountID + "/" + roleID
}

var _ port.RoleAdmin = (*RoleStore)(nil)
