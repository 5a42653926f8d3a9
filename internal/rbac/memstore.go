package rbac

import (
	"context"
	"sort"
	"sync"
	"time"
)

type grantKey struct {
	roleID       int64
	permissionID int64
}

type userRoleKey struct {
	principalID int64
	roleID      int64
}

// MemoryStore keeps the graph in indexed tables guarded by a single lock.
// Edges are records keyed by id pairs, never pointers.
type MemoryStore struct {
	mu  sync.RWMutex
	now func() time.Time

	nextID int64

	modules      map[int64]Module
	moduleByKey  map[string]int64
	perms        map[int64]Permission
	permByKey    map[string]int64
	roles        map[int64]Role
	roleByKey    map[string]int64
	grants       map[grantKey]RoleGrant
	userRoles    map[userRoleKey]UserRole
	rolesByPrinc map[int64]map[int64]struct{}
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:          time.Now,
		modules:      make(map[int64]Module),
		moduleByKey:  make(map[string]int64),
		perms:        make(map[int64]Permission),
		permByKey:    make(map[string]int64),
		roles:        make(map[int64]Role),
		roleByKey:    make(map[string]int64),
		grants:       make(map[grantKey]RoleGrant),
		userRoles:    make(map[userRoleKey]UserRole),
		rolesByPrinc: make(map[int64]map[int64]struct{}),
	}
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

// CreateModule registers a module.
func (s *MemoryStore) CreateModule(ctx context.Context, key, displayName string) (Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.moduleByKey[key]; ok {
		return Module{}, ErrDuplicateKey
	}
	m := Module{ID: s.id(), Key: key, DisplayName: displayName, Active: true, CreatedAt: s.now().UTC()}
	s.modules[m.ID] = m
	s.moduleByKey[key] = m.ID
	return m, nil
}

// GetModule fetches a module by id.
func (s *MemoryStore) GetModule(ctx context.Context, id int64) (Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.modules[id]
	if !ok {
		return Module{}, ErrUnknownModule
	}
	return m, nil
}

// ListModules returns modules ordered by key.
func (s *MemoryStore) ListModules(ctx context.Context) ([]Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Module, 0, len(s.modules))
	for _, m := range s.modules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// SetModuleActive toggles the active flag.
func (s *MemoryStore) SetModuleActive(ctx context.Context, id int64, active bool) (Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modules[id]
	if !ok {
		return Module{}, ErrUnknownModule
	}
	m.Active = active
	s.modules[id] = m
	return m, nil
}

// DeleteModule removes a module that owns no permissions.
func (s *MemoryStore) DeleteModule(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modules[id]
	if !ok {
		return ErrUnknownModule
	}
	for _, p := range s.perms {
		if p.ModuleID == id {
			return ErrModuleInUse
		}
	}
	delete(s.modules, id)
	delete(s.moduleByKey, m.Key)
	return nil
}

// CreatePermission registers a permission under an existing module.
func (s *MemoryStore) CreatePermission(ctx context.Context, key, displayName string, moduleID int64) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modules[moduleID]
	if !ok {
		return Permission{}, ErrUnknownModule
	}
	if _, ok := s.permByKey[key]; ok {
		return Permission{}, ErrDuplicateKey
	}
	p := Permission{
		ID:          s.id(),
		Key:         key,
		DisplayName: displayName,
		ModuleID:    moduleID,
		ModuleKey:   m.Key,
		Active:      true,
		CreatedAt:   s.now().UTC(),
	}
	s.perms[p.ID] = p
	s.permByKey[key] = p.ID
	return p, nil
}

// GetPermission fetches a permission by id.
func (s *MemoryStore) GetPermission(ctx context.Context, id int64) (Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.perms[id]
	if !ok {
		return Permission{}, ErrUnknownPermission
	}
	return p, nil
}

// GetPermissionByKey fetches a permission by its stable key.
func (s *MemoryStore) GetPermissionByKey(ctx context.Context, key string) (Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.permByKey[key]
	if !ok {
		return Permission{}, ErrUnknownPermission
	}
	return s.perms[id], nil
}

// ListPermissions returns permissions ordered by key.
func (s *MemoryStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Permission, 0, len(s.perms))
	for _, p := range s.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// SetPermissionActive toggles the active flag.
func (s *MemoryStore) SetPermissionActive(ctx context.Context, id int64, active bool) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.perms[id]
	if !ok {
		return Permission{}, ErrUnknownPermission
	}
	p.Active = active
	s.perms[id] = p
	return p, nil
}

// DeletePermission removes a permission and every grant referencing it.
func (s *MemoryStore) DeletePermission(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.perms[id]
	if !ok {
		return ErrUnknownPermission
	}
	for k := range s.grants {
		if k.permissionID == id {
			delete(s.grants, k)
		}
	}
	delete(s.perms, id)
	delete(s.permByKey, p.Key)
	return nil
}

// CreateRole registers a role.
func (s *MemoryStore) CreateRole(ctx context.Context, key, displayName string, system bool) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roleByKey[key]; ok {
		return Role{}, ErrDuplicateKey
	}
	now := s.now().UTC()
	r := Role{ID: s.id(), Key: key, DisplayName: displayName, IsSystem: system, Active: true, CreatedAt: now, UpdatedAt: now}
	s.roles[r.ID] = r
	s.roleByKey[key] = r.ID
	return r, nil
}

// GetRole fetches a role by id.
func (s *MemoryStore) GetRole(ctx context.Context, id int64) (Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return Role{}, ErrUnknownRole
	}
	return r, nil
}

// GetRoleByKey fetches a role by key.
func (s *MemoryStore) GetRoleByKey(ctx context.Context, key string) (Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.roleByKey[key]
	if !ok {
		return Role{}, ErrUnknownRole
	}
	return s.roles[id], nil
}

// ListRoles returns roles ordered by key.
func (s *MemoryStore) ListRoles(ctx context.Context) ([]Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// UpdateRole changes the display name and active flag of a custom role.
func (s *MemoryStore) UpdateRole(ctx context.Context, id int64, displayName string, active bool) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return Role{}, ErrUnknownRole
	}
	if r.IsSystem && (r.DisplayName != displayName || !active) {
		return Role{}, ErrProtectedRole
	}
	r.DisplayName = displayName
	r.Active = active
	r.UpdatedAt = s.now().UTC()
	s.roles[id] = r
	return r, nil
}

// DeleteRole removes a custom role with its grants and assignments.
func (s *MemoryStore) DeleteRole(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return ErrUnknownRole
	}
	if r.IsSystem {
		return ErrProtectedRole
	}
	for k := range s.grants {
		if k.roleID == id {
			delete(s.grants, k)
		}
	}
	for k := range s.userRoles {
		if k.roleID == id {
			delete(s.userRoles, k)
			delete(s.rolesByPrinc[k.principalID], id)
		}
	}
	delete(s.roles, id)
	delete(s.roleByKey, r.Key)
	return nil
}

// UpsertGrant creates or updates the single edge for the pair.
func (s *MemoryStore) UpsertGrant(ctx context.Context, roleID, permissionID int64, granted bool) (RoleGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return RoleGrant{}, ErrUnknownRole
	}
	p, ok := s.perms[permissionID]
	if !ok {
		return RoleGrant{}, ErrUnknownPermission
	}
	g := RoleGrant{RoleID: roleID, PermissionID: permissionID, PermissionKey: p.Key, Granted: granted, UpdatedAt: s.now().UTC()}
	s.grants[grantKey{roleID, permissionID}] = g
	return g, nil
}

// DeleteGrant removes the edge if present.
func (s *MemoryStore) DeleteGrant(ctx context.Context, roleID, permissionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return ErrUnknownRole
	}
	if _, ok := s.perms[permissionID]; !ok {
		return ErrUnknownPermission
	}
	delete(s.grants, grantKey{roleID, permissionID})
	return nil
}

// ListGrants returns the edges owned by a role ordered by permission key.
func (s *MemoryStore) ListGrants(ctx context.Context, roleID int64) ([]RoleGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.roles[roleID]; !ok {
		return nil, ErrUnknownRole
	}
	var out []RoleGrant
	for k, g := range s.grants {
		if k.roleID == roleID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PermissionKey < out[j].PermissionKey })
	return out, nil
}

// AssignRole creates the assignment unless it exists. Reports whether it was created.
func (s *MemoryStore) AssignRole(ctx context.Context, principalID, roleID, assignedBy int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[roleID]
	if !ok {
		return false, ErrUnknownRole
	}
	k := userRoleKey{principalID, roleID}
	if _, exists := s.userRoles[k]; exists {
		return false, nil
	}
	s.userRoles[k] = UserRole{PrincipalID: principalID, RoleID: roleID, RoleKey: r.Key, AssignedBy: assignedBy, AssignedAt: s.now().UTC()}
	if s.rolesByPrinc[principalID] == nil {
		s.rolesByPrinc[principalID] = make(map[int64]struct{})
	}
	s.rolesByPrinc[principalID][roleID] = struct{}{}
	return true, nil
}

// UnassignRole removes the assignment if present.
func (s *MemoryStore) UnassignRole(ctx context.Context, principalID, roleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.userRoles, userRoleKey{principalID, roleID})
	delete(s.rolesByPrinc[principalID], roleID)
	return nil
}

// ListUserRoles returns assignments for a principal ordered by role key.
func (s *MemoryStore) ListUserRoles(ctx context.Context, principalID int64) ([]UserRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []UserRole
	for roleID := range s.rolesByPrinc[principalID] {
		out = append(out, s.userRoles[userRoleKey{principalID, roleID}])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoleKey < out[j].RoleKey })
	return out, nil
}

// PrincipalEdges walks principal → roles → grants under one read lock.
func (s *MemoryStore) PrincipalEdges(ctx context.Context, principalID int64) ([]string, []EdgeRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		roleKeys []string
		edges    []EdgeRow
	)
	for roleID := range s.rolesByPrinc[principalID] {
		r := s.roles[roleID]
		if !r.Active {
			continue
		}
		roleKeys = append(roleKeys, r.Key)
		for k, g := range s.grants {
			if k.roleID != roleID {
				continue
			}
			p := s.perms[k.permissionID]
			if !p.Active || !s.modules[p.ModuleID].Active {
				continue
			}
			edges = append(edges, EdgeRow{RoleKey: r.Key, PermissionKey: p.Key, Granted: g.Granted})
		}
	}
	sort.Strings(roleKeys)
	return roleKeys, edges, nil
}

var _ Store = (*MemoryStore)(nil)
