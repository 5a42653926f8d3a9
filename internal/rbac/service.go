package rbac

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dersa/ecoquality/internal/shared"
)

// AuditRecorder persists administrative changes.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates RBAC operations.
type Service struct {
	store  Store
	cache  *Cache
	audit  AuditRecorder
	logger *slog.Logger
	now    func() time.Time

	loads       singleflight.Group
	loadTimeout time.Duration
	// gen advances on every invalidation so loads started before a
	// mutation are never shared with callers arriving after it.
	gen atomic.Uint64
	// stale is set when a cache bump failed; reads skip the cache until a
	// later bump succeeds.
	stale atomic.Bool
}

const (
	defaultLoadTimeout = 5 * time.Second
	bumpAttempts       = 3
	bumpBackoff        = 10 * time.Millisecond
)

// Option customises a Service.
type Option func(*Service)

// WithCache enables the cross-request effective-set cache.
func WithCache(cache *Cache) Option {
	return func(s *Service) { s.cache = cache }
}

// WithAuditRecorder records catalog and assignment changes.
func WithAuditRecorder(audit AuditRecorder) Option {
	return func(s *Service) { s.audit = audit }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService constructs a Service backed by the provided store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default(), now: time.Now, loadTimeout: defaultLoadTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterModule adds a module to the registry.
func (s *Service) RegisterModule(ctx context.Context, key, displayName string) (Module, error) {
	key, err := validModuleKey(key)
	if err != nil {
		return Module{}, err
	}
	m, err := s.store.CreateModule(ctx, key, displayNameOr(displayName, key))
	if err != nil {
		return Module{}, err
	}
	s.recordMutation(ctx, "module.create", "modules", m.ID, map[string]any{"key": m.Key})
	return m, nil
}

// ListModules returns all modules ordered by key.
func (s *Service) ListModules(ctx context.Context) ([]Module, error) {
	return s.store.ListModules(ctx)
}

// SetModuleActive enables or disables every permission of a module.
func (s *Service) SetModuleActive(ctx context.Context, id int64, active bool) (Module, error) {
	m, err := s.store.SetModuleActive(ctx, id, active)
	if err != nil {
		return Module{}, err
	}
	s.invalidateAll(ctx)
	s.recordMutation(ctx, "module.update", "modules", id, map[string]any{"active": active})
	return m, nil
}

// DeleteModule removes a module that no permission references.
func (s *Service) DeleteModule(ctx context.Context, id int64) error {
	if err := s.store.DeleteModule(ctx, id); err != nil {
		return err
	}
	s.recordMutation(ctx, "module.delete", "modules", id, nil)
	return nil
}

// RegisterPermission adds a permission under an existing module.
func (s *Service) RegisterPermission(ctx context.Context, key, displayName string, moduleID int64) (Permission, error) {
	key, err := validPermissionKey(key)
	if err != nil {
		return Permission{}, err
	}
	p, err := s.store.CreatePermission(ctx, key, displayNameOr(displayName, key), moduleID)
	if err != nil {
		return Permission{}, err
	}
	s.recordMutation(ctx, "permission.create", "permissions", p.ID, map[string]any{"key": p.Key, "module": p.ModuleKey})
	return p, nil
}

// ListPermissions returns all permissions ordered by key.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// GetPermissionByKey resolves a permission by its stable key.
func (s *Service) GetPermissionByKey(ctx context.Context, key string) (Permission, error) {
	return s.store.GetPermissionByKey(ctx, NormalizeKey(key))
}

// SetPermissionActive enables or disables a permission.
func (s *Service) SetPermissionActive(ctx context.Context, id int64, active bool) (Permission, error) {
	p, err := s.store.SetPermissionActive(ctx, id, active)
	if err != nil {
		return Permission{}, err
	}
	s.invalidateAll(ctx)
	s.recordMutation(ctx, "permission.update", "permissions", id, map[string]any{"active": active})
	return p, nil
}

// DeletePermission removes a permission together with its role grants.
func (s *Service) DeletePermission(ctx context.Context, id int64) error {
	if err := s.store.DeletePermission(ctx, id); err != nil {
		return err
	}
	s.invalidateAll(ctx)
	s.recordMutation(ctx, "permission.delete", "permissions", id, nil)
	return nil
}

// CreateRole inserts a new role.
func (s *Service) CreateRole(ctx context.Context, key, displayName string, system bool) (Role, error) {
	key, err := validRoleKey(key)
	if err != nil {
		return Role{}, err
	}
	r, err := s.store.CreateRole(ctx, key, displayNameOr(displayName, key), system)
	if err != nil {
		return Role{}, err
	}
	s.recordMutation(ctx, "role.create", "roles", r.ID, map[string]any{"key": r.Key, "system": system})
	return r, nil
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.store.GetRole(ctx, id)
}

// GetRoleByKey fetches a role by key.
func (s *Service) GetRoleByKey(ctx context.Context, key string) (Role, error) {
	return s.store.GetRoleByKey(ctx, NormalizeKey(key))
}

// ListRoles returns all roles ordered by key.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// UpdateRole renames or (de)activates a custom role. System roles are immutable.
func (s *Service) UpdateRole(ctx context.Context, id int64, displayName string, active bool) (Role, error) {
	current, err := s.store.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	r, err := s.store.UpdateRole(ctx, id, displayNameOr(displayName, current.Key), active)
	if err != nil {
		return Role{}, err
	}
	s.invalidateAll(ctx)
	s.recordMutation(ctx, "role.update", "roles", id, map[string]any{"display_name": r.DisplayName, "active": active})
	return r, nil
}

// DeleteRole removes a custom role with its grants and assignments.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	if err := s.store.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.invalidateAll(ctx)
	s.recordMutation(ctx, "role.delete", "roles", id, nil)
	return nil
}

// Grant sets the (role, permission) edge to granted.
func (s *Service) Grant(ctx context.Context, roleID, permissionID int64) (RoleGrant, error) {
	return s.setEdge(ctx, roleID, permissionID, true)
}

// Deny sets the (role, permission) edge to an explicit deny.
func (s *Service) Deny(ctx context.Context, roleID, permissionID int64) (RoleGrant, error) {
	return s.setEdge(ctx, roleID, permissionID, false)
}

func (s *Service) setEdge(ctx context.Context, roleID, permissionID int64, granted bool) (RoleGrant, error) {
	g, err := s.store.UpsertGrant(ctx, roleID, permissionID, granted)
	if err != nil {
		return RoleGrant{}, err
	}
	s.invalidateAll(ctx)
	action := "role.grant"
	if !granted {
		action = "role.deny"
	}
	s.recordMutation(ctx, action, "roles", roleID, map[string]any{"permission": g.PermissionKey})
	return g, nil
}

// Revoke removes the (role, permission) edge, reverting to no opinion.
func (s *Service) Revoke(ctx context.Context, roleID, permissionID int64) error {
	if err := s.store.DeleteGrant(ctx, roleID, permissionID); err != nil {
		return err
	}
	s.invalidateAll(ctx)
	s.recordMutation(ctx, "role.revoke", "roles", roleID, map[string]any{"permission_id": permissionID})
	return nil
}

// ListRolePermissions returns the grant and deny edges of a role.
func (s *Service) ListRolePermissions(ctx context.Context, roleID int64) ([]RoleGrant, error) {
	return s.store.ListGrants(ctx, roleID)
}

// AssignRole assigns a role to the given principal. Assigning twice is a no-op.
func (s *Service) AssignRole(ctx context.Context, principalID, roleID, assignedBy int64) error {
	created, err := s.store.AssignRole(ctx, principalID, roleID, assignedBy)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}
	s.invalidatePrincipal(ctx, principalID)
	s.recordMutation(ctx, "user.role.assign", "users", principalID, map[string]any{"role_id": roleID})
	return nil
}

// UnassignRole removes a role from a principal.
func (s *Service) UnassignRole(ctx context.Context, principalID, roleID int64) error {
	if err := s.store.UnassignRole(ctx, principalID, roleID); err != nil {
		return err
	}
	s.invalidatePrincipal(ctx, principalID)
	s.recordMutation(ctx, "user.role.unassign", "users", principalID, map[string]any{"role_id": roleID})
	return nil
}

// ListUserRoles returns the roles assigned to a principal.
func (s *Service) ListUserRoles(ctx context.Context, principalID int64) ([]UserRole, error) {
	return s.store.ListUserRoles(ctx, principalID)
}

// EffectivePermissions resolves the permission set of a principal. The
// result is memoised on the request context and, when configured, in
// the versioned Redis cache.
func (s *Service) EffectivePermissions(ctx context.Context, principalID int64) (EffectiveSet, error) {
	memo := memoFromContext(ctx)
	if set, ok := memo.get(principalID); ok {
		return set, nil
	}
	flightKey := strconv.FormatInt(principalID, 10) + ":" + strconv.FormatUint(s.gen.Load(), 10)
	// The shared load outlives any single caller; each caller only stops
	// waiting when its own context ends.
	ch := s.loads.DoChan(flightKey, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()
		return s.loadEffective(loadCtx, principalID)
	})
	select {
	case <-ctx.Done():
		return EffectiveSet{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return EffectiveSet{}, res.Err
		}
		set := res.Val.(EffectiveSet)
		memo.put(principalID, set)
		return set, nil
	}
}

func (s *Service) loadEffective(ctx context.Context, principalID int64) (EffectiveSet, error) {
	var cacheKey string
	if s.cacheUsable(ctx) {
		key, err := s.cache.Key(ctx, principalID)
		if err != nil {
			s.logger.Warn("rbac cache key", slog.Any("error", err))
		} else if set, ok, err := s.cache.Get(ctx, key); err != nil {
			s.logger.Warn("rbac cache get", slog.Any("error", err))
		} else if ok {
			return set, nil
		} else {
			cacheKey = key
		}
	}
	roles, edges, err := s.store.PrincipalEdges(ctx, principalID)
	if err != nil {
		return EffectiveSet{}, err
	}
	set := ComputeEffective(roles, edges)
	if cacheKey != "" {
		if err := s.cache.Put(ctx, cacheKey, set); err != nil {
			s.logger.Warn("rbac cache put", slog.Any("error", err))
		}
	}
	return set, nil
}

// Decide evaluates a single permission for a principal.
func (s *Service) Decide(ctx context.Context, principalID int64, permission string) (Decision, error) {
	d := Decision{PrincipalID: principalID, Permission: NormalizeKey(permission), CheckedAt: s.now().UTC()}
	set, err := s.EffectivePermissions(ctx, principalID)
	if err != nil {
		d.Reason = ReasonError
		return d, err
	}
	d.Roles = set.Roles
	d.Allowed, d.Reason = set.Evaluate(d.Permission)
	return d, nil
}

// IsPermitted answers the enforcement question. It never fails: unknown
// principals, unknown keys and lookup errors are all a plain false.
func (s *Service) IsPermitted(ctx context.Context, principalID int64, permission string) bool {
	d, err := s.Decide(ctx, principalID, permission)
	if err != nil {
		s.logger.Error("rbac is permitted", slog.Int64("principal_id", principalID), slog.Any("error", err))
		return false
	}
	return d.Allowed
}

func (s *Service) cacheUsable(ctx context.Context) bool {
	if !s.cache.enabled() {
		return false
	}
	if !s.stale.Load() {
		return true
	}
	if err := s.cache.BumpAll(ctx); err != nil {
		return false
	}
	s.stale.Store(false)
	return true
}

// bump retries a version bump a few times before the mutation returns.
// A bump that still fails leaves other replicas able to read entries
// written before the mutation until they expire.
func (s *Service) bump(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= bumpAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == bumpAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt) * bumpBackoff):
		}
	}
	return err
}

func (s *Service) invalidateAll(ctx context.Context) {
	s.gen.Add(1)
	memoFromContext(ctx).reset()
	if err := s.bump(ctx, s.cache.BumpAll); err != nil {
		s.stale.Store(true)
		s.logger.Error("rbac cache invalidate", slog.Any("error", err))
	}
}

func (s *Service) invalidatePrincipal(ctx context.Context, principalID int64) {
	s.gen.Add(1)
	memoFromContext(ctx).reset()
	err := s.bump(ctx, func(ctx context.Context) error { return s.cache.BumpPrincipal(ctx, principalID) })
	if err != nil {
		s.stale.Store(true)
		s.logger.Error("rbac cache invalidate principal", slog.Int64("principal_id", principalID), slog.Any("error", err))
	}
}

func (s *Service) recordMutation(ctx context.Context, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	var actor int64
	if p, ok := PrincipalFromContext(ctx); ok {
		actor = p.ID
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
		At:       s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("rbac audit record", slog.String("action", action), slog.Any("error", err))
	}
}
