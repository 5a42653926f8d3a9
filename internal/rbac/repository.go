package rbac

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dersa/ecoquality/internal/platform/db"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PostgreSQL store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const moduleColumns = `id, key, display_name, active, created_at`

func scanModule(row pgx.Row) (Module, error) {
	var m Module
	err := row.Scan(&m.ID, &m.Key, &m.DisplayName, &m.Active, &m.CreatedAt)
	return m, err
}

// CreateModule inserts a module.
func (s *PGStore) CreateModule(ctx context.Context, key, displayName string) (Module, error) {
	m, err := scanModule(s.pool.QueryRow(ctx,
		`INSERT INTO modules (key, display_name) VALUES ($1, $2) RETURNING `+moduleColumns, key, displayName))
	return m, mapPGError(err, ErrUnknownModule)
}

// GetModule fetches a module by id.
func (s *PGStore) GetModule(ctx context.Context, id int64) (Module, error) {
	m, err := scanModule(s.pool.QueryRow(ctx, `SELECT `+moduleColumns+` FROM modules WHERE id = $1`, id))
	return m, mapPGError(err, ErrUnknownModule)
}

// ListModules returns modules ordered by key.
func (s *PGStore) ListModules(ctx context.Context) ([]Module, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+moduleColumns+` FROM modules ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Module
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SetModuleActive toggles the active flag.
func (s *PGStore) SetModuleActive(ctx context.Context, id int64, active bool) (Module, error) {
	m, err := scanModule(s.pool.QueryRow(ctx,
		`UPDATE modules SET active = $2 WHERE id = $1 RETURNING `+moduleColumns, id, active))
	return m, mapPGError(err, ErrUnknownModule)
}

// DeleteModule removes a module; permissions reference it with ON DELETE RESTRICT.
func (s *PGStore) DeleteModule(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM modules WHERE id = $1`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return ErrModuleInUse
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUnknownModule
	}
	return nil
}

const permissionSelect = `
	SELECT p.id, p.key, p.display_name, p.module_id, m.key, p.active, p.created_at
	FROM permissions p
	JOIN modules m ON m.id = p.module_id`

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	err := row.Scan(&p.ID, &p.Key, &p.DisplayName, &p.ModuleID, &p.ModuleKey, &p.Active, &p.CreatedAt)
	return p, err
}

// CreatePermission inserts a permission under an existing module.
func (s *PGStore) CreatePermission(ctx context.Context, key, displayName string, moduleID int64) (Permission, error) {
	p, err := scanPermission(s.pool.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO permissions (key, display_name, module_id)
			VALUES ($1, $2, $3)
			RETURNING id, key, display_name, module_id, active, created_at
		)
		SELECT ins.id, ins.key, ins.display_name, ins.module_id, m.key, ins.active, ins.created_at
		FROM ins JOIN modules m ON m.id = ins.module_id`, key, displayName, moduleID))
	return p, mapPGError(err, ErrUnknownModule)
}

// GetPermission fetches a permission by id.
func (s *PGStore) GetPermission(ctx context.Context, id int64) (Permission, error) {
	p, err := scanPermission(s.pool.QueryRow(ctx, permissionSelect+` WHERE p.id = $1`, id))
	return p, mapPGError(err, ErrUnknownPermission)
}

// GetPermissionByKey fetches a permission by key using the unique index.
func (s *PGStore) GetPermissionByKey(ctx context.Context, key string) (Permission, error) {
	p, err := scanPermission(s.pool.QueryRow(ctx, permissionSelect+` WHERE p.key = $1`, key))
	return p, mapPGError(err, ErrUnknownPermission)
}

// ListPermissions returns permissions ordered by key.
func (s *PGStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.pool.Query(ctx, permissionSelect+` ORDER BY p.key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetPermissionActive toggles the active flag.
func (s *PGStore) SetPermissionActive(ctx context.Context, id int64, active bool) (Permission, error) {
	p, err := scanPermission(s.pool.QueryRow(ctx, `
		WITH up AS (
			UPDATE permissions SET active = $2 WHERE id = $1
			RETURNING id, key, display_name, module_id, active, created_at
		)
		SELECT up.id, up.key, up.display_name, up.module_id, m.key, up.active, up.created_at
		FROM up JOIN modules m ON m.id = up.module_id`, id, active))
	return p, mapPGError(err, ErrUnknownPermission)
}

// DeletePermission removes a permission; grants cascade.
func (s *PGStore) DeletePermission(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUnknownPermission
	}
	return nil
}

const roleColumns = `id, key, display_name, is_system, active, created_at, updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var r Role
	err := row.Scan(&r.ID, &r.Key, &r.DisplayName, &r.IsSystem, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// CreateRole inserts a role.
func (s *PGStore) CreateRole(ctx context.Context, key, displayName string, system bool) (Role, error) {
	r, err := scanRole(s.pool.QueryRow(ctx,
		`INSERT INTO roles (key, display_name, is_system) VALUES ($1, $2, $3) RETURNING `+roleColumns,
		key, displayName, system))
	return r, mapPGError(err, ErrUnknownRole)
}

// GetRole fetches a role by id.
func (s *PGStore) GetRole(ctx context.Context, id int64) (Role, error) {
	r, err := scanRole(s.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
	return r, mapPGError(err, ErrUnknownRole)
}

// GetRoleByKey fetches a role by key.
func (s *PGStore) GetRoleByKey(ctx context.Context, key string) (Role, error) {
	r, err := scanRole(s.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE key = $1`, key))
	return r, mapPGError(err, ErrUnknownRole)
}

// ListRoles returns roles ordered by key.
func (s *PGStore) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateRole locks the row, enforces system-role protection and updates it.
func (s *PGStore) UpdateRole(ctx context.Context, id int64, displayName string, active bool) (Role, error) {
	var updated Role
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := scanRole(tx.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return mapPGError(err, ErrUnknownRole)
		}
		if current.IsSystem && (current.DisplayName != displayName || !active) {
			return ErrProtectedRole
		}
		updated, err = scanRole(tx.QueryRow(ctx,
			`UPDATE roles SET display_name = $2, active = $3, updated_at = NOW() WHERE id = $1 RETURNING `+roleColumns,
			id, displayName, active))
		return err
	})
	if err != nil {
		return Role{}, err
	}
	return updated, nil
}

// DeleteRole removes a custom role; grants and assignments cascade.
func (s *PGStore) DeleteRole(ctx context.Context, id int64) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var system bool
		if err := tx.QueryRow(ctx, `SELECT is_system FROM roles WHERE id = $1 FOR UPDATE`, id).Scan(&system); err != nil {
			return mapPGError(err, ErrUnknownRole)
		}
		if system {
			return ErrProtectedRole
		}
		_, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
		return err
	})
}

// UpsertGrant writes the single edge for (role, permission).
func (s *PGStore) UpsertGrant(ctx context.Context, roleID, permissionID int64, granted bool) (RoleGrant, error) {
	var g RoleGrant
	err := s.pool.QueryRow(ctx, `
		WITH up AS (
			INSERT INTO role_permissions (role_id, permission_id, granted, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (role_id, permission_id)
			DO UPDATE SET granted = EXCLUDED.granted, updated_at = EXCLUDED.updated_at
			RETURNING role_id, permission_id, granted, updated_at
		)
		SELECT up.role_id, up.permission_id, p.key, up.granted, up.updated_at
		FROM up JOIN permissions p ON p.id = up.permission_id`, roleID, permissionID, granted).
		Scan(&g.RoleID, &g.PermissionID, &g.PermissionKey, &g.Granted, &g.UpdatedAt)
	if err != nil {
		return RoleGrant{}, mapEdgeError(err)
	}
	return g, nil
}

// DeleteGrant removes the edge; missing edge is a no-op but missing endpoints are errors.
func (s *PGStore) DeleteGrant(ctx context.Context, roleID, permissionID int64) error {
	var roleExists, permExists bool
	err := s.pool.QueryRow(ctx, `
		WITH del AS (
			DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2
		)
		SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1),
		       EXISTS (SELECT 1 FROM permissions WHERE id = $2)`, roleID, permissionID).
		Scan(&roleExists, &permExists)
	if err != nil {
		return err
	}
	if !roleExists {
		return ErrUnknownRole
	}
	if !permExists {
		return ErrUnknownPermission
	}
	return nil
}

// ListGrants returns the edges owned by a role.
func (s *PGStore) ListGrants(ctx context.Context, roleID int64) ([]RoleGrant, error) {
	if _, err := s.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT rp.role_id, rp.permission_id, p.key, rp.granted, rp.updated_at
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.key`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RoleGrant
	for rows.Next() {
		var g RoleGrant
		if err := rows.Scan(&g.RoleID, &g.PermissionID, &g.PermissionKey, &g.Granted, &g.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// AssignRole inserts the assignment; an existing pair is left untouched.
func (s *PGStore) AssignRole(ctx context.Context, principalID, roleID, assignedBy int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id, assigned_by, assigned_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, role_id) DO NOTHING`, principalID, roleID, nullableID(assignedBy))
	if err != nil {
		return false, mapEdgeError(err)
	}
	return tag.RowsAffected() == 1, nil
}

// UnassignRole deletes the assignment if present.
func (s *PGStore) UnassignRole(ctx context.Context, principalID, roleID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, principalID, roleID)
	return err
}

// ListUserRoles returns the assignments of a principal.
func (s *PGStore) ListUserRoles(ctx context.Context, principalID int64) ([]UserRole, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ur.user_id, ur.role_id, r.key, ur.assigned_by, ur.assigned_at
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY r.key`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UserRole
	for rows.Next() {
		var (
			ur UserRole
			by pgtype.Int8
		)
		if err := rows.Scan(&ur.PrincipalID, &ur.RoleID, &ur.RoleKey, &by, &ur.AssignedAt); err != nil {
			return nil, err
		}
		if by.Valid {
			ur.AssignedBy = by.Int64
		}
		out = append(out, ur)
	}
	return out, rows.Err()
}

// PrincipalEdges reads roles and reachable edges in a single statement so
// both come from one snapshot.
func (s *PGStore) PrincipalEdges(ctx context.Context, principalID int64) ([]string, []EdgeRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.key, e.permission_key, e.granted
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id AND r.active
		LEFT JOIN (
			SELECT rp.role_id, p.key AS permission_key, rp.granted
			FROM role_permissions rp
			JOIN permissions p ON p.id = rp.permission_id AND p.active
			JOIN modules m ON m.id = p.module_id AND m.active
		) e ON e.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.key, e.permission_key`, principalID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var (
		roles []string
		edges []EdgeRow
	)
	for rows.Next() {
		var (
			roleKey string
			permKey pgtype.Text
			granted pgtype.Bool
		)
		if err := rows.Scan(&roleKey, &permKey, &granted); err != nil {
			return nil, nil, err
		}
		if len(roles) == 0 || roles[len(roles)-1] != roleKey {
			roles = append(roles, roleKey)
		}
		if permKey.Valid {
			edges = append(edges, EdgeRow{RoleKey: roleKey, PermissionKey: permKey.String, Granted: granted.Bool})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return roles, edges, nil
}

func nullableID(id int64) pgtype.Int8 {
	return pgtype.Int8{Int64: id, Valid: id > 0}
}

// mapPGError translates no-rows into notFound and constraint violations
// into catalog errors.
func mapPGError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return ErrDuplicateKey
		case pgForeignKeyViolation:
			return notFound
		}
	}
	return err
}

func mapEdgeError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUnknownPermission
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		switch pgErr.ConstraintName {
		case "role_permissions_permission_id_fkey":
			return ErrUnknownPermission
		case "user_roles_user_id_fkey", "user_roles_assigned_by_fkey":
			return ErrUnknownUser
		default:
			return ErrUnknownRole
		}
	}
	return err
}

var _ Store = (*PGStore)(nil)
