package rbac

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestMapEdgeErrorByConstraint(t *testing.T) {
	fk := func(constraint string) error {
		return fmt.Errorf("insert: %w", &pgconn.PgError{Code: pgForeignKeyViolation, ConstraintName: constraint})
	}
	cases := map[string]struct {
		err  error
		want error
	}{
		"permission":  {fk("role_permissions_permission_id_fkey"), ErrUnknownPermission},
		"grant role":  {fk("role_permissions_role_id_fkey"), ErrUnknownRole},
		"assign role": {fk("user_roles_role_id_fkey"), ErrUnknownRole},
		"user":        {fk("user_roles_user_id_fkey"), ErrUnknownUser},
		"assigned by": {fk("user_roles_assigned_by_fkey"), ErrUnknownUser},
		"no rows":     {pgx.ErrNoRows, ErrUnknownPermission},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, mapEdgeError(tc.err), tc.want)
		})
	}
}

func TestRespondErrorUnknownUser(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, ErrUnknownUser)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "unknown user")
}
