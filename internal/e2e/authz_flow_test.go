package e2e

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dersa/ecoquality/internal/app"
	"github.com/dersa/ecoquality/internal/audit"
	"github.com/dersa/ecoquality/internal/rbac"
	"github.com/dersa/ecoquality/internal/roles"
	"github.com/dersa/ecoquality/internal/shared"
)

const cookieName = "ecoquality_session"

type memoryLogStore struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (s *memoryLogStore) Record(ctx context.Context, log shared.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, log)
	return nil
}

func (s *memoryLogStore) snapshot() []shared.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]shared.AuditLog(nil), s.logs...)
}

type flow struct {
	t        *testing.T
	router   http.Handler
	svc      *rbac.Service
	recorder *audit.Recorder
	changes  *memoryLogStore
	logs     *memoryLogStore
}

func newFlow(t *testing.T) *flow {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	changes := &memoryLogStore{}
	svc := rbac.NewService(rbac.NewMemoryStore(),
		rbac.WithCache(rbac.NewCache(client, time.Minute)),
		rbac.WithAuditRecorder(changes))
	_, err := rbac.Bootstrap(ctx, svc, rbac.DefaultCatalog())
	require.NoError(t, err)
	for principal, key := range map[int64]string{1: "admin", 2: "operator"} {
		role, err := svc.GetRoleByKey(ctx, key)
		require.NoError(t, err)
		require.NoError(t, svc.AssignRole(ctx, principal, role.ID, 0))
	}

	logs := &memoryLogStore{}
	recorder := audit.NewRecorder(audit.StoreWriter{Store: logs}, 64, nil)
	mw := rbac.Middleware{Service: svc, Audit: recorder}

	mr.Set("session:admin", `{"values":{"csrf_token":"admin-token"},"user_id":"1"}`)
	mr.Set("session:operator", `{"values":{"csrf_token":"op-token"},"user_id":"2"}`)

	router := app.NewRouter(app.RouterParams{
		Config:         &app.Config{AppEnv: "test", AppRequestTimeout: 5 * time.Second},
		SessionManager: shared.NewSessionManager(client, cookieName, time.Hour, false),
		CSRFManager:    shared.NewCSRFManager("csrf"),
		CatalogHandler: rbac.NewCatalogHandler(nil, svc, mw),
		RolesHandler:   roles.NewHandler(nil, roles.NewService(svc), mw),
	})
	return &flow{t: t, router: router, svc: svc, recorder: recorder, changes: changes, logs: logs}
}

func (f *flow) do(session, token, method, path string) int {
	req := httptest.NewRequest(method, path, nil)
	req.AddCookie(&http.Cookie{Name: cookieName, Value: session})
	if token != "" {
		req.Header.Set(app.CSRFHeader, token)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr.Code
}

func TestGrantAndDenyTakeEffectThroughCache(t *testing.T) {
	f := newFlow(t)
	ctx := context.Background()
	operator, err := f.svc.GetRoleByKey(ctx, "operator")
	require.NoError(t, err)
	view, err := f.svc.GetPermissionByKey(ctx, shared.PermModulesView)
	require.NoError(t, err)
	edge := "/roles/" + strconv.FormatInt(operator.ID, 10) + "/permissions/" + strconv.FormatInt(view.ID, 10)

	require.Equal(t, http.StatusForbidden, f.do("operator", "", http.MethodGet, "/modules"))

	require.Equal(t, http.StatusOK, f.do("admin", "admin-token", http.MethodPut, edge+"/grant"))
	assert.Equal(t, http.StatusOK, f.do("operator", "", http.MethodGet, "/modules"))

	require.Equal(t, http.StatusOK, f.do("admin", "admin-token", http.MethodPut, edge+"/deny"))
	assert.Equal(t, http.StatusForbidden, f.do("operator", "", http.MethodGet, "/modules"))

	require.Equal(t, http.StatusNoContent, f.do("admin", "admin-token", http.MethodDelete, edge))
	assert.Equal(t, http.StatusForbidden, f.do("operator", "", http.MethodGet, "/modules"))

	// Without the CSRF header the operator cannot even reach enforcement.
	assert.Equal(t, http.StatusForbidden, f.do("operator", "", http.MethodPut, edge+"/grant"))

	closeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, f.recorder.Close(closeCtx))

	reasons := map[string]int{}
	for _, log := range f.logs.snapshot() {
		if log.EntityID != "2" || log.Entity != "permission:"+shared.PermModulesView {
			continue
		}
		reasons[log.Action+"/"+log.Meta["reason"].(string)]++
	}
	assert.Equal(t, 2, reasons["authz.deny/no_grant"])
	assert.Equal(t, 1, reasons["authz.allow/granted"])
	assert.Equal(t, 1, reasons["authz.deny/explicit_deny"])
	assert.Zero(t, f.recorder.Dropped())
	assert.NotEmpty(t, f.changes.snapshot(), "graph mutations are audited")
}
