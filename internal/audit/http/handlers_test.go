package audithttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dersa/ecoquality/internal/audit"
	"github.com/dersa/ecoquality/internal/rbac"
)

type stubTimelineService struct {
	result      audit.Result
	exportRows  []audit.TimelineRow
	lastFilters audit.TimelineFilters
}

func (s *stubTimelineService) Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, nil
}

func (s *stubTimelineService) Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error) {
	s.lastFilters = filters
	return s.exportRows, nil
}

func newAuditRouter(t *testing.T, service *stubTimelineService, roleKey string) http.Handler {
	t.Helper()
	ctx := context.Background()
	svc := rbac.NewService(rbac.NewMemoryStore())
	_, err := rbac.Bootstrap(ctx, svc, rbac.DefaultCatalog())
	require.NoError(t, err)
	role, err := svc.GetRoleByKey(ctx, roleKey)
	require.NoError(t, err)
	require.NoError(t, svc.AssignRole(ctx, 1, role.ID, 0))

	mw := rbac.Middleware{Service: svc, Resolve: func(*http.Request) (int64, bool) { return 1, true }}
	handler := NewHandler(nil, service, mw)
	handler.now = func() time.Time { return time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	handler.MountRoutes(r)
	return r
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestTimelineRequiresPermission(t *testing.T) {
	service := &stubTimelineService{}
	rr := get(newAuditRouter(t, service, "quality_technician"), "/audit/timeline")
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestTimelineReturnsRows(t *testing.T) {
	rows := []audit.TimelineRow{{At: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC), Actor: "admin@dersa.example", Action: "role.grant", Entity: "roles", EntityID: "1"}}
	service := &stubTimelineService{result: audit.Result{Rows: rows, Paging: audit.PagingInfo{Page: 1, PageSize: 20}}}
	rr := get(newAuditRouter(t, service, "admin"), "/audit/timeline?action=role.&page_size=200")
	require.Equal(t, http.StatusOK, rr.Code)

	var got audit.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got.Rows, 1)
	assert.Equal(t, "role.grant", got.Rows[0].Action)
	assert.Equal(t, "role.", service.lastFilters.Action)
	assert.Equal(t, maxPageSize, service.lastFilters.PageSize)
	assert.Equal(t, time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), service.lastFilters.From)
}

func TestTimelineRejectsBadRange(t *testing.T) {
	service := &stubTimelineService{}
	h := newAuditRouter(t, service, "admin")
	assert.Equal(t, http.StatusBadRequest, get(h, "/audit/timeline?from=2026-03-20&to=2026-03-01").Code)
	assert.Equal(t, http.StatusBadRequest, get(h, "/audit/timeline?from=2025-01-01&to=2026-03-01").Code)
	assert.Equal(t, http.StatusBadRequest, get(h, "/audit/timeline?page=0").Code)
}

func TestExportCSV(t *testing.T) {
	service := &stubTimelineService{exportRows: []audit.TimelineRow{{At: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC), ActorID: 1, Action: "authz.deny", Entity: "permission:quality.test.approve", EntityID: "1"}}}
	rr := get(newAuditRouter(t, service, "admin"), "/audit/export.csv")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rr.Body.String(), "at,actor_id,actor,action"))
	assert.Contains(t, rr.Body.String(), "authz.deny")
}

func TestDecisionsPinsAuthzAction(t *testing.T) {
	service := &stubTimelineService{result: audit.Result{Rows: []audit.TimelineRow{}}}
	h := newAuditRouter(t, service, "admin")

	rr := get(h, "/audit/decisions?decision=DENY&permission=%20Quality.Test.Approve")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "authz.deny", service.lastFilters.Action)
	assert.Equal(t, "permission:quality.test.approve", service.lastFilters.Entity)

	rr = get(h, "/audit/decisions?action=role.")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "authz.", service.lastFilters.Action)
}

func TestDecisionsRejectsUnknownDecision(t *testing.T) {
	service := &stubTimelineService{}
	rr := get(newAuditRouter(t, service, "admin"), "/audit/decisions?decision=maybe")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid decision")
}

func TestDecisionsRequireRolesVisibility(t *testing.T) {
	service := &stubTimelineService{}
	rr := get(newAuditRouter(t, service, "environment_manager"), "/audit/decisions")
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestDecisionsExportFilename(t *testing.T) {
	service := &stubTimelineService{}
	rr := get(newAuditRouter(t, service, "admin"), "/audit/decisions/export.csv?decision=allow")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, `attachment; filename="authz-decisions.csv"`, rr.Header().Get("Content-Disposition"))
	assert.Equal(t, "authz.allow", service.lastFilters.Action)
}

func TestParseFiltersDefaults(t *testing.T) {
	now := time.Date(2026, 3, 15, 17, 30, 0, 0, time.UTC)
	f, err := parseFilters(url.Values{}, now, false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), f.To)
	assert.Equal(t, time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), f.From)
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, defaultPageSize, f.PageSize)

	_, err = parseFilters(url.Values{"to": {"15-03-2026"}}, now, false)
	assert.EqualError(t, err, "invalid to")
}
