package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/dersa/ecoquality/internal/jobs"
	"github.com/dersa/ecoquality/internal/rbac"
	"github.com/dersa/ecoquality/internal/shared"
)

type stubLogStore struct {
	logs []shared.AuditLog
	err  error
}

func (s *stubLogStore) Record(ctx context.Context, log shared.AuditLog) error {
	s.logs = append(s.logs, log)
	return s.err
}

func TestDecisionJobPersists(t *testing.T) {
	store := &stubLogStore{}
	job := NewDecisionJob(store, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewDecisionTask(rbac.Decision{PrincipalID: 4, Permission: "waste.record.view", Allowed: true, Reason: rbac.ReasonGranted})
	require.NoError(t, err)
	assert.Equal(t, TaskAuditDecision, task.Type())

	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, store.logs, 1)
	assert.Equal(t, "authz.allow", store.logs[0].Action)
	assert.Equal(t, "permission:waste.record.view", store.logs[0].Entity)
}

func TestDecisionJobBadPayloadSkipsRetry(t *testing.T) {
	job := NewDecisionJob(&stubLogStore{}, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskAuditDecision, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestDecisionJobStoreErrorRetries(t *testing.T) {
	job := NewDecisionJob(&stubLogStore{err: errors.New("db down")}, nil, nil)
	task, err := NewDecisionTask(rbac.Decision{PrincipalID: 1})
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

type stubExecer struct {
	sql  string
	args []any
}

func (s *stubExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.sql = sql
	s.args = args
	return pgconn.NewCommandTag("DELETE 3"), nil
}

func TestAuditPruneUsesRetention(t *testing.T) {
	db := &stubExecer{}
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	job := NewAuditPruneJob(db, nil, metrics)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	job.clock = func() time.Time { return now }

	task, err := NewAuditPruneTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Contains(t, db.sql, "authz.%")
	require.Len(t, db.args, 1)
	assert.Equal(t, now.Add(-48*time.Hour), db.args[0])

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskAuditPrune, []byte(`{}`))))
	assert.Equal(t, now.Add(-defaultAuditRetention), db.args[0])
	assert.Equal(t, 6.0, testutil.ToFloat64(metrics.DecisionsPruned))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Runs.WithLabelValues(TaskAuditPrune, "success")))
}

type stubInspector struct {
	infos map[string]*asynq.QueueInfo
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	info, ok := s.infos[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestHealthReportsQueues(t *testing.T) {
	ctx := context.Background()
	svc := rbac.NewService(rbac.NewMemoryStore())
	_, err := rbac.Bootstrap(ctx, svc, rbac.DefaultCatalog())
	require.NoError(t, err)
	admin, err := svc.GetRoleByKey(ctx, "admin")
	require.NoError(t, err)
	require.NoError(t, svc.AssignRole(ctx, 1, admin.ID, 0))
	mw := rbac.Middleware{Service: svc, Resolve: func(*http.Request) (int64, bool) { return 1, true }}

	h := NewHandler(stubInspector{infos: map[string]*asynq.QueueInfo{QueueAudit: {Queue: QueueAudit, Pending: 4}}}, nil, mw)
	r := chi.NewRouter()
	r.Route("/jobs", h.MountRoutes)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Queues []queueHealth `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Queues, 2)
	assert.Equal(t, 4, body.Queues[0].Pending)
	assert.Equal(t, QueueDefault, body.Queues[1].Queue)
}
