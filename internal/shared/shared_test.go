package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureExec struct {
	sql  string
	args []any
}

func (c *captureExec) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.sql, c.args = sql, args
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestAuditLoggerDefaultsTimestamp(t *testing.T) {
	db := &captureExec{}
	logger := NewAuditLogger(db)
	require.NoError(t, logger.Record(context.Background(), AuditLog{Action: "role.create", Entity: "roles", EntityID: "4"}))
	require.Len(t, db.args, 6)
	assert.Equal(t, []byte(`{}`), db.args[4])
	assert.False(t, db.args[5].(pgtype.Timestamptz).Valid)

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, logger.Record(context.Background(), AuditLog{Action: "authz.deny", Entity: "permission:x.y", EntityID: "0", At: at}))
	assert.Equal(t, pgtype.Timestamptz{Time: at, Valid: true}, db.args[5])
}

func TestAuditLoggerValidates(t *testing.T) {
	assert.Error(t, NewAuditLogger(&captureExec{}).Record(context.Background(), AuditLog{Action: "x"}))
	var nilLogger *AuditLogger
	assert.Error(t, nilLogger.Record(context.Background(), AuditLog{Action: "x", Entity: "y", EntityID: "1"}))
}

func newSessionManager(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "sid", time.Hour, false), mr
}

func roundTrip(t *testing.T, sm *SessionManager, cookie string, fn func(*Session)) (*Session, *httptest.ResponseRecorder) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: "sid", Value: cookie})
	}
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	if fn != nil {
		fn(sess)
	}
	rr := httptest.NewRecorder()
	require.NoError(t, sm.Commit(context.Background(), rr, req, sess))
	return sess, rr
}

func TestSessionPersistsOnlyWhenUsed(t *testing.T) {
	sm, mr := newSessionManager(t)
	_, rr := roundTrip(t, sm, "", nil)
	assert.Empty(t, rr.Result().Cookies())
	assert.Empty(t, mr.Keys())

	sess, rr := roundTrip(t, sm, "", func(s *Session) { s.SetUser("9") })
	require.Len(t, rr.Result().Cookies(), 1)
	assert.True(t, mr.Exists("session:"+sess.ID))

	loaded, _ := roundTrip(t, sm, sess.ID, nil)
	assert.Equal(t, "9", loaded.User())
	assert.Equal(t, sess.ID, loaded.ID)
}

func TestSessionUnknownCookieGetsFreshID(t *testing.T) {
	sm, _ := newSessionManager(t)
	sess, _ := roundTrip(t, sm, "attacker-chosen", func(s *Session) { s.Set("k", "v") })
	assert.NotEqual(t, "attacker-chosen", sess.ID)
}

func TestSessionRenewRetiresOldID(t *testing.T) {
	sm, mr := newSessionManager(t)
	first, _ := roundTrip(t, sm, "", func(s *Session) { s.Set(CSRFSessionKey, "tok") })
	renewed, _ := roundTrip(t, sm, first.ID, func(s *Session) {
		sm.Renew(s)
		s.SetUser("3")
	})
	assert.NotEqual(t, first.ID, renewed.ID)
	assert.False(t, mr.Exists("session:"+first.ID))
	assert.True(t, mr.Exists("session:"+renewed.ID))
	assert.Equal(t, "tok", renewed.Get(CSRFSessionKey))
}

func TestSessionDestroyClearsCookie(t *testing.T) {
	sm, mr := newSessionManager(t)
	sess, _ := roundTrip(t, sm, "", func(s *Session) { s.SetUser("1") })
	_, rr := roundTrip(t, sm, sess.ID, func(s *Session) { sm.Destroy(s) })
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
	assert.False(t, mr.Exists("session:"+sess.ID))
}

func TestCSRFTokenLifecycle(t *testing.T) {
	m := NewCSRFManager("secret")
	sess := &Session{ID: "s1", values: map[string]string{}}
	token, err := m.EnsureToken(context.Background(), sess)
	require.NoError(t, err)
	again, err := m.EnsureToken(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, token, again)

	assert.NoError(t, m.VerifyToken(context.Background(), sess, token))
	assert.ErrorIs(t, m.VerifyToken(context.Background(), sess, "forged"), ErrCSRFTokenMismatch)
	assert.ErrorIs(t, m.VerifyToken(context.Background(), sess, ""), ErrCSRFTokenMissing)
	assert.ErrorIs(t, m.VerifyToken(context.Background(), nil, token), ErrCSRFTokenMissing)
}
