package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dersa/ecoquality/internal/shared"
)

// ReasonNoPrincipal marks requests without an authenticated principal.
const ReasonNoPrincipal Reason = "no_principal"

// DecisionSink receives every enforcement decision. Implementations must
// not block the request.
type DecisionSink interface {
	Record(ctx context.Context, d Decision)
}

// DecisionObserver counts decisions, typically for metrics.
type DecisionObserver interface {
	ObserveDecision(d Decision)
}

// PrincipalResolver extracts the principal id of the current request.
type PrincipalResolver func(r *http.Request) (int64, bool)

// ActiveCheck reports whether a resolved principal may still act.
type ActiveCheck func(ctx context.Context, principalID int64) (bool, error)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Service  *Service
	Logger   *slog.Logger
	Audit    DecisionSink
	Observer DecisionObserver
	// Resolve defaults to the session-bound user id.
	Resolve PrincipalResolver
	// Active, when set, rejects deactivated principals whose sessions are
	// still alive. Lookup errors reject too.
	Active ActiveCheck
}

// Require ensures the current user holds the permission.
func (m Middleware) Require(perm string) func(http.Handler) http.Handler {
	return m.enforce([]string{perm}, true)
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.enforce(perms, false)
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.enforce(perms, true)
}

func (m Middleware) enforce(perms []string, all bool) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			ctx := WithRequestMemo(r.Context())
			principalID, ok := m.resolve(r)
			if !ok {
				m.record(ctx, r, Decision{Permission: normalized[0], Reason: ReasonNoPrincipal})
				forbidden(w)
				return
			}
			allowed := all
			var roles []string
			for _, perm := range normalized {
				d, err := m.Service.Decide(ctx, principalID, perm)
				if err != nil {
					m.logger().Error("rbac decide", slog.Int64("principal_id", principalID), slog.String("permission", perm), slog.Any("error", err))
				}
				m.record(ctx, r, d)
				roles = d.Roles
				if all && !d.Allowed {
					allowed = false
					break
				}
				if !all && d.Allowed {
					allowed = true
					break
				}
			}
			if !allowed {
				forbidden(w)
				return
			}
			ctx = ContextWithPrincipal(ctx, Principal{ID: principalID, Roles: roles})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Authenticated ensures a principal is present without checking permissions.
func (m Middleware) Authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principalID, ok := m.resolve(r)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		ctx := WithRequestMemo(r.Context())
		ctx = ContextWithPrincipal(ctx, Principal{ID: principalID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m Middleware) resolve(r *http.Request) (int64, bool) {
	resolve := m.Resolve
	if resolve == nil {
		resolve = m.sessionPrincipal
	}
	id, ok := resolve(r)
	if !ok || m.Active == nil {
		return id, ok
	}
	active, err := m.Active(r.Context(), id)
	if err != nil {
		m.logger().Error("rbac active check", slog.Int64("principal_id", id), slog.Any("error", err))
		return 0, false
	}
	return id, active
}

func (m Middleware) sessionPrincipal(r *http.Request) (int64, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		m.logger().Error("rbac parse user id", slog.String("value", raw))
		return 0, false
	}
	return id, true
}

func (m Middleware) record(ctx context.Context, r *http.Request, d Decision) {
	d.Method = r.Method
	d.Path = r.URL.Path
	d.RequestID = chimw.GetReqID(ctx)
	if d.CheckedAt.IsZero() && m.Service != nil {
		d.CheckedAt = m.Service.now().UTC()
	}
	if m.Observer != nil {
		m.Observer.ObserveDecision(d)
	}
	if m.Audit != nil {
		m.Audit.Record(ctx, d)
	}
	if !d.Allowed {
		m.logger().Debug("rbac denied",
			slog.Int64("principal_id", d.PrincipalID),
			slog.String("permission", d.Permission),
			slog.String("reason", string(d.Reason)))
	}
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func forbidden(w http.ResponseWriter) {
	http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
}

func normalizePermissions(perms []string) []string {
	seen := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = NormalizeKey(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
