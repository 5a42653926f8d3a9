package audithttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/dersa/ecoquality/internal/platform/httpx"
	"github.com/dersa/ecoquality/internal/rbac"
	"github.com/dersa/ecoquality/internal/shared"
)

// Exports scan the whole window, so they get their own budget per principal.
const (
	exportsPerWindow = 10
	exportWindow     = time.Minute
)

// MountRoutes registers the audit timeline, the decision log and their CSV
// exports. Reading decisions also needs roles visibility since rows carry
// role keys.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	exportLimit := httprate.Limit(exportsPerWindow, exportWindow,
		httprate.WithKeyFuncs(principalKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "export limit reached")
		}),
	)
	r.Route("/audit", func(r chi.Router) {
		r.With(h.rbac.Require(shared.PermAuditView)).Group(func(r chi.Router) {
			r.Get("/timeline", h.timeline)
			r.With(exportLimit).Get("/export.csv", h.exportTimeline)
		})
		r.With(h.rbac.RequireAll(shared.PermAuditView, shared.PermRolesView)).Group(func(r chi.Router) {
			r.Get("/decisions", h.decisions)
			r.With(exportLimit).Get("/decisions/export.csv", h.exportDecisions)
		})
	})
}

func principalKey(r *http.Request) (string, error) {
	if p, ok := rbac.PrincipalFromContext(r.Context()); ok {
		return "principal:" + strconv.FormatInt(p.ID, 10), nil
	}
	ip, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + ip, nil
}
