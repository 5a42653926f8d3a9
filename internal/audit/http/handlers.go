package audithttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dersa/ecoquality/internal/audit"
	"github.com/dersa/ecoquality/internal/platform/httpx"
	"github.com/dersa/ecoquality/internal/rbac"
)

const (
	dayLayout        = "2006-01-02"
	defaultPageSize  = 20
	maxPageSize      = 50
	defaultLookback  = 7 * 24 * time.Hour
	maxLookback      = 90 * 24 * time.Hour
	decisionAction   = "authz."
	exportFilename   = "audit-timeline.csv"
	decisionFilename = "authz-decisions.csv"
)

// TimelineService reads audit_logs for the HTTP surface.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
	Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error)
}

// Handler serves the audit timeline and the authorization decision log.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
	rbac    rbac.Middleware
	now     func() time.Time
}

// NewHandler creates the audit handler.
func NewHandler(logger *slog.Logger, service TimelineService, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, now: time.Now}
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	h.page(w, r, false)
}

func (h *Handler) decisions(w http.ResponseWriter, r *http.Request) {
	h.page(w, r, true)
}

func (h *Handler) exportTimeline(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, false, exportFilename)
}

func (h *Handler) exportDecisions(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, true, decisionFilename)
}

func (h *Handler) page(w http.ResponseWriter, r *http.Request, onlyDecisions bool) {
	filters, ok := h.filters(w, r, onlyDecisions)
	if !ok {
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.internal(w, "audit timeline", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request, onlyDecisions bool, filename string) {
	filters, ok := h.filters(w, r, onlyDecisions)
	if !ok {
		return
	}
	rows, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.internal(w, "audit export", err)
		return
	}
	body, err := audit.WriteCSV(rows)
	if err != nil {
		h.internal(w, "audit export encode", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if _, err := w.Write(body); err != nil {
		h.logger.Warn("audit export write", slog.Any("error", err))
	}
}

func (h *Handler) filters(w http.ResponseWriter, r *http.Request, onlyDecisions bool) (audit.TimelineFilters, bool) {
	filters, err := parseFilters(r.URL.Query(), h.now().UTC(), onlyDecisions)
	if err == nil {
		return filters, true
	}
	var fe fieldError
	if errors.As(err, &fe) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", fe.Error())
		return audit.TimelineFilters{}, false
	}
	h.internal(w, "audit filters", err)
	return audit.TimelineFilters{}, false
}

func (h *Handler) internal(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, slog.Any("error", err))
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

// parseFilters reads the window, the paging and the row filters. With
// onlyDecisions the action is pinned to authorization decisions and the
// decision and permission parameters are honoured.
func parseFilters(q url.Values, now time.Time, onlyDecisions bool) (audit.TimelineFilters, error) {
	to, err := day(q, "to", now)
	if err != nil {
		return audit.TimelineFilters{}, err
	}
	from, err := day(q, "from", to.Add(-defaultLookback))
	if err != nil {
		return audit.TimelineFilters{}, err
	}
	if from.After(to) || to.Sub(from) > maxLookback {
		return audit.TimelineFilters{}, fieldError("range")
	}
	page, err := positive(q, "page", 1)
	if err != nil {
		return audit.TimelineFilters{}, err
	}
	size, err := positive(q, "page_size", defaultPageSize)
	if err != nil {
		return audit.TimelineFilters{}, err
	}
	filters := audit.TimelineFilters{
		From:     from,
		To:       to,
		Actor:    strings.TrimSpace(q.Get("actor")),
		Entity:   strings.TrimSpace(q.Get("entity")),
		Action:   strings.TrimSpace(q.Get("action")),
		Page:     page,
		PageSize: min(size, maxPageSize),
	}
	if !onlyDecisions {
		return filters, nil
	}
	filters.Action = decisionAction
	switch strings.ToLower(strings.TrimSpace(q.Get("decision"))) {
	case "":
	case "allow":
		filters.Action = decisionAction + "allow"
	case "deny":
		filters.Action = decisionAction + "deny"
	default:
		return audit.TimelineFilters{}, fieldError("decision")
	}
	if perm := rbac.NormalizeKey(q.Get("permission")); perm != "" {
		filters.Entity = "permission:" + perm
	}
	return filters, nil
}

func day(q url.Values, name string, fallback time.Time) (time.Time, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return fallback.Truncate(24 * time.Hour), nil
	}
	t, err := time.Parse(dayLayout, raw)
	if err != nil {
		return time.Time{}, fieldError(name)
	}
	return t, nil
}

func positive(q url.Values, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fieldError(name)
	}
	return n, nil
}

type fieldError string

func (e fieldError) Error() string { return "invalid " + string(e) }
