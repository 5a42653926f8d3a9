package users

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dersa/ecoquality/internal/platform/httpx"
	"github.com/dersa/ecoquality/internal/rbac"
	"github.com/dersa/ecoquality/internal/shared"
)

// Handler manages user management endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermUsersView, shared.PermUsersAssign))
		r.Get("/", h.listUsers)
		r.Get("/{id}/roles", h.listRoles)
		r.Get("/{id}/permissions", h.listPermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.PermUsersAssign))
		r.Put("/{id}/roles/{roleID}", h.assignRole)
		r.Delete("/{id}/roles/{roleID}", h.unassignRole)
	})
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.fail(w, "list users", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	access, ok := h.access(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": access.User.ID, "roles": access.Roles})
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	access, ok := h.access(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, access)
}

func (h *Handler) access(w http.ResponseWriter, r *http.Request) (Access, bool) {
	id, ok := rbac.PathID(w, r, "id")
	if !ok {
		return Access{}, false
	}
	access, err := h.service.Access(r.Context(), id)
	if err != nil {
		h.fail(w, "user access", err)
		return Access{}, false
	}
	return access, true
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, roleID, ok := h.assignmentIDs(w, r)
	if !ok {
		return
	}
	var actor int64
	if p, ok := rbac.PrincipalFromContext(r.Context()); ok {
		actor = p.ID
	}
	if err := h.service.AssignRole(r.Context(), userID, roleID, actor); err != nil {
		h.fail(w, "assign role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) unassignRole(w http.ResponseWriter, r *http.Request) {
	userID, roleID, ok := h.assignmentIDs(w, r)
	if !ok {
		return
	}
	if err := h.service.UnassignRole(r.Context(), userID, roleID); err != nil {
		h.fail(w, "unassign role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) assignmentIDs(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	userID, ok := rbac.PathID(w, r, "id")
	if !ok {
		return 0, 0, false
	}
	roleID, ok := rbac.PathID(w, r, "roleID")
	if !ok {
		return 0, 0, false
	}
	return userID, roleID, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Warn(op, slog.Any("error", err))
	}
	rbac.RespondError(w, err)
}
