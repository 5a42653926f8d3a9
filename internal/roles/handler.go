package roles

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/dersa/ecoquality/internal/platform/httpx"
	"github.com/dersa/ecoquality/internal/rbac"
	"github.com/dersa/ecoquality/internal/shared"
)

// Handler manages role management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermRolesView, shared.PermRolesManage))
		r.Get("/", h.listRoles)
		r.Get("/{id}", h.getRole)
		r.Get("/{id}/permissions", h.listPermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.PermRolesManage))
		r.Post("/", h.createRole)
		r.Patch("/{id}", h.updateRole)
		r.Delete("/{id}", h.deleteRole)
		r.Put("/{id}/permissions/{permissionID}/grant", h.grant)
		r.Put("/{id}/permissions/{permissionID}/deny", h.deny)
		r.Delete("/{id}/permissions/{permissionID}", h.revoke)
	})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := rbac.PathID(w, r, "id")
	if !ok {
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, "get role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := rbac.PathID(w, r, "id")
	if !ok {
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, "list role permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": role.Permissions})
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !rbac.DecodeAndValidate(w, r, h.validator, &req) {
		return
	}
	role, err := h.service.CreateRole(r.Context(), req.Key, req.DisplayName)
	if err != nil {
		h.fail(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := rbac.PathID(w, r, "id")
	if !ok {
		return
	}
	var req updateRoleRequest
	if !rbac.DecodeAndValidate(w, r, h.validator, &req) {
		return
	}
	role, err := h.service.UpdateRole(r.Context(), id, req.DisplayName, *req.Active)
	if err != nil {
		h.fail(w, "update role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := rbac.PathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteRole(r.Context(), id); err != nil {
		h.fail(w, "delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	h.setPermission(w, r, true)
}

func (h *Handler) deny(w http.ResponseWriter, r *http.Request) {
	h.setPermission(w, r, false)
}

func (h *Handler) setPermission(w http.ResponseWriter, r *http.Request, granted bool) {
	roleID, ok := rbac.PathID(w, r, "id")
	if !ok {
		return
	}
	permissionID, ok := rbac.PathID(w, r, "permissionID")
	if !ok {
		return
	}
	edge, err := h.service.SetPermission(r.Context(), roleID, permissionID, granted)
	if err != nil {
		h.fail(w, "set role permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, edge)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	roleID, ok := rbac.PathID(w, r, "id")
	if !ok {
		return
	}
	permissionID, ok := rbac.PathID(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.service.RevokePermission(r.Context(), roleID, permissionID); err != nil {
		h.fail(w, "revoke role permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Warn(op, slog.Any("error", err))
	}
	rbac.RespondError(w, err)
}
