package rbac

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/dersa/ecoquality/internal/platform/httpx"
	"github.com/dersa/ecoquality/internal/shared"
)

// CatalogHandler exposes the module registry and the permission catalog.
type CatalogHandler struct {
	logger    *slog.Logger
	service   *Service
	rbac      Middleware
	validator *validator.Validate
}

// NewCatalogHandler builds CatalogHandler instance.
func NewCatalogHandler(logger *slog.Logger, service *Service, rbac Middleware) *CatalogHandler {
	return &CatalogHandler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountModuleRoutes registers module routes.
func (h *CatalogHandler) MountModuleRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermModulesView, shared.PermModulesManage))
		r.Get("/", h.listModules)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.PermModulesManage))
		r.Post("/", h.createModule)
		r.Patch("/{id}", h.updateModule)
		r.Delete("/{id}", h.deleteModule)
	})
}

// MountPermissionRoutes registers permission routes.
func (h *CatalogHandler) MountPermissionRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermPermissionsView, shared.PermPermissionsManage))
		r.Get("/", h.listPermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.PermPermissionsManage))
		r.Post("/", h.createPermission)
		r.Patch("/{id}", h.updatePermission)
		r.Delete("/{id}", h.deletePermission)
	})
}

type createModuleRequest struct {
	Key         string `json:"key" validate:"required,max=64"`
	DisplayName string `json:"display_name" validate:"max=128"`
}

type createPermissionRequest struct {
	Key         string `json:"key" validate:"required,max=128"`
	DisplayName string `json:"display_name" validate:"max=128"`
	ModuleID    int64  `json:"module_id" validate:"required,gt=0"`
}

type activeRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func (h *CatalogHandler) listModules(w http.ResponseWriter, r *http.Request) {
	modules, err := h.service.ListModules(r.Context())
	if err != nil {
		h.fail(w, "list modules", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"modules": modules})
}

func (h *CatalogHandler) createModule(w http.ResponseWriter, r *http.Request) {
	var req createModuleRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.service.RegisterModule(r.Context(), req.Key, req.DisplayName)
	if err != nil {
		h.fail(w, "create module", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *CatalogHandler) updateModule(w http.ResponseWriter, r *http.Request) {
	id, ok := PathID(w, r, "id")
	if !ok {
		return
	}
	var req activeRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.service.SetModuleActive(r.Context(), id, *req.Active)
	if err != nil {
		h.fail(w, "update module", err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *CatalogHandler) deleteModule(w http.ResponseWriter, r *http.Request) {
	id, ok := PathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteModule(r.Context(), id); err != nil {
		h.fail(w, "delete module", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CatalogHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.fail(w, "list permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *CatalogHandler) createPermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.service.RegisterPermission(r.Context(), req.Key, req.DisplayName, req.ModuleID)
	if err != nil {
		h.fail(w, "create permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *CatalogHandler) updatePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := PathID(w, r, "id")
	if !ok {
		return
	}
	var req activeRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.service.SetPermissionActive(r.Context(), id, *req.Active)
	if err != nil {
		h.fail(w, "update permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *CatalogHandler) deletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := PathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.DeletePermission(r.Context(), id); err != nil {
		h.fail(w, "delete permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CatalogHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	return DecodeAndValidate(w, r, h.validator, dst)
}

func (h *CatalogHandler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Warn(op, slog.Any("error", err))
	}
	RespondError(w, err)
}

// DecodeAndValidate decodes a JSON body into dst and validates it. On
// failure it writes a 400 problem and returns false.
func DecodeAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return false
	}
	if err := v.Struct(dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

// PathID parses a positive int64 URL parameter. On failure it writes a
// 400 problem and returns false.
func PathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+name)
		return 0, false
	}
	return id, true
}
