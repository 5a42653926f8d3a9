package rbac

import (
	"errors"
	"net/http"

	"github.com/dersa/ecoquality/internal/platform/httpx"
)

var (
	// ErrDuplicateKey indicates a catalog key is already registered.
	ErrDuplicateKey = errors.New("rbac: duplicate key")
	// ErrUnknownModule indicates the referenced module does not exist.
	ErrUnknownModule = errors.New("rbac: unknown module")
	// ErrUnknownPermission indicates the referenced permission does not exist.
	ErrUnknownPermission = errors.New("rbac: unknown permission")
	// ErrUnknownRole indicates the referenced role does not exist.
	ErrUnknownRole = errors.New("rbac: unknown role")
	// ErrUnknownUser indicates the assigned or assigning user does not exist.
	ErrUnknownUser = errors.New("rbac: unknown user")
	// ErrProtectedRole is returned when deleting or renaming a system role.
	ErrProtectedRole = errors.New("rbac: system role is protected")
	// ErrModuleInUse is returned when deleting a module that still owns permissions.
	ErrModuleInUse = errors.New("rbac: module still referenced by permissions")
	// ErrInvalidKey indicates a malformed catalog key.
	ErrInvalidKey = errors.New("rbac: invalid key")
)

// RespondError writes the problem response for catalog management errors.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownModule), errors.Is(err, ErrUnknownPermission), errors.Is(err, ErrUnknownRole), errors.Is(err, ErrUnknownUser):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicateKey):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrProtectedRole), errors.Is(err, ErrModuleInUse):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrInvalidKey):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
