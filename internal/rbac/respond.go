package rbac

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
)

// RespondError renders an engine error as a problem response. Denials share one
// generic body; unexpected errors are logged and rendered without detail.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	httpx.RespondError(w, TransportError(logger, err))
}

// TransportError maps engine errors onto httpx sentinels.
func TransportError(logger *slog.Logger, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnauthorized):
		return httpx.ErrUnauthorized
	case errors.Is(err, ErrForbidden):
		return httpx.ErrForbidden
	case errors.Is(err, ErrRoleNotFound):
		return fmt.Errorf("%w: role", httpx.ErrNotFound)
	case errors.Is(err, ErrUnknownPermission),
		errors.Is(err, ErrInvalidRole),
		errors.Is(err, ErrCrossTenantAssignment),
		errors.Is(err, audit.ErrInvalidFilter):
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	case errors.Is(err, ErrDuplicateRoleName),
		errors.Is(err, ErrDuplicateAssignment),
		errors.Is(err, ErrRoleInUse),
		errors.Is(err, ErrDefaultRoleProtected),
		errors.Is(err, ErrTenantProvisioned),
		errors.Is(err, ErrTenantNotProvisioned):
		return fmt.Errorf("%w: %v", httpx.ErrConflict, err)
	case errors.Is(err, ErrUnavailable):
		return httpx.ErrUnavailable
	}
	orDefault(logger).Error("authz request failed", slog.Any("error", err))
	return err
}
