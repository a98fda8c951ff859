package validators

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/fieldops-backend/pkg/errors"
)

const maxParamLen = 64

// ParseUUIDParam reads the named chi URL parameter as a non-nil uuid.
func ParseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	details := map[string]any{"field": name}
	switch {
	case raw == "":
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "path parameter required").WithDetails(details)
	case len(raw) > maxParamLen:
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "path parameter too long").WithDetails(details)
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "path parameter must be a uuid").WithDetails(details)
	}
	return id, nil
}
