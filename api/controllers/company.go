package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/fieldops-backend/api/middleware"
	pkgerrors "github.com/angelmondragon/fieldops-backend/pkg/errors"
)

func companyID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.CompanyIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "company context missing")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeForbidden, err, "invalid company id")
	}
	return id, nil
}
