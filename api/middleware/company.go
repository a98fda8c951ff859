package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/fieldops-backend/api/responses"
	pkgerrors "github.com/angelmondragon/fieldops-backend/pkg/errors"
	"github.com/angelmondragon/fieldops-backend/pkg/logger"
)

const companyIDHeader = "X-Company-Id"

type companyCtxKey struct{}

func CompanyIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(companyCtxKey{}).(string)
	return id
}

func WithCompanyID(ctx context.Context, companyID string) context.Context {
	return context.WithValue(ctx, companyCtxKey{}, companyID)
}

// CompanyContext scopes every request to the company named by the X-Company-Id header.
func CompanyContext(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(companyIDHeader))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "company context missing"))
				return
			}
			companyID, err := uuid.Parse(raw)
			if err != nil || companyID == uuid.Nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "company context invalid"))
				return
			}

			ctx := WithCompanyID(r.Context(), companyID.String())
			if logg != nil {
				ctx = logg.WithCompanyID(ctx, companyID.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
