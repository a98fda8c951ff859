package middleware

import (
	"net/http"
	"slices"

	"github.com/go-chi/cors"
)

var (
	corsMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}
	corsHeaders = []string{"Accept", "Content-Type", companyIDHeader, idempotencyHeader, requestIDHeader}
	corsExposed = []string{requestIDHeader, replayedHeader, "Retry-After"}
)

// CORS allows the configured origins. Credentials are only allowed when no wildcard
// origin is configured.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   corsMethods,
		AllowedHeaders:   corsHeaders,
		ExposedHeaders:   corsExposed,
		AllowCredentials: !slices.Contains(origins, "*"),
		MaxAge:           600,
	}).Handler
}
