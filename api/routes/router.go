package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/fieldops-backend/api/controllers"
	"github.com/angelmondragon/fieldops-backend/api/middleware"
	"github.com/angelmondragon/fieldops-backend/internal/changeorders"
	"github.com/angelmondragon/fieldops-backend/internal/invoices"
	"github.com/angelmondragon/fieldops-backend/internal/quotes"
	"github.com/angelmondragon/fieldops-backend/internal/templates"
	"github.com/angelmondragon/fieldops-backend/pkg/config"
	"github.com/angelmondragon/fieldops-backend/pkg/logger"
	"github.com/angelmondragon/fieldops-backend/pkg/metrics"
	"github.com/angelmondragon/fieldops-backend/pkg/redis"
)

// redisStore is the slice of the redis client the HTTP layer relies on.
type redisStore interface {
	redis.Pinger
	redis.IdempotencyStore
	redis.RateLimiter
}

// NewRouter wires the quote store API.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	gatherer prometheus.Gatherer,
	httpMetrics *metrics.HTTPMetrics,
	dbP controllers.Pinger,
	redisClient redisStore,
	quoteService quotes.Service,
	invoiceService invoices.Service,
	changeOrderService changeorders.Service,
	templateService templates.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Recoverer(logg),
		middleware.Logging(logg, httpMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	writePolicy := middleware.NewRateLimitPolicy(
		"writes",
		cfg.App.WriteRateWindow,
		cfg.App.WriteRateCompanyLimit,
		cfg.App.WriteRateIPLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"database": dbP,
			"redis":    redisClient,
		}))
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(
			middleware.CompanyContext(logg),
			middleware.RateLimit(writePolicy, redisClient, logg),
			middleware.Idempotency(redisClient, logg),
		)

		r.Route("/v1", func(r chi.Router) {
			r.Route("/quotes", func(r chi.Router) {
				r.Put("/", controllers.QuoteUpsert(quoteService, logg))
				r.Get("/{quoteId}", controllers.QuoteGet(quoteService, logg))
				r.Get("/{quoteId}/invoice", controllers.InvoiceGet(invoiceService, logg))
				r.Post("/{quoteId}/invoice", controllers.InvoiceCreate(invoiceService, logg))
			})
			r.Route("/change-orders", func(r chi.Router) {
				r.Post("/", controllers.ChangeOrderUpsert(changeOrderService, logg))
				r.Delete("/{changeOrderId}", controllers.ChangeOrderDiscard(changeOrderService, logg))
				r.Post("/{changeOrderId}/accept", controllers.ChangeOrderAccept(changeOrderService, logg))
			})
			r.Get("/deals/{dealId}/change-orders", controllers.ChangeOrderListByDeal(changeOrderService, logg))
			r.Get("/product-templates", controllers.ProductTemplateList(templateService, logg))
		})
	})

	return r
}
