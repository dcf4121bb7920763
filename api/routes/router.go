package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/risecheckout/payments-backend/api/controllers"
	ordercontrollers "github.com/risecheckout/payments-backend/api/controllers/orders"
	webhookcontrollers "github.com/risecheckout/payments-backend/api/controllers/webhooks"
	"github.com/risecheckout/payments-backend/api/middleware"
	"github.com/risecheckout/payments-backend/internal/gateways"
	"github.com/risecheckout/payments-backend/internal/lifecycle"
	internalorders "github.com/risecheckout/payments-backend/internal/orders"
	"github.com/risecheckout/payments-backend/pkg/config"
	dbpkg "github.com/risecheckout/payments-backend/pkg/db"
	"github.com/risecheckout/payments-backend/pkg/logger"
	"github.com/risecheckout/payments-backend/pkg/metrics"
	"github.com/risecheckout/payments-backend/pkg/outbox/idempotency"
	"github.com/risecheckout/payments-backend/pkg/redis"
)

// RouterParams carries everything the HTTP surface needs.
type RouterParams struct {
	Config         *config.Config
	Logger         *logger.Logger
	DB             *dbpkg.Client
	Redis          *redis.Client
	OrdersService  internalorders.Service
	Lifecycle      *lifecycle.Service
	ReplayGuard    *idempotency.Manager
	Adapters       []gateways.Adapter
	WebhookMetrics *metrics.WebhookMetrics
	Gatherer       prometheus.Gatherer
}

// NewRouter wires the checkout API, the gateway webhook endpoints, and the
// operational surfaces (health, metrics) onto one chi router.
func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, params.DB, params.Redis))
	})

	if params.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		for _, adapter := range params.Adapters {
			r.Post("/"+string(adapter.Gateway()), webhookcontrollers.Gateway(
				adapter,
				params.Lifecycle,
				params.ReplayGuard,
				params.WebhookMetrics,
				logg,
			))
		}
	})

	// Only writes are throttled; the checkout client polls the status
	// endpoint freely. A nil redis client leaves the throttle off.
	ordersLimiter := identityMiddleware
	if params.Redis != nil {
		policy := middleware.NewRateLimitPolicy("orders", cfg.RateLimit.Window, cfg.RateLimit.OrdersPerIP)
		ordersLimiter = middleware.RateLimit(policy, params.Redis, logg)
	}

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.With(ordersLimiter).Post("/", ordercontrollers.Create(params.OrdersService, logg))
		r.With(ordersLimiter).Post("/{orderId}/payment", ordercontrollers.SubmitPayment(params.OrdersService, logg))
		r.Get("/{orderId}/status", ordercontrollers.Status(params.OrdersService, logg))
	})

	return r
}

func identityMiddleware(next http.Handler) http.Handler {
	return next
}
