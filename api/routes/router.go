package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prasit-dev/slipgate-backend/api/controllers"
	devicecontrollers "github.com/prasit-dev/slipgate-backend/api/controllers/devices"
	ordercontrollers "github.com/prasit-dev/slipgate-backend/api/controllers/orders"
	paymentcontrollers "github.com/prasit-dev/slipgate-backend/api/controllers/payments"
	webhookcontrollers "github.com/prasit-dev/slipgate-backend/api/controllers/webhooks"
	"github.com/prasit-dev/slipgate-backend/api/middleware"
	"github.com/prasit-dev/slipgate-backend/internal/devices"
	"github.com/prasit-dev/slipgate-backend/internal/matching"
	"github.com/prasit-dev/slipgate-backend/internal/orders"
	"github.com/prasit-dev/slipgate-backend/internal/payments"
	"github.com/prasit-dev/slipgate-backend/pkg/config"
	"github.com/prasit-dev/slipgate-backend/pkg/db"
	"github.com/prasit-dev/slipgate-backend/pkg/enums"
	"github.com/prasit-dev/slipgate-backend/pkg/logger"
	"github.com/prasit-dev/slipgate-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbPinger db.Pinger,
	redisClient *redis.Client,
	registry *prometheus.Registry,
	ordersSvc orders.Service,
	paymentsSvc payments.Service,
	matchingSvc matching.Service,
	devicesSvc devices.Service,
	gatewaySvc webhookcontrollers.GatewayWebhookService,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	ingestPolicy := middleware.NewIngestRateLimitPolicy(
		"ingest",
		cfg.Ingest.RateLimitWindow,
		cfg.Ingest.RateLimitPerIP,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbPinger, redisClient))
	})

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Device and gateway surfaces authenticate with their own
		// credentials, not operator JWTs.
		r.With(middleware.IngestRateLimit(ingestPolicy, redisClient, logg)).
			Post("/payments/device", paymentcontrollers.IngestDevice(paymentsSvc, logg))
		r.Post("/payments/webhook", webhookcontrollers.Gateway(gatewaySvc, logg))
		r.Post("/devices/heartbeat", devicecontrollers.Heartbeat(devicesSvc, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.Idempotency(redisClient, logg))

			r.Route("/payments", func(r chi.Router) {
				r.Get("/", paymentcontrollers.List(paymentsSvc, logg))
				r.Get("/{paymentId}", paymentcontrollers.Get(paymentsSvc, logg))
				r.Get("/{paymentId}/suggestions", paymentcontrollers.Suggestions(matchingSvc, logg))
				r.Post("/{paymentId}/approve", paymentcontrollers.Approve(paymentsSvc, logg))
				r.Post("/{paymentId}/reject", paymentcontrollers.Reject(paymentsSvc, logg))
				r.Post("/{paymentId}/link-order", paymentcontrollers.LinkOrder(matchingSvc, logg))
			})

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", ordercontrollers.Create(ordersSvc, logg))
				r.Get("/", ordercontrollers.List(ordersSvc, logg))
				r.Get("/{orderId}", ordercontrollers.Get(ordersSvc, logg))
				r.Post("/{orderId}/cancel", ordercontrollers.Cancel(ordersSvc, logg))
			})

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", devicecontrollers.List(devicesSvc, logg))
				r.Get("/{deviceId}", devicecontrollers.Get(devicesSvc, logg))

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireRole(logg, enums.MemberRoleAdmin))
					r.Post("/", devicecontrollers.Register(devicesSvc, logg))
					r.Patch("/{deviceId}", devicecontrollers.Update(devicesSvc, logg))
				})
			})
		})
	})

	return r
}
