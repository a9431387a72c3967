package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rmarceau/torrdrive-backend/api/controllers"
	"github.com/rmarceau/torrdrive-backend/api/middleware"
	"github.com/rmarceau/torrdrive-backend/internal/invoices"
	"github.com/rmarceau/torrdrive-backend/internal/jobs"
	"github.com/rmarceau/torrdrive-backend/internal/timeline"
	"github.com/rmarceau/torrdrive-backend/internal/vouchers"
	"github.com/rmarceau/torrdrive-backend/internal/wallet"
	"github.com/rmarceau/torrdrive-backend/pkg/config"
	"github.com/rmarceau/torrdrive-backend/pkg/db"
	"github.com/rmarceau/torrdrive-backend/pkg/logger"
	"github.com/rmarceau/torrdrive-backend/pkg/redis"
)

type Services struct {
	Invoices *invoices.Service
	Jobs     *jobs.Service
	Timeline *timeline.Service
	Wallet   *wallet.Service
	Vouchers vouchers.Service
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	registry *prometheus.Registry,
	svcs Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})
	r.Get("/healthz", controllers.HealthLive(cfg))

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Identity(logg))

		r.Post("/quotes", controllers.CreateQuote(svcs.Invoices, logg))

		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", controllers.InvoiceList(svcs.Invoices, logg))
			r.Get("/{invoiceId}", controllers.InvoiceDetail(svcs.Invoices, logg))
			r.Post("/{invoiceId}/pay", controllers.InvoicePay(svcs.Invoices, logg))
			r.Post("/{invoiceId}/cancel", controllers.InvoiceCancel(svcs.Invoices, logg))
			r.Post("/{invoiceId}/refund", controllers.InvoiceRefund(svcs.Invoices, logg))
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/{jobId}", controllers.JobDetail(svcs.Jobs, logg))
			r.Get("/{jobId}/timeline", controllers.JobTimeline(svcs.Jobs, svcs.Timeline, logg))
			r.Post("/{jobId}/cancel", controllers.JobCancel(svcs.Jobs, logg))
			r.Post("/{jobId}/retry", controllers.JobRetry(svcs.Jobs, logg))
			r.With(middleware.RequireRole("worker", logg)).
				Post("/{jobId}/transitions", controllers.JobTransition(svcs.Jobs, logg))
		})

		r.Get("/wallet", controllers.WalletSummary(svcs.Wallet, logg))

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole("admin", logg))
			r.Post("/wallets/{userId}/adjust", controllers.AdminAdjustWallet(svcs.Wallet, logg))
			r.Post("/vouchers", controllers.AdminCreateVoucher(svcs.Vouchers, logg))
			r.Post("/vouchers/{voucherId}/deactivate", controllers.AdminDeactivateVoucher(svcs.Vouchers, logg))
		})
	})

	return r
}
