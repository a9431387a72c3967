package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rmarceau/torrdrive-backend/api/routes"
	"github.com/rmarceau/torrdrive-backend/internal/invoices"
	"github.com/rmarceau/torrdrive-backend/internal/jobs"
	"github.com/rmarceau/torrdrive-backend/internal/rates"
	"github.com/rmarceau/torrdrive-backend/internal/timeline"
	"github.com/rmarceau/torrdrive-backend/internal/vouchers"
	"github.com/rmarceau/torrdrive-backend/internal/wallet"
	"github.com/rmarceau/torrdrive-backend/pkg/config"
	"github.com/rmarceau/torrdrive-backend/pkg/db"
	"github.com/rmarceau/torrdrive-backend/pkg/logger"
	"github.com/rmarceau/torrdrive-backend/pkg/migrate"
	"github.com/rmarceau/torrdrive-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	svcs, err := buildServices(dbClient, redisClient, cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, registry, svcs),
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		graceCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logg.Error(graceCtx, "api server shutdown failed", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server stopped")
}

func buildServices(dbClient *db.Client, redisClient *redis.Client, cfg *config.Config, logg *logger.Logger) (routes.Services, error) {
	gdb := dbClient.DB()

	walletSvc, err := wallet.NewService(wallet.NewRepository(gdb), dbClient)
	if err != nil {
		return routes.Services{}, err
	}
	voucherSvc, err := vouchers.NewService(vouchers.NewRepository(gdb))
	if err != nil {
		return routes.Services{}, err
	}
	timelineSvc, err := timeline.NewService(timeline.NewRepository(gdb))
	if err != nil {
		return routes.Services{}, err
	}
	jobSvc, err := jobs.NewService(jobs.NewRepository(gdb), timelineSvc, dbClient, cfg.Jobs, logg)
	if err != nil {
		return routes.Services{}, err
	}

	fallback, err := rates.FallbackRate(cfg.Quotes)
	if err != nil {
		return routes.Services{}, err
	}
	rateSvc, err := rates.NewService(rates.StaticProvider{Rate: fallback}, redisClient, cfg.Quotes, logg)
	if err != nil {
		return routes.Services{}, err
	}

	invoiceSvc, err := invoices.NewService(
		invoices.NewRepository(gdb),
		voucherSvc,
		walletSvc,
		rateSvc,
		jobSvc,
		dbClient,
		cfg.Pricing,
		cfg.Quotes,
		logg,
	)
	if err != nil {
		return routes.Services{}, err
	}

	return routes.Services{
		Invoices: invoiceSvc,
		Jobs:     jobSvc,
		Timeline: timelineSvc,
		Wallet:   walletSvc,
		Vouchers: voucherSvc,
	}, nil
}
