package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/buyer"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/notification"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/notify"
	"github.com/xenking/storefront/internal/repository"
	"github.com/xenking/storefront/internal/security"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	db := repository.NewDB(pool)

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(db), health.WithThresholds(2, 1))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)

	// Repositories.
	buyerRepo := repository.NewBuyerRepository(db)
	addressRepo := repository.NewAddressRepository(db)
	sellerRepo := repository.NewSellerRepository(db)
	productRepo := repository.NewProductRepository(db)
	cartRepo := repository.NewCartRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	apikeyRepo := repository.NewAPIKeyRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)

	policy, err := cfg.Referral.Policy()
	if err != nil {
		return err
	}
	rewardRatio, err := cfg.Referral.Reward()
	if err != nil {
		return err
	}

	// Notifications: realtime hub, optional web push, persistent inbox.
	hub := notify.NewHub(originChecker(cfg.CORS.Origins))
	var push notify.PushSender
	if pushCfg := cfg.Push.notifyConfig(); pushCfg.Enabled() {
		wp, err := notify.NewWebPush(pushCfg)
		if err != nil {
			return errors.Wrap(err, "create web push sender")
		}
		push = wp
		lg.Info("Web push enabled", zap.String("subscriber", pushCfg.Subscriber))
	}
	dispatcher, err := notify.NewDispatcher(notify.Options{
		Notifications: notificationRepo,
		Subscriptions: subscriptionRepo,
		Hub:           hub,
		Push:          push,
	})
	if err != nil {
		return errors.Wrap(err, "create notification dispatcher")
	}

	// Domain services.
	tokens := security.NewJWTIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.Issuer)
	hasher := security.NewBcryptHasher(cfg.Auth.BcryptCost)

	codes := buyer.NewCodeIssuer(buyerRepo, cfg.Referral.ExpectedCodes)
	known, err := codes.Warm(ctx)
	if err != nil {
		return errors.Wrap(err, "warm referral codes")
	}
	lg.Info("Referral codes loaded", zap.Int("count", known))
	buyerService := buyer.NewService(buyerRepo, addressRepo, db, codes, hasher)

	orderService, err := order.NewService(order.Deps{
		Orders:               orderRepo,
		Catalog:              productRepo,
		Ledger:               buyerRepo,
		Carts:                cartRepo,
		Addresses:            addressRepo,
		Tx:                   db,
		Notifier:             dispatcher,
		Policy:               policy,
		RewardRatio:          rewardRatio,
		RewardFirstOrderOnly: cfg.Referral.FirstOrderOnly,
		TracerProvider:       m.TracerProvider(),
		MeterProvider:        m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	api := handler.NewAPI(handler.Dependencies{
		Auth:         auth.NewService(buyerService, sellerRepo, hasher, tokens),
		Tokens:       tokens,
		APIKeys:      auth.NewAPIKeyAuthenticator(apikeyRepo, []byte(cfg.Auth.APIKeyPepper)),
		Buyers:       buyerService,
		Products:     productRepo,
		Carts:        cart.NewService(cartRepo, productRepo),
		Orders:       orderService,
		Inbox:        notification.NewInbox(notificationRepo, subscriptionRepo),
		Hub:          hub,
		ImageBaseURL: cfg.ImageBaseURL,
	})

	// Router: health endpoints + API routes on one server.
	mux := chi.NewRouter()
	mux.Get("/livez", healthSvc.LiveEndpoint)
	mux.Get("/readyz", healthSvc.ReadyEndpoint)
	mux.Mount("/", api.Router())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Long-lived websocket connections manage their own deadlines.
		WriteTimeout:   0,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.WithRouteContext(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", handler.HeaderAPIKey},
				ExposeHeaders:    []string{"X-Request-ID"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("storefront-api", m),
			httpmiddleware.LogRequests(),
		),
	}
	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		// Hijacked websocket connections are not tracked by Shutdown.
		hub.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		dispatcher.Wait()
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// originChecker returns the websocket origin check matching the CORS origins.
// A nil result accepts every origin.
func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			return nil
		}
		allowed[o] = struct{}{}
	}
	if len(allowed) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}
