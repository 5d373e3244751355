package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/paymentvault/wallet-service/internal/api/handler"
	"github.com/paymentvault/wallet-service/internal/api/middleware"
	"github.com/paymentvault/wallet-service/internal/api/spec"
	"github.com/paymentvault/wallet-service/internal/config"
	"github.com/paymentvault/wallet-service/internal/idempotency"
	"github.com/paymentvault/wallet-service/internal/ingest"
	"github.com/paymentvault/wallet-service/internal/otp"
	"github.com/paymentvault/wallet-service/internal/reconcile"
	"github.com/paymentvault/wallet-service/internal/settlement"
	"github.com/paymentvault/wallet-service/internal/wallet"
)

// Router wires the HTTP surface over the domain services.
type Router struct {
	cfg        *config.Config
	logger     *zap.Logger
	db         *pgxpool.Pool
	redis      redis.Cmdable
	ledger     *wallet.Ledger
	reconciler *reconcile.Reconciler
	tracker    *settlement.Tracker
	otpSvc     *otp.Service
	ingestor   *ingest.Ingestor
	idemStore  *idempotency.Store
}

func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	db *pgxpool.Pool,
	redisClient redis.Cmdable,
	ledger *wallet.Ledger,
	reconciler *reconcile.Reconciler,
	tracker *settlement.Tracker,
	otpSvc *otp.Service,
	ingestor *ingest.Ingestor,
	idemStore *idempotency.Store,
) *Router {
	return &Router{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		redis:      redisClient,
		ledger:     ledger,
		reconciler: reconciler,
		tracker:    tracker,
		otpSvc:     otpSvc,
		ingestor:   ingestor,
		idemStore:  idemStore,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(chiMiddleware.RealIP)

	settlementHandler := handler.NewSettlementHandler(api.tracker)
	otpHandler := handler.NewOTPHandler(api.otpSvc)
	walletHandler := handler.NewWalletHandler(api.ledger, api.reconciler)
	callbackHandler := handler.NewCallbackHandler(api.ingestor)
	healthHandler := handler.NewHealthHandler(api.db, api.redis)

	// Infra
	r.Get("/healthz", healthHandler.Live)
	r.Get("/readyz", healthHandler.Ready)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())

	// Provider boundary. Unauthenticated but rate limited per IP.
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.CallbackRateLimitRPS))
		r.Post("/callbacks/settlement", callbackHandler.HandleResult)
		r.Post("/callbacks/settlement/timeout", callbackHandler.HandleTimeout)
	})

	// Partner API
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.PartnerRateLimiter(api.cfg.PartnerRateLimitRPS))

		r.With(middleware.IdempotencyMiddleware(api.idemStore, api.logger)).
			Post("/settlements", settlementHandler.CreateSettlement)
		r.Get("/settlements", settlementHandler.ListSettlements)
		r.Get("/settlements/{id}", settlementHandler.GetSettlement)
		r.Post("/settlements/{id}/retry", settlementHandler.RetrySettlement)

		r.Group(func(r chi.Router) {
			r.Use(middleware.PartnerRateLimiter(api.cfg.OTPRateLimitRPS))
			r.Post("/otp", otpHandler.IssueOTP)
			r.Post("/otp/validate", otpHandler.ValidateOTP)
		})

		r.Get("/wallets/{partnerID}/balance", walletHandler.GetBalance)
		r.Get("/wallets/{partnerID}/transactions", walletHandler.GetTransactions)
		r.With(middleware.IdempotencyMiddleware(api.idemStore, api.logger)).
			Post("/wallets/{partnerID}/adjustments", walletHandler.CreateAdjustment)
		r.Post("/wallets/{partnerID}/balance-checks", walletHandler.RecordBalanceCheck)
	})

	return r
}
