package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/orderbridge/internal/authorization"
	"github.com/smallbiznis/orderbridge/internal/config"
	"github.com/smallbiznis/orderbridge/internal/observability"
	obsmiddleware "github.com/smallbiznis/orderbridge/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/orderbridge/internal/observability/metrics"
	obstracing "github.com/smallbiznis/orderbridge/internal/observability/tracing"
	orderdomain "github.com/smallbiznis/orderbridge/internal/order/domain"
	paymentdomain "github.com/smallbiznis/orderbridge/internal/payment/domain"
	"github.com/smallbiznis/orderbridge/internal/payment/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(provideHTTPMetrics),
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(log, obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, log *zap.Logger, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(log, obsCfg, httpMetrics)
}

func provideHTTPMetrics() (*obsmetrics.HTTPMetrics, error) {
	return obsmetrics.NewHTTPMetrics(prometheus.DefaultRegisterer)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine   *gin.Engine
	cfg      config.Config
	log      *zap.Logger
	orders   orderdomain.Assembler
	payments paymentdomain.Orchestrator
	webhooks *webhook.Service
	authz    authorization.Service
	apiKeys  []apiKey
}

type ServerParams struct {
	fx.In

	Gin      *gin.Engine
	Cfg      config.Config
	Log      *zap.Logger
	Orders   orderdomain.Assembler
	Payments paymentdomain.Orchestrator
	Webhooks *webhook.Service
	Authz    authorization.Service `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:   p.Gin,
		cfg:      p.Cfg,
		log:      p.Log.Named("http"),
		orders:   p.Orders,
		payments: p.Payments,
		webhooks: p.Webhooks,
		authz:    p.Authz,
		apiKeys:  parseAPIKeys(p.Cfg.APIKeys),
	}

	if svc.authz != nil {
		for _, key := range svc.apiKeys {
			if err := svc.authz.Assign(key.actor, key.role); err != nil {
				svc.log.Warn("api key role not assigned", zap.String("actor", key.actor), zap.Error(err))
			}
		}
	}

	svc.registerAPIRoutes()
	svc.registerPublicRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.APIKeyRequired(), MaxBody(1<<20))

	// -------- Orders --------
	api.POST("/orders", s.authorize(authorization.ObjectOrder, authorization.ActionOrderCreate), s.CreateOrder)

	// -------- Payments --------
	api.POST("/payments", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentInitialize), s.InitializePayment)
	api.POST("/payments/:transaction_id/reconcile", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentReconcile), s.ReconcilePayment)
	api.POST("/payments/:transaction_id/cancel", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentCancel), s.CancelPayment)
	api.POST("/payments/:transaction_id/refund", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentRefund), s.RefundPayment)
}

func (s *Server) registerPublicRoutes() {
	s.engine.GET("/payments/return", noStore(), s.PaymentReturn)

	// -------- Payment Webhooks --------
	hooks := s.engine.Group("/webhooks", MaxBody(1<<20))
	hooks.GET("/:provider", s.HandlePaymentWebhook)
	hooks.POST("/:provider", s.HandlePaymentWebhook)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
