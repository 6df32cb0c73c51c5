package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/railzway-reports/internal/config"
	"github.com/smallbiznis/railzway-reports/internal/observability"
	obslogger "github.com/smallbiznis/railzway-reports/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/railzway-reports/internal/observability/metrics"
	obstracing "github.com/smallbiznis/railzway-reports/internal/observability/tracing"
	"github.com/smallbiznis/railzway-reports/internal/ratelimit"
	reportdomain "github.com/smallbiznis/railzway-reports/internal/report/domain"
	subscriptiondomain "github.com/smallbiznis/railzway-reports/internal/subscription/domain"
	webhookdomain "github.com/smallbiznis/railzway-reports/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg config.Config, log *zap.Logger, s *Server) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	webhookSvc      webhookdomain.Service
	reportSvc       reportdomain.Service
	subscriptionSvc subscriptiondomain.Service
	reportLimiter   *ratelimit.ReportTriggerLimiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	WebhookSvc      webhookdomain.Service
	ReportSvc       reportdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	ReportLimiter   *ratelimit.ReportTriggerLimiter `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics             `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http"),
		webhookSvc:      p.WebhookSvc,
		reportSvc:       p.ReportSvc,
		subscriptionSvc: p.SubscriptionSvc,
		reportLimiter:   p.ReportLimiter,
		obsMetrics:      p.ObsMetrics,
	}

	s.registerWebhookRoutes()
	s.registerAPIRoutes()
	s.registerFallback()

	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	api := s.engine.Group("/api")

	api.POST("/webhooks/:provider", s.HandleProviderWebhook)
	api.POST("/stripe/webhook", s.withProvider("stripe"), s.HandleProviderWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Subscription --------
	api.GET("/subscription/status", s.SubjectRequired(), s.GetSubscriptionStatus)

	// -------- Reports --------
	api.POST("/reports/schedule", s.CronSecretRequired(), s.ScheduleReports)

	reports := api.Group("/reports", s.SubjectRequired())
	{
		reports.POST("/generate", s.ReportTriggerRateLimit(), s.GenerateReport)
		reports.GET("", s.ListReports)
		reports.GET("/:id", s.GetReport)
		reports.GET("/:id/download", s.DownloadReport)
	}
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
