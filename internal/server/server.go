package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/receivables/internal/audit/domain"
	"github.com/smallbiznis/receivables/internal/authorization"
	"github.com/smallbiznis/receivables/internal/config"
	importdomain "github.com/smallbiznis/receivables/internal/importer/domain"
	"github.com/smallbiznis/receivables/internal/observability"
	obsmiddleware "github.com/smallbiznis/receivables/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/receivables/internal/observability/metrics"
	obstracing "github.com/smallbiznis/receivables/internal/observability/tracing"
	"github.com/smallbiznis/receivables/internal/ratelimit"
	receivabledomain "github.com/smallbiznis/receivables/internal/receivable/domain"
	"github.com/smallbiznis/receivables/internal/reconcile"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
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
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	policy        *config.LedgerPolicyHolder
	authzSvc      authorization.Service
	auditSvc      auditdomain.Service
	ledgerSvc     receivabledomain.Service
	importSvc     importdomain.Service
	reconciler    reconcile.Runner
	importLimiter *ratelimit.ImportLimiter
	obsMetrics    *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	Policy        *config.LedgerPolicyHolder `optional:"true"`
	AuthzSvc      authorization.Service
	AuditSvc      auditdomain.Service
	LedgerSvc     receivabledomain.Service
	ImportSvc     importdomain.Service
	Reconciler    reconcile.Runner
	ImportLimiter *ratelimit.ImportLimiter `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http.server"),
		policy:        p.Policy,
		authzSvc:      p.AuthzSvc,
		auditSvc:      p.AuditSvc,
		ledgerSvc:     p.LedgerSvc,
		importSvc:     p.ImportSvc,
		reconciler:    p.Reconciler,
		importLimiter: p.ImportLimiter,
		obsMetrics:    p.ObsMetrics,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1", ActorContext(), s.ActorRequired())

	invoices := api.Group("/invoices")
	{
		invoices.GET("", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.ListInvoices)
		invoices.POST("", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceCreate), s.CreateInvoice)
		invoices.POST("/recalculate", s.authorize(authorization.ObjectReconcile, authorization.ActionReconcileRun), s.RecalculateInvoices)

		invoices.GET("/:id", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.GetInvoiceByID)
		invoices.PATCH("/:id", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceUpdate), s.EditInvoice)
		invoices.DELETE("/:id", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceDelete), s.DeleteInvoice)
		invoices.POST("/:id/cancel", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceCancel), s.CancelInvoice)
		invoices.POST("/:id/reinstate", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceCancel), s.ReinstateInvoice)
		invoices.GET("/:id/statement", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceDownload), s.DownloadStatement)

		invoices.POST("/:id/payments", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentRecord), s.AddPayment)
		invoices.PATCH("/:id/payments/:paymentId", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentUpdate), s.UpdatePayment)
		invoices.DELETE("/:id/payments/:paymentId", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentDelete), s.DeletePayment)
	}

	imports := api.Group("/imports")
	{
		imports.GET("", s.authorize(authorization.ObjectImport, authorization.ActionImportView), s.ListImportBatches)
		imports.GET("/template", s.authorize(authorization.ObjectImport, authorization.ActionImportView), s.DownloadImportTemplate)
		imports.POST("/preview", s.authorize(authorization.ObjectImport, authorization.ActionImportPreview), s.ImportRateLimit(), s.PreviewImport)
		imports.POST("", s.authorize(authorization.ObjectImport, authorization.ActionImportCommit), s.ImportRateLimit(), s.CommitImport)
	}

	api.GET("/activity", s.authorize(authorization.ObjectActivity, authorization.ActionActivityView), s.ListActivity)
	api.GET("/calendar/business-minutes", s.authorize(authorization.ObjectCalendar, authorization.ActionCalendarView), s.BusinessMinutes)
}
