package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	billingaccountdomain "github.com/smallbiznis/supplyrail/internal/billingaccount/domain"
	billinginvoicedomain "github.com/smallbiznis/supplyrail/internal/billinginvoice/domain"
	"github.com/smallbiznis/supplyrail/internal/clock"
	"github.com/smallbiznis/supplyrail/internal/config"
	dispatcherdomain "github.com/smallbiznis/supplyrail/internal/dispatcher/domain"
	execdomain "github.com/smallbiznis/supplyrail/internal/invoicingexecution/domain"
	"github.com/smallbiznis/supplyrail/internal/observability"
	obsmiddleware "github.com/smallbiznis/supplyrail/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/supplyrail/internal/observability/metrics"
	obstracing "github.com/smallbiznis/supplyrail/internal/observability/tracing"
	orderdomain "github.com/smallbiznis/supplyrail/internal/orderinvoicing/domain"
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
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
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
	clock         clock.Clock
	accountSvc    billingaccountdomain.Service
	invoiceSvc    billinginvoicedomain.Service
	orderSvc      orderdomain.Service
	dispatcherSvc dispatcherdomain.Service
	executionSvc  execdomain.Service
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Clock         clock.Clock
	AccountSvc    billingaccountdomain.Service
	InvoiceSvc    billinginvoicedomain.Service
	OrderSvc      orderdomain.Service
	DispatcherSvc dispatcherdomain.Service
	ExecutionSvc  execdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		clock:         p.Clock,
		accountSvc:    p.AccountSvc,
		invoiceSvc:    p.InvoiceSvc,
		orderSvc:      p.OrderSvc,
		dispatcherSvc: p.DispatcherSvc,
		executionSvc:  p.ExecutionSvc,
	}

	svc.registerAPIRoutes()
	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	api.POST("/billing-accounts", s.CreateBillingAccount)
	api.GET("/billing-accounts/:id", s.GetBillingAccount)
	api.PATCH("/billing-accounts/:id", s.UpdateBillingAccount)
	api.POST("/billing-accounts/:id/plan", s.ChangePlan)
	api.POST("/billing-accounts/:id/discounts", s.AddDiscount)
	api.GET("/billing-accounts/:id/preview", s.PreviewInvoice)
	api.GET("/billing-accounts/:id/preview/pdf", s.PreviewInvoicePDF)
	api.POST("/billing-accounts/:id/invoices", s.GenerateInvoice)
	api.GET("/billing-accounts/:id/invoices", s.ListInvoices)

	api.GET("/billing-invoices/:id", s.GetInvoice)
	api.POST("/billing-invoices/:id/complements", s.CreateComplement)
	api.POST("/billing-invoices/:id/cancel", s.CancelInvoice)
	api.POST("/billing-invoices/:id/files", s.AttachInvoiceFiles)
	api.GET("/billing-invoices/:id/files/:kind", s.GetInvoiceFileURL)

	api.POST("/orders/:id/invoice", s.InvoiceOrder)
	api.GET("/orders/:id/invoice", s.GetOrderInvoice)

	api.POST("/subjects/:id/status", s.ChangeSubjectStatus)

	api.GET("/invoicing-executions", s.ListExecutions)
	api.GET("/invoicing-executions/:subject_id", s.GetExecution)
}
