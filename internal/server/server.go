package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/stagepass/stagepass/internal/cancellation"
	cancellationdomain "github.com/stagepass/stagepass/internal/cancellation/domain"
	"github.com/stagepass/stagepass/internal/clock"
	"github.com/stagepass/stagepass/internal/config"
	"github.com/stagepass/stagepass/internal/ledger"
	"github.com/stagepass/stagepass/internal/migration"
	"github.com/stagepass/stagepass/internal/observability"
	obsmiddleware "github.com/stagepass/stagepass/internal/observability/logger"
	obsmetrics "github.com/stagepass/stagepass/internal/observability/metrics"
	obstracing "github.com/stagepass/stagepass/internal/observability/tracing"
	"github.com/stagepass/stagepass/internal/order"
	"github.com/stagepass/stagepass/internal/processor"
	"github.com/stagepass/stagepass/internal/ratelimit"
	"github.com/stagepass/stagepass/internal/reconciler"
	"github.com/stagepass/stagepass/internal/refund"
	refunddomain "github.com/stagepass/stagepass/internal/refund/domain"
	"github.com/stagepass/stagepass/internal/settlement"
	settlementservice "github.com/stagepass/stagepass/internal/settlement/service"
)

var Module = fx.Module("http.server",
	config.Module,
	clock.Module,
	migration.Module,
	fx.Provide(registerGin),
	order.Module,
	refund.Module,
	settlement.Module,
	cancellation.Module,
	ledger.Module,
	processor.Module,
	ratelimit.Module,
	reconciler.Module,
	fx.Invoke(NewServer),
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

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
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
	db              *gorm.DB
	genID           *snowflake.Node
	refundSvc       refunddomain.Service
	cancellationSvc cancellationdomain.Service
	settlementSvc   *settlementservice.Service
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	DB              *gorm.DB
	GenID           *snowflake.Node
	RefundSvc       refunddomain.Service
	CancellationSvc cancellationdomain.Service
	SettlementSvc   *settlementservice.Service
	ObsMetrics      *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		genID:           p.GenID,
		refundSvc:       p.RefundSvc,
		cancellationSvc: p.CancellationSvc,
		settlementSvc:   p.SettlementSvc,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerRefundRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRefundRoutes() {
	v1 := s.engine.Group("/v1")

	events := v1.Group("/events/:event_id")
	{
		events.POST("/orders/:order_id/refund", s.RefundOrder)
		events.GET("/orders/:order_id/refund", s.GetRefund)
		events.POST("/orders/:order_id/cash-completed", s.CompleteCashRefund)

		events.POST("/cancellation", s.RefundAllOrders)
		events.GET("/cancellation", s.CancellationStatus)

		events.GET("/financial-summary", s.FinancialSummary)
	}
}
