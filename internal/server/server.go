// Package server wires the HTTP surface: client API, worker callbacks and
// operational endpoints.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/mixforge/mixforge/internal/config"
	creditdomain "github.com/mixforge/mixforge/internal/credit/domain"
	deliverydomain "github.com/mixforge/mixforge/internal/delivery/domain"
	"github.com/mixforge/mixforge/internal/observability"
	obsmiddleware "github.com/mixforge/mixforge/internal/observability/logger"
	obsmetrics "github.com/mixforge/mixforge/internal/observability/metrics"
	obstracing "github.com/mixforge/mixforge/internal/observability/tracing"
	processingdomain "github.com/mixforge/mixforge/internal/processing/domain"
	"github.com/mixforge/mixforge/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
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

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
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
	processingSvc   processingdomain.Service
	creditSvc       creditdomain.Service
	deliverySvc     deliverydomain.Service
	downloadLimiter *ratelimit.DownloadLimiter
	obsMetrics      *obsmetrics.EngineMetrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	DB              *gorm.DB
	GenID           *snowflake.Node
	ProcessingSvc   processingdomain.Service
	CreditSvc       creditdomain.Service
	DeliverySvc     deliverydomain.Service
	DownloadLimiter *ratelimit.DownloadLimiter `optional:"true"`
	ObsMetrics      *obsmetrics.EngineMetrics  `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		genID:           p.GenID,
		processingSvc:   p.ProcessingSvc,
		creditSvc:       p.CreditSvc,
		deliverySvc:     p.DeliverySvc,
		downloadLimiter: p.DownloadLimiter,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerWorkerRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.UserRequired())

	processing := api.Group("/processing")
	{
		processing.POST("/estimate", s.EstimateProcessing)
		processing.POST("/:projectId/start", s.StartProcessing)

		job := processing.Group("/job/:jobId")
		{
			job.GET("", s.GetJob)
			job.POST("/cancel", s.CancelJob)

			download := job.Group("", s.DownloadRateLimit())
			{
				download.GET("/download-info", s.DownloadInfo)
				download.GET("/download", s.DownloadSingle)
				download.POST("/download-batch", s.DownloadBatch)
				download.GET("/download-chunk", s.DownloadChunk)
			}
		}
	}

	credits := api.Group("/credits")
	{
		credits.GET("", s.CreditBalance)
		credits.GET("/transactions", s.CreditTransactions)
	}
}

func (s *Server) registerWorkerRoutes() {
	worker := s.engine.Group("/worker", s.WorkerTokenRequired())

	jobs := worker.Group("/jobs/:jobId")
	{
		jobs.POST("/progress", s.ReportProgress)
		jobs.POST("/output", s.AddOutput)
		jobs.POST("/terminal", s.ReportTerminal)
	}
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.WorkerTokenRequired())

	admin.POST("/users/:userId/bonus", s.GrantBonus)
}
