package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/coinpulse/internal/config"
	counterdomain "github.com/smallbiznis/coinpulse/internal/counter/domain"
	ingestdomain "github.com/smallbiznis/coinpulse/internal/ingest/domain"
	"github.com/smallbiznis/coinpulse/internal/observability"
	obsmiddleware "github.com/smallbiznis/coinpulse/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/coinpulse/internal/observability/metrics"
	obstracing "github.com/smallbiznis/coinpulse/internal/observability/tracing"
	"github.com/smallbiznis/coinpulse/internal/ratelimit"
	statsdomain "github.com/smallbiznis/coinpulse/internal/stats/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
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

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", addr))
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
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	loc        *time.Location
	ingestSvc  ingestdomain.Service
	statsSvc   statsdomain.Service
	counterSvc counterdomain.Service
	limiter    *ratelimit.MachineIngestLimiter
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	IngestSvc  ingestdomain.Service
	StatsSvc   statsdomain.Service
	CounterSvc counterdomain.Service
	ObsMetrics *obsmetrics.Metrics             `optional:"true"`
	Limiter    *ratelimit.MachineIngestLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.server"),
		loc:        p.Cfg.Ingest.Location(),
		ingestSvc:  p.IngestSvc,
		statsSvc:   p.StatsSvc,
		counterSvc: p.CounterSvc,
		limiter:    p.Limiter,
		obsMetrics: p.ObsMetrics,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")

	// -------- Events --------
	api.POST("/events", s.MachineIngestRateLimit(), s.RecordEvent)
	api.POST("/events/batch", s.RecordEvents)
	api.GET("/events", s.ListEvents)
	api.POST("/events/:id/reprocess", s.ReprocessEvent)
	api.DELETE("/events/:id", s.DeleteEvent)

	// -------- Machines --------
	api.GET("/machines/:machine/counters", s.GetMachineCounters)

	// -------- Stats --------
	api.GET("/stats/daily", s.GetDailyStats)
	api.GET("/stats/hourly", s.GetHourlyProfile)
	api.GET("/stats/top", s.GetTopMachines)
	api.GET("/stats/regions", s.GetRegionTrend)
}
