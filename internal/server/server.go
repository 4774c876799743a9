package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/northmeter/ledger/internal/attribution"
	"github.com/northmeter/ledger/internal/config"
	"github.com/northmeter/ledger/internal/ledger"
	"github.com/northmeter/ledger/internal/reporting"
	usageeventdomain "github.com/northmeter/ledger/internal/usageevent/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin() *gin.Engine {
	return NewEngine()
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
	engine       *gin.Engine
	cfg          config.Config
	log          *zap.Logger
	propagator   *attribution.Propagator
	usageSvc     usageeventdomain.Service
	reportingSvc *reporting.Service
	scheduler    *ledger.Scheduler
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Log          *zap.Logger
	Propagator   *attribution.Propagator
	UsageSvc     usageeventdomain.Service
	ReportingSvc *reporting.Service
	Scheduler    *ledger.Scheduler `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		log:          p.Log.Named("server"),
		propagator:   p.Propagator,
		usageSvc:     p.UsageSvc,
		reportingSvc: p.ReportingSvc,
		scheduler:    p.Scheduler,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")

	// Signup is the one unauthenticated surface; it is where attribution
	// is captured.
	v1.POST("/signup", s.Signup)

	authed := v1.Group("")
	authed.Use(ActorMiddleware())
	{
		authed.POST("/events", s.IngestEvent)
		authed.GET("/tenants/:tenant_id/usage/summaries", s.GetUsageSummaries)
		authed.GET("/tenants/:tenant_id/attribution", s.GetAttribution)

		ops := authed.Group("/ops")
		{
			ops.GET("/cursors/:tenant_id/:usage_type", s.GetBillingCursor)
			ops.POST("/reconcile", s.TriggerReconcile)
		}
	}
}
