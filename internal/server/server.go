package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditservice "github.com/alphagov/pay-connector-sub019/internal/audit/service"
	chargedomain "github.com/alphagov/pay-connector-sub019/internal/charge/domain"
	chargeservice "github.com/alphagov/pay-connector-sub019/internal/charge/service"
	"github.com/alphagov/pay-connector-sub019/internal/config"
	"github.com/alphagov/pay-connector-sub019/internal/notification"
	"github.com/alphagov/pay-connector-sub019/internal/observability/logger"
	"github.com/alphagov/pay-connector-sub019/internal/parity"
)

type Params struct {
	fx.In

	Config        config.Config
	Log           *zap.Logger
	DB            *gorm.DB
	Engine        *gin.Engine
	Graph         *chargedomain.StatusGraph
	Charges       *chargeservice.TransitionService
	Expiry        *chargeservice.ExpirySweeper
	Repo          chargedomain.Repository
	Notifications *notification.Processor
	Parity        *parity.Checker
	Audit         *auditservice.Recorder `optional:"true"`
}

// Server exposes the connector's public charge API, the provider webhook
// endpoint, and operator task endpoints.
type Server struct {
	cfg           config.Config
	log           *zap.Logger
	db            *gorm.DB
	engine        *gin.Engine
	graph         *chargedomain.StatusGraph
	charges       *chargeservice.TransitionService
	expiry        *chargeservice.ExpirySweeper
	repo          chargedomain.Repository
	notifications *notification.Processor
	parity        *parity.Checker
	audit         *auditservice.Recorder
}

func NewEngine(cfg config.Config, log *zap.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logger.GinMiddleware(logger.MiddlewareConfig{
		Logger:    log.Named("http"),
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	return engine
}

func NewServer(p Params) *Server {
	return &Server{
		cfg:           p.Config,
		log:           p.Log.Named("server"),
		db:            p.DB,
		engine:        p.Engine,
		graph:         p.Graph,
		charges:       p.Charges,
		expiry:        p.Expiry,
		repo:          p.Repo,
		notifications: p.Notifications,
		parity:        p.Parity,
		audit:         p.Audit,
	}
}

func (s *Server) RegisterAPIRoutes() {
	s.engine.GET("/healthz", s.Healthz)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.engine.Group("/v1")

	api := v1.Group("/api")
	api.POST("/accounts/:accountID/charges", s.CreateCharge)
	api.GET("/accounts/:accountID/charges/:chargeID", s.GetCharge)
	api.POST("/accounts/:accountID/charges/:chargeID/cancel", s.CancelCharge)
	api.POST("/notifications/:provider", s.HandleNotification)

	tasks := v1.Group("/tasks")
	tasks.POST("/parity-checker", s.RunParityCheck)
	tasks.POST("/expired-charges-sweep", s.RunExpirySweep)
}

func (s *Server) Healthz(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, engine *gin.Engine) {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
