package http

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nurpe/brokerage/internal/http/middleware"
	"github.com/nurpe/brokerage/internal/metrics"
)

type RouterConfig struct {
	Environment    string
	AllowedOrigins []string
	// UploadsDir is served under UploadsPrefix when set.
	UploadsDir    string
	UploadsPrefix string
	Metrics       *metrics.Metrics
}

func NewRouter(handler *Handler, authMiddleware gin.HandlerFunc, cfg RouterConfig, log zerolog.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.MaxMultipartMemory = maxMultipartMemory
	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.RequestLogger(log),
		middleware.Metrics(cfg.Metrics),
		middleware.CORS(cfg.AllowedOrigins),
	)

	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}
	if cfg.UploadsDir != "" {
		router.Static(cfg.UploadsPrefix, cfg.UploadsDir)
	}

	handler.Register(router, authMiddleware)
	return router
}
