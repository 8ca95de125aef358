package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/clinical-mdr/internal/http/handlers"
	httpMW "github.com/yungbote/clinical-mdr/internal/http/middleware"
	"github.com/yungbote/clinical-mdr/internal/observability"
	"github.com/yungbote/clinical-mdr/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	ServiceName string
	CORSOrigins []string

	HealthHandler *httpH.HealthHandler
	// Families are mounted under /api/<family>.
	Families []httpH.FamilyRoutes
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachRequestData())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/api")
	for _, fam := range cfg.Families {
		if fam == nil {
			continue
		}
		fam.Register(api.Group("/" + fam.Family()))
	}
	return r
}
