package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	_ "github.com/tazhibayda/identity-service/docs"
	"github.com/tazhibayda/identity-service/internal/metrics"
)

// NewRouter wires middleware and routes. service names the Datadog service.
func NewRouter(h *Handler, service string) *gin.Engine {
	metrics.MustRegister()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(Tracing(service))
	r.Use(Metrics())
	r.Use(AccessLog(h.Log))

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	r.POST("/users", h.CreateUser)
	r.GET("/users", h.GetUsers)
	r.GET("/users/check-email", h.CheckEmail)

	r.POST("/user", h.PostUser)
	r.GET("/user", h.GetUser)

	return r
}
