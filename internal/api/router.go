package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onichip/pettrack-backend-go/internal/config"
	"github.com/onichip/pettrack-backend-go/internal/handler"
	"github.com/onichip/pettrack-backend-go/internal/metrics"
	"github.com/onichip/pettrack-backend-go/internal/middleware"
	"github.com/onichip/pettrack-backend-go/internal/service"
	"github.com/onichip/pettrack-backend-go/pkg/response"
)

// Services are the business services the HTTP surface exposes.
type Services struct {
	Ingestion *service.IngestionService
	Locations *service.LocationService
	Geofences *service.GeofenceService
	Alerts    *service.AlertService
	Entities  *service.EntityService
}

// SetupRouter 设置路由
func SetupRouter(cfg *config.Config, svc Services, limiter *middleware.RateLimiter, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, rec any) {
		logger.Error("handler panic", "path", c.Request.URL.Path, "panic", rec)
		response.InternalError(c, "internal error")
	}), middleware.RequestID(), middleware.Logger(logger), metrics.Instrument())
	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c, "route "+c.Request.Method+" "+c.Request.URL.Path+" not found")
	})

	// CORS 中间件
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "PetTrack API is running",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	locations := handler.NewLocationHandler(svc.Ingestion, svc.Locations)
	geofences := handler.NewGeofenceHandler(svc.Geofences)
	alerts := handler.NewAlertHandler(svc.Alerts)
	entities := handler.NewEntityHandler(svc.Entities)

	// API 路由组
	api := r.Group("/api/v1")
	api.Use(middleware.Auth(cfg.Auth.JWTSecret))
	{
		// 设备与位置
		entity := api.Group("/entities/:entityId")
		{
			entity.PUT("", entities.Register)
			entity.PUT("/location", middleware.RateLimit(limiter), locations.Receive)
			entity.GET("/locations", locations.List)
			entity.GET("/location/latest", locations.Latest)
			entity.GET("/geofences", geofences.ListForEntity)
			entity.GET("/alerts", alerts.List)
		}

		api.POST("/location/wifi", middleware.RateLimit(limiter), locations.ResolveWifi)
		api.POST("/location/hybrid", middleware.RateLimit(limiter), locations.ResolveHybrid)
		api.POST("/alerts/:alertId/ack", alerts.Acknowledge)

		// 地理围栏
		zones := api.Group("/geofences")
		{
			zones.POST("", geofences.Create)
			zones.PUT("/:zoneId", geofences.Update)
			zones.DELETE("/:zoneId", geofences.Delete)
			zones.GET("/:zoneId/stats", geofences.Stats)
		}

		api.GET("/owners/:ownerId/geofences", geofences.ListForOwner)
	}

	return r
}
