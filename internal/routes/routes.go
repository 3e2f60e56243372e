package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/geowatch/geowatch/internal/app/domain/location"
	"github.com/geowatch/geowatch/internal/app/domain/notify"
	"github.com/geowatch/geowatch/internal/app/domain/poi"
	"github.com/geowatch/geowatch/internal/app/domain/subscription"
	"github.com/geowatch/geowatch/internal/app/domain/tracker"
	"github.com/geowatch/geowatch/internal/app/domain/user"
	"github.com/geowatch/geowatch/internal/pkg/config"
)

// AppHandlers groups every HTTP handler the router mounts.
type AppHandlers struct {
	Poi          *poi.Handler
	Subscription *subscription.Handler
	Location     *location.Handler
	Hub          *notify.Hub
	Extender     *tracker.Extender
}

// Setup wires repositories, services, and handlers, then registers the
// routes on r. It returns the handler set so the caller can stop
// background components on shutdown.
func Setup(r *gin.Engine, dbPool *pgxpool.Pool, cfg *config.Config, log *zap.Logger) *AppHandlers {
	handlers := setupDependencies(dbPool, cfg, log)
	setupRouter(r, dbPool, handlers)
	return handlers
}

func setupDependencies(dbPool *pgxpool.Pool, cfg *config.Config, log *zap.Logger) *AppHandlers {
	// Repositories
	userRepo := user.NewRepositoryImpl(dbPool, log)
	poiRepo := poi.NewRepositoryImpl(dbPool, log)
	subRepo := subscription.NewRepositoryImpl(dbPool, log)

	// Volatile per-user state and delivery
	hub := notify.NewHub(log)
	lastLocations := tracker.NewLastLocations(log)
	extender := tracker.NewExtender(hub, log)
	fanout := notify.NewFanout(subRepo, hub, cfg.Notify, log)

	// Services
	poiService := poi.NewServiceImpl(poiRepo, userRepo, lastLocations, fanout, log)
	subService := subscription.NewServiceImpl(subRepo, userRepo, lastLocations, log)
	locService := location.NewServiceImpl(userRepo, subRepo, lastLocations, extender, log)

	return &AppHandlers{
		Poi:          poi.NewHandler(poiService, log),
		Subscription: subscription.NewHandler(subService, log),
		Location:     location.NewHandler(locService, log),
		Hub:          hub,
		Extender:     extender,
	}
}

func setupRouter(r *gin.Engine, dbPool *pgxpool.Pool, h *AppHandlers) {
	r.GET("/health", func(c *gin.Context) {
		if err := dbPool.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	{
		v1.POST("/pois", h.Poi.CreatePoi)
		v1.GET("/pois/nearby", h.Poi.FindNearby)
		v1.POST("/pois/:id/photos", h.Poi.AttachPhotos)
		v1.POST("/pois/:id/confirmations", h.Poi.Confirm)

		v1.PUT("/subscriptions", h.Subscription.Set)
		v1.POST("/subscriptions/toggle", h.Subscription.Toggle)
		v1.GET("/subscriptions", h.Subscription.Get)
		v1.DELETE("/subscriptions", h.Subscription.Unsubscribe)

		v1.POST("/locations", h.Location.Update)
		v1.DELETE("/locations/live", h.Location.EndLiveSession)

		v1.GET("/ws", h.Hub.ServeWS)
	}
}
