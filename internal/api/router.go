package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"radio-recorder-backend/config"
	"radio-recorder-backend/internal/mw"
	"radio-recorder-backend/internal/radiko"
	"radio-recorder-backend/internal/recorder"
	"radio-recorder-backend/internal/scheduler"
	"radio-recorder-backend/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg *config.Config, s store.Store, guide *radiko.Guide, sched *scheduler.Scheduler, coord *recorder.Coordinator, webpushOptions *webpush.Options, loc *time.Location) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(s, guide, sched, coord, webpushOptions, cfg.Radiko.AreaCode, loc)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst)

	// Guide responses change slowly, so they are served from cache
	cacheTTL := time.Duration(cfg.Server.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/stations", caching, handler.GetStations)
		api.GET("/stations/all", caching, handler.GetAllStations)
		api.GET("/programs/:station_id", caching, handler.GetPrograms)
		api.GET("/programs/:station_id/now", handler.GetNowPlaying)

		api.GET("/reservations", handler.ListReservations)
		api.POST("/reservations", handler.CreateReservation)
		api.GET("/reservations/:id", handler.GetReservation)
		api.PUT("/reservations/:id", handler.UpdateReservation)
		api.DELETE("/reservations/:id", handler.DeleteReservation)

		api.GET("/history", handler.ListHistory)
		api.GET("/history/:id", handler.GetHistory)
		api.DELETE("/history/:id", handler.DeleteHistory)

		api.GET("/recordings", handler.ListActiveRecordings)
		api.POST("/recordings/:id/stop", handler.StopRecording)
		api.POST("/download", handler.Download)

		api.GET("/scheduler", handler.GetSchedulerStatus)
		api.POST("/scheduler/start", handler.StartScheduler)
		api.POST("/scheduler/stop", handler.StopScheduler)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
