package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"

	"radio-recorder-backend/internal/logging"
	"radio-recorder-backend/internal/radiko"
	"radio-recorder-backend/internal/recorder"
	"radio-recorder-backend/internal/scheduler"
	"radio-recorder-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store    store.Store
	guide    *radiko.Guide
	sched    *scheduler.Scheduler
	coord    *recorder.Coordinator
	webpush  *webpush.Options
	areaCode string
	loc      *time.Location
	log      zerolog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, guide *radiko.Guide, sched *scheduler.Scheduler, coord *recorder.Coordinator, webpushOptions *webpush.Options, areaCode string, loc *time.Location) *Handler {
	return &Handler{
		store:    s,
		guide:    guide,
		sched:    sched,
		coord:    coord,
		webpush:  webpushOptions,
		areaCode: areaCode,
		loc:      loc,
		log:      logging.WithComponent("api"),
	}
}
