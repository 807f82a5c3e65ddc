package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"radio-recorder-backend/internal/radiko"
	"radio-recorder-backend/internal/recorder"
)

// ListActiveRecordings handles GET /api/recordings.
func (h *Handler) ListActiveRecordings(c *gin.Context) {
	c.JSON(http.StatusOK, h.coord.ListActive())
}

// StopRecording handles POST /api/recordings/:id/stop.
func (h *Handler) StopRecording(c *gin.Context) {
	id := c.Param("id")
	if !h.coord.StopByID(c.Request.Context(), id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active recording with that id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": id})
}

type downloadRequest struct {
	StationID   string `json:"station_id" binding:"required"`
	StationName string `json:"station_name"`
	Title       string `json:"title" binding:"required"`
	StartTime   string `json:"start_time" binding:"required"`
	EndTime     string `json:"end_time" binding:"required"`
}

// Download handles POST /api/download: a reservation-less timeshift download
// of an already finished program. Times use the service's 14-digit format.
func (h *Handler) Download(c *gin.Context) {
	var req downloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start, err := radiko.ParseTime(req.StartTime, h.loc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	end, err := radiko.ParseTime(req.EndTime, h.loc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !end.After(start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_time must be after start_time"})
		return
	}

	id, err := h.coord.StartAdhoc(c.Request.Context(), req.StationID, req.StationName, req.Title, start, end)
	if err != nil {
		switch {
		case errors.Is(err, recorder.ErrProgramNotFinished):
			c.JSON(http.StatusConflict, gin.H{"error": "program has not finished airing yet"})
		case errors.Is(err, recorder.ErrRetentionExpired):
			c.JSON(http.StatusGone, gin.H{"error": "program is no longer available for timeshift"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

// GetSchedulerStatus handles GET /api/scheduler.
func (h *Handler) GetSchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"running": h.sched.Running()})
}

// StartScheduler handles POST /api/scheduler/start.
func (h *Handler) StartScheduler(c *gin.Context) {
	h.sched.Start()
	c.JSON(http.StatusOK, gin.H{"running": true})
}

// StopScheduler handles POST /api/scheduler/stop.
func (h *Handler) StopScheduler(c *gin.Context) {
	h.sched.Stop()
	c.JSON(http.StatusOK, gin.H{"running": false})
}
