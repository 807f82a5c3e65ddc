package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"radio-recorder-backend/internal/model"
	"radio-recorder-backend/internal/store"
)

type reservationRequest struct {
	Title       string    `json:"title" binding:"required"`
	StationID   string    `json:"station_id" binding:"required"`
	StationName string    `json:"station_name"`
	StartTime   time.Time `json:"start_time" binding:"required"`
	EndTime     time.Time `json:"end_time" binding:"required"`
	RepeatType  string    `json:"repeat_type"`
	RepeatDays  []int     `json:"repeat_days"`
	Active      *bool     `json:"is_active"`
}

// toModel validates the request and converts it into a Reservation.
func (req *reservationRequest) toModel() (*model.Reservation, error) {
	repeat := model.RepeatType(req.RepeatType)
	if req.RepeatType == "" {
		repeat = model.RepeatNone
	}
	if !repeat.Valid() {
		return nil, errors.New("repeat_type must be one of none, daily, weekly, weekdays")
	}
	if !req.EndTime.After(req.StartTime) {
		return nil, errors.New("end_time must be after start_time")
	}

	resv := &model.Reservation{
		Title:       req.Title,
		StationID:   req.StationID,
		StationName: req.StationName,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		RepeatType:  repeat,
		Active:      true,
	}
	if req.Active != nil {
		resv.Active = *req.Active
	}
	if len(req.RepeatDays) > 0 {
		for _, d := range req.RepeatDays {
			if d < 0 || d > 6 {
				return nil, errors.New("repeat_days entries must be 0 (Sunday) through 6 (Saturday)")
			}
		}
		raw, err := json.Marshal(req.RepeatDays)
		if err != nil {
			return nil, err
		}
		resv.RepeatDays = string(raw)
	}
	if repeat == model.RepeatWeekly && resv.RepeatDays == "" {
		return nil, errors.New("repeat_days is required for weekly reservations")
	}
	return resv, nil
}

// ListReservations handles GET /api/reservations.
func (h *Handler) ListReservations(c *gin.Context) {
	reservations, err := h.store.AllReservations(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, reservations)
}

// GetReservation handles GET /api/reservations/:id.
func (h *Handler) GetReservation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	resv, err := h.store.ReservationByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "reservation not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, resv)
}

// CreateReservation handles POST /api/reservations.
func (h *Handler) CreateReservation(c *gin.Context) {
	var req reservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resv, err := req.toModel()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.CreateReservation(c.Request.Context(), resv); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.log.Info().Int64("reservation", resv.ID).Str("title", resv.Title).Msg("reservation created")
	c.JSON(http.StatusCreated, resv)
}

// UpdateReservation handles PUT /api/reservations/:id.
func (h *Handler) UpdateReservation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req reservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resv, err := req.toModel()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resv.ID = id
	if err := h.store.UpdateReservation(c.Request.Context(), resv); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "reservation not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, resv)
}

// DeleteReservation handles DELETE /api/reservations/:id.
func (h *Handler) DeleteReservation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.store.DeleteReservation(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "reservation not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.Status(http.StatusNoContent)
}

// pathID parses the :id path parameter, replying 400 on malformed input.
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be an integer"})
		return 0, false
	}
	return id, true
}
