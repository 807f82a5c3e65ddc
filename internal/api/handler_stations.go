package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"radio-recorder-backend/internal/radiko"
)

// GetStations handles GET /api/stations. The area query parameter overrides
// the configured default area.
func (h *Handler) GetStations(c *gin.Context) {
	area := c.DefaultQuery("area", h.areaCode)
	stations, err := h.guide.Stations(c.Request.Context(), area)
	if err != nil {
		h.log.Error().Err(err).Str("area", area).Msg("failed to fetch station list")
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to fetch station list"})
		return
	}
	c.JSON(http.StatusOK, stations)
}

// GetAllStations handles GET /api/stations/all and returns every station
// nationwide.
func (h *Handler) GetAllStations(c *gin.Context) {
	stations, err := h.guide.AllStations(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to fetch full station list")
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to fetch station list"})
		return
	}
	c.JSON(http.StatusOK, stations)
}

// GetPrograms handles GET /api/programs/:station_id. With a date query
// parameter (YYYYMMDD) it returns that day's guide, otherwise the weekly one.
func (h *Handler) GetPrograms(c *gin.Context) {
	stationID := c.Param("station_id")

	var (
		programs []radiko.Program
		err      error
	)
	if date := c.Query("date"); date != "" {
		if _, perr := radiko.ParseDate(date, h.loc); perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be in YYYYMMDD format"})
			return
		}
		programs, err = h.guide.ProgramsByDate(c.Request.Context(), stationID, date)
	} else {
		programs, err = h.guide.WeeklyPrograms(c.Request.Context(), stationID)
	}
	if err != nil {
		h.log.Error().Err(err).Str("station", stationID).Msg("failed to fetch program guide")
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to fetch program guide"})
		return
	}
	c.JSON(http.StatusOK, programs)
}

// GetNowPlaying handles GET /api/programs/:station_id/now.
func (h *Handler) GetNowPlaying(c *gin.Context) {
	stationID := c.Param("station_id")
	program, err := h.guide.CurrentProgram(c.Request.Context(), stationID, time.Now().In(h.loc))
	if err != nil {
		h.log.Error().Err(err).Str("station", stationID).Msg("failed to fetch current program")
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to fetch current program"})
		return
	}
	if program == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no program on air"})
		return
	}
	c.JSON(http.StatusOK, program)
}
