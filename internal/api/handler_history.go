package api

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"

	"radio-recorder-backend/internal/model"
	"radio-recorder-backend/internal/store"
)

// ListHistory handles GET /api/history, newest first. The status query
// parameter filters by recording status; otherwise the limit parameter caps
// the number of rows returned.
func (h *Handler) ListHistory(c *gin.Context) {
	if raw := c.Query("status"); raw != "" {
		status := model.RecordingStatus(raw)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown recording status"})
			return
		}
		history, err := h.store.HistoryByStatus(c.Request.Context(), status)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, history)
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	history, err := h.store.ListHistory(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, history)
}

// GetHistory handles GET /api/history/:id.
func (h *Handler) GetHistory(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	record, err := h.store.HistoryByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "history record not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, record)
}

// DeleteHistory handles DELETE /api/history/:id. The recorded file, when one
// exists, is removed together with the row.
func (h *Handler) DeleteHistory(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	record, err := h.store.HistoryByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "history record not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	if !record.Status.Terminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "recording is still in progress"})
		return
	}
	if record.FilePath != "" {
		if err := os.Remove(record.FilePath); err != nil && !os.IsNotExist(err) {
			h.log.Warn().Err(err).Str("path", record.FilePath).Msg("failed to remove recording file")
		}
	}
	if err := h.store.DeleteHistory(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
