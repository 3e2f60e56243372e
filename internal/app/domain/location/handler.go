package location

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/geowatch/geowatch/internal/app/handlers"
	"github.com/geowatch/geowatch/internal/app/models"
)

type Handler struct {
	service Service
	log     *zap.Logger
}

func NewHandler(service Service, log *zap.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log,
	}
}

type updateBody struct {
	ExternalID  string  `json:"external_id" binding:"required"`
	DisplayName string  `json:"display_name"`
	Language    string  `json:"language"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Live        bool    `json:"live"`
	LivePeriodS int     `json:"live_period_s"`
	SessionID   string  `json:"session_id"`
}

// Update handles POST /v1/locations.
func (h *Handler) Update(c *gin.Context) {
	var body updateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.log.Warn("Malformed location update", zap.Error(err))
		c.JSON(http.StatusBadRequest, handlers.ErrorResponse{Error: err.Error(), Code: "validation_failed"})
		return
	}

	res, err := h.service.UpdateLocation(c.Request.Context(), UpdateRequest{
		ExternalID:  body.ExternalID,
		DisplayName: body.DisplayName,
		Language:    body.Language,
		Point:       models.Point{Latitude: body.Latitude, Longitude: body.Longitude},
		Live:        body.Live,
		LivePeriod:  time.Duration(body.LivePeriodS) * time.Second,
		SessionID:   body.SessionID,
	})
	if err != nil {
		handlers.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

type endSessionBody struct {
	ExternalID string `json:"external_id" binding:"required"`
	SessionID  string `json:"session_id" binding:"required"`
}

// EndLiveSession handles DELETE /v1/locations/live.
func (h *Handler) EndLiveSession(c *gin.Context) {
	var body endSessionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, handlers.ErrorResponse{Error: err.Error(), Code: "validation_failed"})
		return
	}

	h.service.EndLiveSession(c.Request.Context(), body.ExternalID, body.SessionID)
	c.Status(http.StatusNoContent)
}
