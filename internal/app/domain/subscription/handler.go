package subscription

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/geowatch/geowatch/internal/app/handlers"
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

type setBody struct {
	ExternalID  string  `json:"external_id" binding:"required"`
	DisplayName string  `json:"display_name"`
	Language    string  `json:"language"`
	RadiusM     float64 `json:"radius_m" binding:"required"`
}

// Set handles PUT /v1/subscriptions.
func (h *Handler) Set(c *gin.Context) {
	var body setBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.log.Warn("Malformed subscription request", zap.Error(err))
		c.JSON(http.StatusBadRequest, handlers.ErrorResponse{Error: err.Error(), Code: "validation_failed"})
		return
	}

	sub, err := h.service.Set(c.Request.Context(), body.ExternalID, body.DisplayName, body.Language, body.RadiusM)
	if err != nil {
		handlers.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

type toggleBody struct {
	ExternalID  string `json:"external_id" binding:"required"`
	DisplayName string `json:"display_name"`
}

// Toggle handles POST /v1/subscriptions/toggle.
func (h *Handler) Toggle(c *gin.Context) {
	var body toggleBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.log.Warn("Malformed toggle request", zap.Error(err))
		c.JSON(http.StatusBadRequest, handlers.ErrorResponse{Error: err.Error(), Code: "validation_failed"})
		return
	}

	res, err := h.service.Toggle(c.Request.Context(), body.ExternalID, body.DisplayName)
	if err != nil {
		handlers.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// Get handles GET /v1/subscriptions.
func (h *Handler) Get(c *gin.Context) {
	externalID := c.Query("external_id")
	if externalID == "" {
		c.JSON(http.StatusBadRequest, handlers.ErrorResponse{Error: "external_id is required", Code: "validation_failed"})
		return
	}

	sub, err := h.service.Get(c.Request.Context(), externalID)
	if err != nil {
		handlers.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, sub)
}

// Unsubscribe handles DELETE /v1/subscriptions.
func (h *Handler) Unsubscribe(c *gin.Context) {
	externalID := c.Query("external_id")
	if externalID == "" {
		c.JSON(http.StatusBadRequest, handlers.ErrorResponse{Error: "external_id is required", Code: "validation_failed"})
		return
	}

	if err := h.service.Unsubscribe(c.Request.Context(), externalID); err != nil {
		handlers.RespondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
