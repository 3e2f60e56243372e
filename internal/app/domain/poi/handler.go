package poi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
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

type createPoiBody struct {
	ExternalID  string   `json:"external_id" binding:"required"`
	DisplayName string   `json:"display_name"`
	Language    string   `json:"language"`
	Category    string   `json:"category" binding:"required"`
	Description string   `json:"description"`
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	PhotoRefs   []string `json:"photo_refs"`
}

// CreatePoi handles POST /v1/pois.
func (h *Handler) CreatePoi(c *gin.Context) {
	var body createPoiBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.log.Warn("Malformed create poi request", zap.Error(err))
		c.JSON(http.StatusBadRequest, handlers.ErrorResponse{Error: err.Error(), Code: "validation_failed"})
		return
	}

	p, err := h.service.CreatePoi(c.Request.Context(), CreatePoiRequest{
		ExternalID:  body.ExternalID,
		DisplayName: body.DisplayName,
		Language:    body.Language,
		Category:    body.Category,
		Description: body.Description,
		Location:    models.Point{Latitude: body.Latitude, Longitude: body.Longitude},
		PhotoRefs:   body.PhotoRefs,
	})
	if err != nil {
		handlers.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, p)
}

type attachPhotosBody struct {
	ExternalID  string   `json:"external_id" binding:"required"`
	DisplayName string   `json:"display_name"`
	PhotoRefs   []string `json:"photo_refs" binding:"required"`
}

type attachPhotosResponse struct {
	PoiID uuid.UUID `json:"poi_id"`
	Added int       `json:"added"`
	Total int       `json:"total"`
}

// AttachPhotos handles POST /v1/pois/:id/photos.
func (h *Handler) AttachPhotos(c *gin.Context) {
	poiID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handlers.ErrorResponse{Error: "invalid poi id", Code: "validation_failed"})
		return
	}

	var body attachPhotosBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.log.Warn("Malformed attach request", zap.Error(err))
		c.JSON(http.StatusBadRequest, handlers.ErrorResponse{Error: err.Error(), Code: "validation_failed"})
		return
	}

	res, err := h.service.AttachPhotos(c.Request.Context(), AttachPhotosRequest{
		ExternalID:  body.ExternalID,
		DisplayName: body.DisplayName,
		PoiID:       poiID,
		PhotoRefs:   body.PhotoRefs,
	})
	if err != nil {
		handlers.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, attachPhotosResponse{
		PoiID: poiID,
		Added: res.Added,
		Total: res.Total,
	})
}

type confirmBody struct {
	ExternalID  string `json:"external_id" binding:"required"`
	DisplayName string `json:"display_name"`
}

type confirmResponse struct {
	PoiID         uuid.UUID `json:"poi_id"`
	Created       bool      `json:"created"`
	Confirmations int       `json:"confirmations"`
}

// Confirm handles POST /v1/pois/:id/confirmations.
func (h *Handler) Confirm(c *gin.Context) {
	poiID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handlers.ErrorResponse{Error: "invalid poi id", Code: "validation_failed"})
		return
	}

	var body confirmBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.log.Warn("Malformed confirm request", zap.Error(err))
		c.JSON(http.StatusBadRequest, handlers.ErrorResponse{Error: err.Error(), Code: "validation_failed"})
		return
	}

	res, err := h.service.Confirm(c.Request.Context(), ConfirmRequest{
		ExternalID:  body.ExternalID,
		DisplayName: body.DisplayName,
		PoiID:       poiID,
	})
	if err != nil {
		handlers.RespondError(c, err)
		return
	}

	status := http.StatusCreated
	if !res.Created {
		status = http.StatusOK
	}
	c.JSON(status, confirmResponse{
		PoiID:         poiID,
		Created:       res.Created,
		Confirmations: res.Confirmations,
	})
}

type nearbyQuery struct {
	Latitude  float64 `form:"latitude" binding:"required"`
	Longitude float64 `form:"longitude" binding:"required"`
	RadiusM   float64 `form:"radius_m" binding:"required"`
	Category  string  `form:"category"`
}

// FindNearby handles GET /v1/pois/nearby.
func (h *Handler) FindNearby(c *gin.Context) {
	var q nearbyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, handlers.ErrorResponse{Error: err.Error(), Code: "validation_failed"})
		return
	}

	results, err := h.service.FindNearby(c.Request.Context(), NearbyRequest{
		Center:       models.Point{Latitude: q.Latitude, Longitude: q.Longitude},
		RadiusMeters: q.RadiusM,
		Category:     q.Category,
	})
	if err != nil {
		handlers.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"pois": results, "count": len(results)})
}
