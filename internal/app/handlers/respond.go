// Package handlers holds the shared HTTP response helpers used by the
// domain handlers.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/geowatch/geowatch/internal/app/models"
)

// ErrorResponse is the JSON body returned on every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errorCodes = map[error]struct {
	status int
	code   string
}{
	models.ErrValidation:           {http.StatusBadRequest, "validation_failed"},
	models.ErrRateLimited:          {http.StatusTooManyRequests, "creation_limit_reached"},
	models.ErrPoiNotFound:          {http.StatusNotFound, "poi_not_found"},
	models.ErrPoiOutdated:          {http.StatusGone, "poi_outdated"},
	models.ErrSelfConfirmation:     {http.StatusConflict, "self_confirmation"},
	models.ErrTooFar:               {http.StatusConflict, "too_far"},
	models.ErrStaleLocation:        {http.StatusConflict, "stale_location"},
	models.ErrSubscriptionNotFound: {http.StatusNotFound, "subscription_not_found"},
	models.ErrStoreUnavailable:     {http.StatusServiceUnavailable, "store_unavailable"},
}

// RespondError maps a domain error onto an HTTP status and stable code.
// Unrecognized errors are treated as transient store failures so the
// caller retries rather than surfacing internals.
func RespondError(c *gin.Context, err error) {
	for sentinel, m := range errorCodes {
		if errors.Is(err, sentinel) {
			c.AbortWithStatusJSON(m.status, ErrorResponse{Error: err.Error(), Code: m.code})
			return
		}
	}
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{
		Error: models.ErrStoreUnavailable.Error(),
		Code:  "store_unavailable",
	})
}
