package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	chargedomain "github.com/alphagov/pay-connector-sub019/internal/charge/domain"
)

// ErrNotFound is returned for routes and resources that do not exist.
var ErrNotFound = &apiError{Status: http.StatusNotFound, Code: "not_found", Message: "resource not found"}

type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *apiError) Error() string { return e.Code }

func invalidRequestError() *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: "invalid_request", Message: "invalid request body"}
}

func newValidationError(field, code, message string) *apiError {
	return &apiError{Status: http.StatusUnprocessableEntity, Code: code, Field: field, Message: message}
}

// AbortWithError translates domain errors into API responses. Anything
// unrecognised is a 500 with no detail leaked.
func AbortWithError(c *gin.Context, err error) {
	var api *apiError
	if errors.As(err, &api) {
		c.AbortWithStatusJSON(api.Status, gin.H{"error": api})
		return
	}

	switch {
	case errors.Is(err, chargedomain.ErrChargeNotFound),
		errors.Is(err, chargedomain.ErrAccountNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": &apiError{
			Code:    "not_found",
			Message: err.Error(),
		}})
	case errors.Is(err, chargedomain.ErrInvalidTransition):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": &apiError{
			Code:    "invalid_transition",
			Message: "charge state does not allow this operation",
		}})
	case errors.Is(err, chargedomain.ErrVersionConflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": &apiError{
			Code:    "conflict",
			Message: "charge was modified concurrently, retry",
		}})
	case errors.Is(err, chargedomain.ErrInvalidAmount):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": &apiError{
			Code:    "invalid_amount",
			Message: "amount must be a positive number of pence",
		}})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": &apiError{
			Code:    "internal_error",
			Message: "internal server error",
		}})
	}
}
