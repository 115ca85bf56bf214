package handler

import (
	"errors"
	"net/http"

	"formio-api/internal/apperr"
	"formio-api/internal/validator"
	"formio-api/pkg/response"

	"github.com/gin-gonic/gin"
)

// Helper: management endpoints answer with the response envelope
func respondError(c *gin.Context, err error) {
	status, _ := apperr.StatusOf(err)
	c.JSON(status, response.Error(status, apperr.Message(err)))
}

// Helper: submission endpoints answer the way form.io clients expect, a
// ValidationError object or a plain string body
func respondSubmissionError(c *gin.Context, err error) {
	var verr *validator.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, verr)
		return
	}
	status, _ := apperr.StatusOf(err)
	c.String(status, apperr.Message(err))
}

func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
}
