// Package response writes the JSON envelope shared by every REST endpoint.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// BadRequest sends 400.
func BadRequest(c *gin.Context, msg string) { fail(c, http.StatusBadRequest, msg) }

// NotFound sends 404.
func NotFound(c *gin.Context, msg string) { fail(c, http.StatusNotFound, msg) }

// ServiceUnavailable sends 503, used when an optional backend (S3) is not configured.
func ServiceUnavailable(c *gin.Context, msg string) { fail(c, http.StatusServiceUnavailable, msg) }

// Internal sends 500. msg goes to the client as is, so never pass raw store errors.
func Internal(c *gin.Context, msg string) { fail(c, http.StatusInternalServerError, msg) }

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, Body{Success: false, Error: msg})
}
