package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body is the envelope every JSON endpoint answers with.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Success writes data under the given status.
func Success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Body{Success: true, Data: data})
}

// Fail writes an error message under the given status.
func Fail(c *gin.Context, status int, msg string) {
	c.JSON(status, Body{Success: false, Error: msg})
}

// OK sends 200 with data.
func OK(c *gin.Context, data interface{}) { Success(c, http.StatusOK, data) }

// Created sends 201 with data.
func Created(c *gin.Context, data interface{}) { Success(c, http.StatusCreated, data) }

func BadRequest(c *gin.Context, msg string)   { Fail(c, http.StatusBadRequest, msg) }
func Unauthorized(c *gin.Context, msg string) { Fail(c, http.StatusUnauthorized, msg) }
func Forbidden(c *gin.Context, msg string)    { Fail(c, http.StatusForbidden, msg) }
func NotFound(c *gin.Context, msg string)     { Fail(c, http.StatusNotFound, msg) }
func Conflict(c *gin.Context, msg string)     { Fail(c, http.StatusConflict, msg) }
func Internal(c *gin.Context, msg string)     { Fail(c, http.StatusInternalServerError, msg) }

// TooManyRequests sends 429; callers set Retry-After first.
func TooManyRequests(c *gin.Context, msg string) { Fail(c, http.StatusTooManyRequests, msg) }

// ServiceUnavailable sends 503, used by the health check when a dependency is down.
func ServiceUnavailable(c *gin.Context, msg string) { Fail(c, http.StatusServiceUnavailable, msg) }
