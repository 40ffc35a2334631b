package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/onichip/pettrack-backend-go/internal/apperr"
)

// Response represents a standard API response
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Created sends a 201 response
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    0,
		Message: "created",
		Data:    data,
	})
}

// Error sends an error response
func Error(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, Response{
		Code:    code,
		Message: message,
	})
}

// BadRequest sends a 400 bad request response
func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

// Unauthorized sends a 401 response
func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, message)
}

// NotFound sends a 404 not found response
func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, message)
}

// InternalError sends a 500 internal server error response
func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, message)
}

// StatusOf maps an error category to an HTTP status.
func StatusOf(err error) int {
	switch apperr.CategoryOf(err) {
	case apperr.CategoryValidation:
		return http.StatusBadRequest
	case apperr.CategoryNotFound:
		return http.StatusNotFound
	case apperr.CategoryAuth:
		return http.StatusForbidden
	case apperr.CategoryResolution:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// FromError sends err with the status its category maps to. Internal
// errors are logged by the caller and not echoed to the client.
func FromError(c *gin.Context, err error) {
	status := StatusOf(err)
	_ = c.Error(err)

	resp := Response{Code: status, Message: http.StatusText(status)}
	if code := apperr.CodeOf(err); code != "" {
		resp.Error = code
		resp.Message = err.Error()
	}
	if status == http.StatusInternalServerError {
		resp.Message = "internal error"
	}
	c.AbortWithStatusJSON(status, resp)
}
