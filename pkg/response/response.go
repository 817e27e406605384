package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body is the envelope every REST endpoint responds with.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func JSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Body{Success: true, Data: data})
}

func Error(c *gin.Context, status int, message string) {
	c.JSON(status, Body{Success: false, Error: message})
}

// AbortError responds and stops the middleware chain.
func AbortError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Body{Success: false, Error: message})
}

func OK(c *gin.Context, data interface{}) {
	JSON(c, http.StatusOK, data)
}
