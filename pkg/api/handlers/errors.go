package handlers

import (
	"github.com/ebpf-bandwidth/agent/pkg/api/models"
	"github.com/gin-gonic/gin"
)

// respondError writes an ErrorResponse and attaches cause to the request so
// the request logger reports it.
func respondError(c *gin.Context, status int, errCode, message string, cause error) {
	if cause != nil {
		_ = c.Error(cause)
	}
	c.AbortWithStatusJSON(status, models.NewErrorResponse(status, errCode, message, cause))
}
