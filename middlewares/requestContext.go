package middlewares

import (
	"net/http"

	"bitbucket.org/mmdatafocus/parts_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestContext lifts the tenant and caller identity headers into the
// request context where the models expect them. Requests without a business
// id are rejected before they reach any handler.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId := c.GetHeader("X-Business-Id")
		if businessId == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "X-Business-Id header is required"})
			return
		}
		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		if userName := c.GetHeader("X-User-Name"); userName != "" {
			ctx = utils.SetUserNameInContext(ctx, userName)
		}
		correlationId := c.GetHeader("X-Correlation-Id")
		if correlationId == "" {
			correlationId = uuid.NewString()
		}
		ctx = utils.SetCorrelationIdInContext(ctx, correlationId)
		c.Header("X-Correlation-Id", correlationId)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
