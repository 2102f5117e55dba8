package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"learning-coach-platform/internal/ai"
	"learning-coach-platform/internal/database"
	"learning-coach-platform/internal/logger"
	"learning-coach-platform/models"
	"learning-coach-platform/utils"
)

// SetupChatRoutes registers the general coach chat endpoint.
func SetupChatRoutes(router *gin.Engine, coach ai.CoachChatter) {
	chat := router.Group("/api/v1/chat")

	chat.POST("", func(c *gin.Context) {
		var req models.CoachChatRequest
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "invalid_input",
				"message":    "message is required",
			})
			return
		}

		answer, err := coach.Chat(c.Request.Context(), strings.TrimSpace(req.Message))
		if err != nil {
			logger.Error("Coach chat failed", "error", err)
			utils.RespondWithDomainError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"answer": answer, "timestamp": time.Now().UTC()})
	})
}

// SetupHealthRoutes registers the liveness probe.
func SetupHealthRoutes(router *gin.Engine, store database.Store, queueMode string) {
	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := utils.WithShortTimeout(c.Request.Context())
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"store":  err.Error(),
				"queue":  queueMode,
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "healthy", "store": "ok", "queue": queueMode, "timestamp": time.Now()})
	})
}
