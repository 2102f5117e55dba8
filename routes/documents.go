package routes

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"learning-coach-platform/internal/database"
	"learning-coach-platform/internal/logger"
	"learning-coach-platform/internal/queue"
	"learning-coach-platform/models"
	"learning-coach-platform/services"
	"learning-coach-platform/utils"
)

// DocumentDeps are the collaborators the document endpoints need.
type DocumentDeps struct {
	Store      database.Store
	Dispatcher queue.Dispatcher
	RAG        *services.RAGService
}

func SetupDocumentRoutes(router *gin.Engine, deps DocumentDeps) {
	documents := router.Group("/api/v1/documents")

	// Register an already-stored file and schedule indexing
	documents.POST("", func(c *gin.Context) {
		var req models.RegisterDocumentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "invalid_input",
				"message":    "Invalid request data",
				"details":    gin.H{"error": err.Error()},
			})
			return
		}

		info, err := os.Stat(req.FilePath)
		if err != nil || info.IsDir() {
			utils.RespondWithBadRequest(c, "File not found in storage", gin.H{"file_path": req.FilePath})
			return
		}

		title := strings.TrimSpace(req.Title)
		if title == "" {
			title = info.Name()
		}

		now := time.Now().UTC()
		doc := &models.Document{
			ID:            uuid.NewString(),
			UserID:        req.UserID,
			Title:         title,
			FilePath:      req.FilePath,
			MimeType:      req.MimeType,
			FileSizeBytes: info.Size(),
			Status:        models.StatusUploaded,
			UploadedAt:    now,
			UpdatedAt:     now,
		}

		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		if err := deps.Store.CreateDocument(ctx, doc); err != nil {
			logger.Error("Failed to create document", "error", err)
			utils.RespondWithInternalError(c, "Failed to save document", nil)
			return
		}

		taskID, err := deps.Dispatcher.EnqueueIndex(ctx, doc.ID)
		if err != nil {
			logger.Error("Failed to enqueue indexing", "document_id", doc.ID, "error", err)
			// Nothing else picks an unqueued row up, so leave it failed and reindexable
			if markErr := deps.Store.MarkFailed(context.WithoutCancel(ctx), doc.ID, "failed to queue indexing: "+err.Error()); markErr != nil {
				logger.Error("Failed to mark unqueued document", "document_id", doc.ID, "error", markErr)
			}
			utils.RespondWithDomainError(c, err)
			return
		}

		logger.Info("Document registered", "document_id", doc.ID, "user_id", doc.UserID, "task_id", taskID)
		c.JSON(http.StatusAccepted, models.QueuedResponse{Status: "queued", TaskID: taskID, Document: doc})
	})

	documents.GET("", func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			utils.RespondWithBadRequest(c, "user_id is required", nil)
			return
		}

		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		docs, err := deps.Store.ListDocuments(ctx, userID)
		if err != nil {
			logger.Error("Failed to list documents", "user_id", userID, "error", err)
			utils.RespondWithInternalError(c, "Failed to list documents", nil)
			return
		}
		if docs == nil {
			docs = []models.Document{}
		}

		c.JSON(http.StatusOK, gin.H{"documents": docs, "total": len(docs)})
	})

	documents.GET("/:id", func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		doc, err := deps.Store.GetDocument(ctx, c.Param("id"))
		if err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, doc)
	})

	documents.POST("/:id/reindex", func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		doc, err := deps.Store.GetDocument(ctx, c.Param("id"))
		if err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}

		if _, err := os.Stat(doc.FilePath); err != nil {
			utils.RespondWithBadRequest(c, "File not found in storage", gin.H{"file_path": doc.FilePath})
			return
		}

		taskID, err := deps.Dispatcher.EnqueueIndex(ctx, doc.ID)
		if err != nil {
			if !errors.Is(err, models.ErrIndexAlreadyQueued) {
				logger.Error("Failed to enqueue reindex", "document_id", doc.ID, "error", err)
			}
			utils.RespondWithDomainError(c, err)
			return
		}

		logger.Info("Reindex queued", "document_id", doc.ID, "task_id", taskID)
		c.JSON(http.StatusAccepted, models.QueuedResponse{Status: "queued", TaskID: taskID})
	})

	documents.DELETE("/:id", func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		id := c.Param("id")
		doc, err := deps.Store.GetDocument(ctx, id)
		if err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}

		if err := deps.Store.SoftDeleteDocument(ctx, id); err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}
		if err := deps.Store.DeleteChunks(ctx, id); err != nil {
			logger.Warn("Failed to delete chunks", "document_id", id, "error", err)
		}
		if err := os.Remove(doc.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("Failed to remove stored file", "document_id", id, "path", doc.FilePath, "error", err)
		}

		logger.Info("Document deleted", "document_id", id)
		c.JSON(http.StatusOK, gin.H{"message": "Document deleted successfully", "id": id})
	})

	documents.POST("/:id/chat", func(c *gin.Context) {
		var req models.DocumentChatRequest
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Question) == "" {
			utils.RespondWithBadRequest(c, "question is required", nil)
			return
		}

		ctx := c.Request.Context()
		doc, err := deps.Store.GetDocument(ctx, c.Param("id"))
		if err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}
		if !doc.IsReady() {
			utils.RespondWithError(c, http.StatusConflict, "DOCUMENT_NOT_READY", "Document is still being processed",
				gin.H{"status": doc.Status, "processing_progress": doc.ProcessingProgress})
			return
		}

		answer, err := deps.RAG.Answer(ctx, doc.ID, strings.TrimSpace(req.Question), doc.Title)
		if err != nil {
			logger.Error("Document chat failed", "document_id", doc.ID, "error", err)
			utils.RespondWithDomainError(c, err)
			return
		}

		c.JSON(http.StatusOK, answer)
	})
}
