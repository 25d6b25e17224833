package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"deep-research-api/internal/models"
	"deep-research-api/internal/pkg/logger"
	"deep-research-api/internal/services"
)

const apiVersion = "1.0.0"

type ResearchHandler struct {
	modelService      *services.ModelService
	researchService   *services.ResearchService
	comparisonService *services.ComparisonService
	metricsService    *services.MetricsService
	logger            *logger.Logger
}

func NewResearchHandler(
	modelService *services.ModelService,
	researchService *services.ResearchService,
	comparisonService *services.ComparisonService,
	metricsService *services.MetricsService,
	log *logger.Logger) *ResearchHandler {

	return &ResearchHandler{
		modelService:      modelService,
		researchService:   researchService,
		comparisonService: comparisonService,
		metricsService:    metricsService,
		logger:            log,
	}
}

func (handler *ResearchHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", handler.Root)
	router.GET("/health", handler.Health)
	router.GET("/models", handler.GetModels)

	research := router.Group("/research")
	{
		research.POST("/stream", handler.StreamResearch)
		research.POST("/compare", handler.CompareModels)
		research.GET("/history", handler.GetHistory)
		research.GET("/comparison", handler.GetModelComparison)
		research.GET("/metrics/:model", handler.GetDetailedMetrics)
		research.DELETE("/history/:session_id", handler.DeleteResearch)
		research.GET("/sessions", handler.GetComparisonSessions)
		research.POST("/sessions/:session_id/feedback", handler.SubmitFeedback)
		research.POST("/test", handler.TestResearch)
	}
}

func (handler *ResearchHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":   "Deep Research Agent API is running",
		"version":   apiVersion,
		"timestamp": time.Now().UTC(),
	})
}

func (handler *ResearchHandler) Health(c *gin.Context) {
	supported := make([]string, 0)
	for _, model := range handler.modelService.ListModels() {
		supported = append(supported, model.ID)
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"services": gin.H{
			"research_service": "active",
			"model_service":    "active",
			"metrics_service":  "active",
		},
		"supported_models": supported,
	})
}

func (handler *ResearchHandler) GetModels(c *gin.Context) {
	list := handler.modelService.ListModels()

	c.JSON(http.StatusOK, models.ModelsResponse{
		Models:             list,
		TotalCount:         len(list),
		SupportedProviders: handler.modelService.SupportedProviders(),
	})
}

// StreamResearch runs one research session and pushes its event stream to the
// client as server-sent events, one frame per event, flushed immediately.
func (handler *ResearchHandler) StreamResearch(c *gin.Context) {
	var request models.ResearchRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sessionID := models.GenerateSessionID()
	startTime := time.Now()

	events, err := handler.researchService.StreamResearch(
		c.Request.Context(), request.Query, request.Model, request.APIKey, sessionID)
	if err != nil {
		handler.writeError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	recorded := false

	for event := range events {
		if err := sse.Encode(c.Writer, sse.Event{
			Event: string(event.Type),
			Data:  event,
		}); err != nil {
			handler.logger.WithError(err).Warn("Client write failed, abandoning session",
				"session_id", sessionID)
			break
		}
		c.Writer.Flush()

		if event.IsTerminal() && !recorded {
			recorded = true
			// Detached context: the request context may already be canceled
			// by a disconnecting client, and the record must still persist.
			handler.metricsService.RecordRun(
				context.Background(), sessionID, request.Model,
				time.Since(startTime).Seconds(), request.Query,
				event.Type == models.EventStageComplete, event.Error)
		}
	}

	if !recorded {
		handler.metricsService.RecordRun(
			context.Background(), sessionID, request.Model,
			time.Since(startTime).Seconds(), request.Query,
			false, "client disconnected before completion")
	}
}

// CompareModels runs the same query against several models and returns the
// assembled session once every run has finished. Bulk, not streamed.
func (handler *ResearchHandler) CompareModels(c *gin.Context) {
	var request models.ComparisonRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := handler.comparisonService.CompareModels(
		c.Request.Context(), request.Query, request.Models, request.APIKeys)
	if err != nil {
		handler.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (handler *ResearchHandler) GetHistory(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 10)
	c.JSON(http.StatusOK, handler.metricsService.History(c.Request.Context(), limit))
}

func (handler *ResearchHandler) GetModelComparison(c *gin.Context) {
	c.JSON(http.StatusOK, handler.metricsService.ModelComparison(c.Request.Context()))
}

func (handler *ResearchHandler) GetDetailedMetrics(c *gin.Context) {
	modelID := c.Param("model")
	if !handler.modelService.ValidateModel(modelID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "model not found: " + modelID})
		return
	}

	c.JSON(http.StatusOK, handler.metricsService.DetailedMetrics(c.Request.Context(), modelID))
}

func (handler *ResearchHandler) DeleteResearch(c *gin.Context) {
	sessionID := c.Param("session_id")

	if !handler.metricsService.DeleteRun(c.Request.Context(), sessionID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "research not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Research deleted successfully"})
}

func (handler *ResearchHandler) GetComparisonSessions(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 10)
	sessions := handler.metricsService.ComparisonSessions(c.Request.Context(), limit)

	c.JSON(http.StatusOK, gin.H{
		"sessions":     sessions,
		"total_count":  len(sessions),
		"generated_at": time.Now().UTC(),
	})
}

func (handler *ResearchHandler) SubmitFeedback(c *gin.Context) {
	sessionID := c.Param("session_id")

	var request models.FeedbackRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !handler.metricsService.UpdateFeedback(c.Request.Context(), sessionID, request.Feedback) {
		c.JSON(http.StatusNotFound, gin.H{"error": "comparison session not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Feedback recorded successfully"})
}

// TestResearch echoes request parameters without invoking the engine.
func (handler *ResearchHandler) TestResearch(c *gin.Context) {
	var request models.ResearchRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":        "Test endpoint - research parameters received",
		"query":          request.Query,
		"model":          request.Model,
		"api_key_length": len(request.APIKey),
		"timestamp":      time.Now().UTC(),
	})
}

func (handler *ResearchHandler) writeError(c *gin.Context, err error) {
	if appErr, ok := err.(*models.AppError); ok {
		switch appErr.Type {
		case models.ErrorTypeValidation, models.ErrorTypeNotFound:
			c.JSON(http.StatusBadRequest, gin.H{"error": appErr.Message, "code": appErr.Code})
			return
		}
	}

	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func parseLimit(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return fallback
	}
	return limit
}
