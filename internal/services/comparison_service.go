package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"deep-research-api/internal/models"
	"deep-research-api/internal/pkg/logger"
)

// ComparisonService runs the same query against several models concurrently
// and merges the per-model outcomes into one comparable result set.
type ComparisonService struct {
	modelService    *ModelService
	researchService *ResearchService
	metricsService  *MetricsService
	logger          *logger.Logger
}

func NewComparisonService(modelService *ModelService, researchService *ResearchService, metricsService *MetricsService, log *logger.Logger) *ComparisonService {
	service := &ComparisonService{
		modelService:    modelService,
		researchService: researchService,
		metricsService:  metricsService,
		logger:          log,
	}

	log.Info("Comparison Service Initialized Successfully")

	return service
}

// CompareModels validates the whole request up front, then launches one
// research run per model. The result list order always matches the requested
// model order; a failed run contributes a success=false entry and never
// aborts its siblings.
func (service *ComparisonService) CompareModels(ctx context.Context, query string, modelIDs []string, apiKeys map[string]string) (*models.ComparisonSession, error) {
	if err := service.validateRequest(query, modelIDs, apiKeys); err != nil {
		return nil, err
	}

	session := models.NewComparisonSession(query)
	startTime := time.Now()

	service.logger.Info("Comparison started",
		"session_id", session.SessionID,
		"models", modelIDs)

	results := make([]models.ComparisonResult, len(modelIDs))

	var wg sync.WaitGroup
	for i, modelID := range modelIDs {
		wg.Add(1)
		go func(index int, modelID string) {
			defer wg.Done()
			results[index] = service.runModel(ctx, query, modelID, apiKeys[modelID], session.SessionID)
		}(i, modelID)
	}
	wg.Wait()

	session.Results = results

	service.metricsService.RecordComparisonSession(ctx, session)

	service.logger.LogService("comparison", "compare_models", time.Since(startTime), map[string]interface{}{
		"session_id":  session.SessionID,
		"model_count": len(modelIDs),
		"successes":   countSuccesses(results),
	}, nil)

	return session, nil
}

func (service *ComparisonService) validateRequest(query string, modelIDs []string, apiKeys map[string]string) error {
	if strings.TrimSpace(query) == "" {
		return models.NewValidationError("EMPTY_QUERY", "comparison query cannot be empty")
	}

	if len(modelIDs) == 0 {
		return models.NewValidationError("NO_MODELS", "at least one model is required")
	}

	seen := make(map[string]bool)
	for _, modelID := range modelIDs {
		if seen[modelID] {
			return models.NewValidationError("DUPLICATE_MODEL",
				fmt.Sprintf("model requested more than once: %s", modelID))
		}
		seen[modelID] = true

		if !service.modelService.ValidateModel(modelID) {
			return models.NewValidationError("UNSUPPORTED_MODEL",
				fmt.Sprintf("unsupported model: %s", modelID))
		}

		if strings.TrimSpace(apiKeys[modelID]) == "" {
			return models.NewValidationError("MISSING_API_KEY",
				fmt.Sprintf("missing API key for model: %s", modelID))
		}
	}

	return nil
}

// runModel executes one research session and folds its event stream into a
// ComparisonResult. All failures end up inside the result, never as an error.
func (service *ComparisonService) runModel(ctx context.Context, query, modelID, apiKey, comparisonID string) models.ComparisonResult {
	sessionID := fmt.Sprintf("%s_%s", comparisonID, modelID)
	result := models.NewComparisonResult(modelID)
	startTime := time.Now()

	events, err := service.researchService.StreamResearch(ctx, query, modelID, apiKey, sessionID)
	if err != nil {
		result.Error = err.Error()
		result.Duration = time.Since(startTime).Seconds()
		return *result
	}

	var content strings.Builder
	var report strings.Builder

	for event := range events {
		switch event.Type {
		case models.EventStageUpdate, models.EventResearchFinding, models.EventResearchSummary:
			content.WriteString(event.Content)
			content.WriteString("\n")

			if event.Stage == models.StageFinalReport {
				report.WriteString(event.Content)
				report.WriteString("\n")
			}

		case models.EventStageComplete:
			result.Success = true
			result.StageTimings = stageTimingsFromMetadata(event.Metadata)

		case models.EventError:
			result.Success = false
			result.Error = event.Error
			if result.Error == "" {
				result.Error = event.Content
			}
			result.StageTimings = stageTimingsFromMetadata(event.Metadata)
		}

		result.SourcesFound += metadataInt(event.Metadata, "sources_found")

		for _, tool := range metadataStrings(event.Metadata, "tools_used") {
			result.AddTool(tool)
		}
	}

	result.Duration = time.Since(startTime).Seconds()
	result.WordCount = len(strings.Fields(content.String()))
	result.ReportContent = strings.TrimSpace(report.String())

	service.metricsService.RecordRun(ctx, sessionID, modelID, result.Duration, query, result.Success, result.Error)

	return *result
}

func countSuccesses(results []models.ComparisonResult) int {
	count := 0
	for _, result := range results {
		if result.Success {
			count++
		}
	}
	return count
}

// metadataInt reads a numeric metadata value regardless of whether the event
// travelled in-process (int) or through JSON (float64).
func metadataInt(metadata map[string]any, key string) int {
	switch value := metadata[key].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	default:
		return 0
	}
}

func metadataStrings(metadata map[string]any, key string) []string {
	switch value := metadata[key].(type) {
	case []string:
		return value
	case []any:
		var items []string
		for _, item := range value {
			if text, ok := item.(string); ok {
				items = append(items, text)
			}
		}
		return items
	default:
		return nil
	}
}

func stageTimingsFromMetadata(metadata map[string]any) models.StageTimings {
	switch value := metadata["stage_timings"].(type) {
	case models.StageTimings:
		return value
	case map[string]any:
		return models.StageTimings{
			Clarification:     metadataFloat(value, "clarification"),
			ResearchBrief:     metadataFloat(value, "research_brief"),
			ResearchExecution: metadataFloat(value, "research_execution"),
			FinalReport:       metadataFloat(value, "final_report"),
		}
	default:
		return models.StageTimings{}
	}
}

func metadataFloat(metadata map[string]any, key string) float64 {
	switch value := metadata[key].(type) {
	case float64:
		return value
	case int:
		return float64(value)
	default:
		return 0
	}
}
