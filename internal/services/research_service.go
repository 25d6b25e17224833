package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"deep-research-api/internal/models"
	"deep-research-api/internal/pkg/logger"
)

// ResearchService drives one end-to-end research session: it pumps the
// engine's update stream through the event translator and stage tracker and
// emits a normalized, strictly ordered event stream.
type ResearchService struct {
	modelService *ModelService
	engine       ResearchEngine
	translator   *EventTranslator
	logger       *logger.Logger
}

func NewResearchService(modelService *ModelService, engine ResearchEngine, translator *EventTranslator, log *logger.Logger) *ResearchService {
	service := &ResearchService{
		modelService: modelService,
		engine:       engine,
		translator:   translator,
		logger:       log,
	}

	log.Info("Research Service Initialized Successfully")

	return service
}

// StreamResearch validates the request and returns the session's live event
// channel. The channel carries exactly one session_start first and exactly
// one terminal stage_complete or error event last, then closes. Validation
// failures return an error before any event is produced.
func (service *ResearchService) StreamResearch(ctx context.Context, query, modelID, apiKey, sessionID string) (<-chan models.StreamingEvent, error) {
	if strings.TrimSpace(query) == "" {
		return nil, models.NewValidationError("EMPTY_QUERY", "research query cannot be empty")
	}

	if strings.TrimSpace(apiKey) == "" {
		return nil, models.NewValidationError("MISSING_API_KEY", "API key is required")
	}

	engineConfig, err := service.modelService.BuildEngineConfig(modelID, apiKey)
	if err != nil {
		return nil, models.NewValidationError("UNSUPPORTED_MODEL",
			fmt.Sprintf("unsupported model: %s", modelID)).WithCause(err)
	}

	events := make(chan models.StreamingEvent)

	go service.run(ctx, query, modelID, sessionID, engineConfig, events)

	return events, nil
}

func (service *ResearchService) run(ctx context.Context, query, modelID, sessionID string, engineConfig *models.EngineConfig, events chan<- models.StreamingEvent) {
	defer close(events)

	startTime := time.Now()
	tracker := NewStageTracker()
	tracker.OnStageSignal(models.StageInitialization, startTime)

	// Back-pressure from a slow client stalls this session only. A gone
	// client cancels the context and the session is abandoned.
	emit := func(event models.StreamingEvent) bool {
		select {
		case events <- event:
			return true
		case <-ctx.Done():
			service.logger.LogSession(sessionID, modelID, "session_abandoned", time.Since(startTime), ctx.Err())
			return false
		}
	}

	startEvent := models.NewStreamingEvent(models.EventSessionStart, models.StageInitialization,
		fmt.Sprintf("Starting deep research for: %s", query), sessionID, modelID)
	startEvent.Metadata["query"] = query
	startEvent.Metadata["model_config"] = modelID

	if !emit(startEvent) {
		return
	}

	service.logger.LogSession(sessionID, modelID, "session_started", 0, nil)

	updates, err := service.engine.Stream(ctx, query, engineConfig)
	if err != nil {
		tracker.Finalize(time.Now())
		emit(service.errorEvent(sessionID, modelID, tracker, 0, err))
		service.logger.LogSession(sessionID, modelID, "session_failed", time.Since(startTime), err)
		return
	}

	nodeCount := 0
	var engineErr error

	for update := range updates {
		if update.Err != nil {
			engineErr = update.Err
			break
		}

		nodeCount++

		translated := service.translator.Translate(update.Node, update.Payload, nodeCount, sessionID, modelID)
		tracker.OnStageSignal(translated[0].Stage, time.Now())

		for _, event := range translated {
			if !emit(event) {
				return
			}
		}
	}

	tracker.Finalize(time.Now())

	if engineErr != nil {
		emit(service.errorEvent(sessionID, modelID, tracker, nodeCount, engineErr))
		service.logger.LogSession(sessionID, modelID, "session_failed", time.Since(startTime), engineErr)
		return
	}

	completeEvent := models.NewStreamingEvent(models.EventStageComplete, models.StageCompleted,
		"Deep research completed successfully", sessionID, modelID)
	completeEvent.Metadata["total_nodes"] = nodeCount
	completeEvent.Metadata["stage_timings"] = tracker.Timings()

	emit(completeEvent)
	service.logger.LogSession(sessionID, modelID, "session_completed", time.Since(startTime), nil)
}

// errorEvent builds the single terminal error event for a failed session,
// carrying the last-known stage and the timings accumulated so far.
func (service *ResearchService) errorEvent(sessionID, modelID string, tracker *StageTracker, nodeCount int, cause error) models.StreamingEvent {
	event := models.NewStreamingEvent(models.EventError, models.StageError,
		fmt.Sprintf("Error occurred: %s", cause.Error()), sessionID, modelID)
	event.Error = cause.Error()
	event.Metadata["last_stage"] = string(tracker.CurrentStage())
	event.Metadata["total_nodes"] = nodeCount
	event.Metadata["stage_timings"] = tracker.Timings()
	return event
}
