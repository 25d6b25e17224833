package services

import (
	"context"
	"math"
	"sync"
	"time"

	"deep-research-api/internal/models"
	"deep-research-api/internal/pkg/logger"
)

// MetricsStore is the durable backend contract. A nil store means durable
// persistence is disabled and the in-memory structures are authoritative.
type MetricsStore interface {
	StoreResearchRecord(ctx context.Context, record models.ResearchRecord) error
	ResearchRecords(ctx context.Context, limit int) ([]models.ResearchRecord, error)
	DeleteResearchRecord(ctx context.Context, sessionID string) (bool, error)
	StoreComparisonSession(ctx context.Context, session *models.ComparisonSession) error
	ComparisonSessions(ctx context.Context, limit int) ([]*models.ComparisonSession, error)
	UpdateSessionFeedback(ctx context.Context, sessionID string, feedback map[string]any) (bool, error)
}

// MetricsService records completed runs and comparison sessions and derives
// per-model aggregate statistics. Durable storage is preferred; every
// operation degrades to the in-memory fallback so a storage outage never
// fails the caller's request.
type MetricsService struct {
	modelIDs []string
	store    MetricsStore
	logger   *logger.Logger

	mu       sync.Mutex
	history  []models.ResearchRecord
	sessions []*models.ComparisonSession
}

func NewMetricsService(modelIDs []string, store MetricsStore, log *logger.Logger) *MetricsService {
	service := &MetricsService{
		modelIDs: modelIDs,
		store:    store,
		logger:   log,
	}

	log.Info("Metrics Service Initialized Successfully",
		"durable_backend", store != nil,
		"models_tracked", len(modelIDs))

	return service
}

// RecordRun appends one completed single-session run. Append-only; prior
// records are never overwritten.
func (service *MetricsService) RecordRun(ctx context.Context, sessionID, model string, duration float64, query string, success bool, errText string) {
	record := models.ResearchRecord{
		SessionID: sessionID,
		Model:     model,
		Query:     query,
		Duration:  duration,
		Success:   success,
		Error:     errText,
		Timestamp: time.Now().UTC(),
	}

	service.mu.Lock()
	service.history = append(service.history, record)
	service.mu.Unlock()

	if service.store != nil {
		if err := service.store.StoreResearchRecord(ctx, record); err != nil {
			service.logger.WithError(err).Warn("Durable run record write failed, in-memory copy retained",
				"session_id", sessionID)
		}
	}
}

// RecordComparisonSession persists a finished comparison session, durable
// backend first. The write always logically succeeds: on backend failure the
// session is kept in memory and the caller's workflow continues.
func (service *MetricsService) RecordComparisonSession(ctx context.Context, session *models.ComparisonSession) {
	if service.store != nil {
		if err := service.store.StoreComparisonSession(ctx, session); err == nil {
			return
		} else {
			service.logger.WithError(err).Warn("Durable comparison write failed, falling back to memory",
				"session_id", session.SessionID)
		}
	}

	// Stored sessions are private copies; the caller keeps mutating and
	// returning its own pointer.
	service.mu.Lock()
	service.sessions = append(service.sessions, session.Clone())
	service.mu.Unlock()
}

// History returns recent single-run records, most recent first.
func (service *MetricsService) History(ctx context.Context, limit int) models.HistoryResponse {
	records := service.allRecords(ctx)

	total := len(records)
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	return models.HistoryResponse{
		History:     records,
		TotalCount:  total,
		GeneratedAt: time.Now().UTC(),
	}
}

func (service *MetricsService) allRecords(ctx context.Context) []models.ResearchRecord {
	if service.store != nil {
		records, err := service.store.ResearchRecords(ctx, 0)
		if err == nil {
			return records
		}
		service.logger.WithError(err).Warn("Durable history read failed, using in-memory records")
	}

	service.mu.Lock()
	defer service.mu.Unlock()

	records := make([]models.ResearchRecord, len(service.history))
	for i, record := range service.history {
		records[len(service.history)-1-i] = record
	}
	return records
}

// DeleteRun removes a run record by session id from every store that has it.
// Idempotent: a missing id returns false, never an error.
func (service *MetricsService) DeleteRun(ctx context.Context, sessionID string) bool {
	deleted := false

	service.mu.Lock()
	for i, record := range service.history {
		if record.SessionID == sessionID {
			service.history = append(service.history[:i], service.history[i+1:]...)
			deleted = true
			break
		}
	}
	service.mu.Unlock()

	if service.store != nil {
		ok, err := service.store.DeleteResearchRecord(ctx, sessionID)
		if err != nil {
			service.logger.WithError(err).Warn("Durable run delete failed", "session_id", sessionID)
		}
		deleted = deleted || ok
	}

	if deleted {
		service.logger.Info("Deleted research session", "session_id", sessionID)
	}

	return deleted
}

// ComparisonSessions returns stored comparison sessions, most recent first.
func (service *MetricsService) ComparisonSessions(ctx context.Context, limit int) []*models.ComparisonSession {
	if service.store != nil {
		sessions, err := service.store.ComparisonSessions(ctx, limit)
		if err == nil {
			return sessions
		}
		service.logger.WithError(err).Warn("Durable session read failed, using in-memory sessions")
	}

	service.mu.Lock()
	defer service.mu.Unlock()

	// Copies again on the way out, so readers never race a feedback update.
	sessions := make([]*models.ComparisonSession, 0, len(service.sessions))
	for i := len(service.sessions) - 1; i >= 0; i-- {
		sessions = append(sessions, service.sessions[i].Clone())
		if limit > 0 && len(sessions) == limit {
			break
		}
	}
	return sessions
}

// UpdateFeedback attaches user feedback to a comparison session. Returns
// whether the session was found.
func (service *MetricsService) UpdateFeedback(ctx context.Context, sessionID string, feedback map[string]any) bool {
	if service.store != nil {
		found, err := service.store.UpdateSessionFeedback(ctx, sessionID, feedback)
		if err != nil {
			service.logger.WithError(err).Warn("Durable feedback update failed", "session_id", sessionID)
		} else if found {
			return true
		}
	}

	service.mu.Lock()
	defer service.mu.Unlock()

	for _, session := range service.sessions {
		if session.SessionID == sessionID {
			session.UserFeedback = feedback
			return true
		}
	}
	return false
}

// ModelComparison computes per-model aggregates from stored history. Models
// with zero recorded runs report zero averages, not an error.
func (service *MetricsService) ModelComparison(ctx context.Context) models.ModelComparisonResponse {
	records := service.allRecords(ctx)
	sessions := service.ComparisonSessions(ctx, 0)

	metricsList := make([]models.ModelMetrics, 0, len(service.modelIDs))
	totalRequests := 0

	for _, modelID := range service.modelIDs {
		metrics := service.aggregateModel(modelID, records, sessions)
		totalRequests += metrics.TotalRequests
		metricsList = append(metricsList, metrics)
	}

	return models.ModelComparisonResponse{
		Models:        metricsList,
		TotalRequests: totalRequests,
		GeneratedAt:   time.Now().UTC(),
	}
}

func (service *MetricsService) aggregateModel(modelID string, records []models.ResearchRecord, sessions []*models.ComparisonSession) models.ModelMetrics {
	metrics := models.ModelMetrics{Model: modelID}

	var (
		runCount      int
		successCount  int
		totalDuration float64
		lastUsed      time.Time
	)

	for _, record := range records {
		if record.Model != modelID {
			continue
		}
		runCount++
		totalDuration += record.Duration
		if record.Success {
			successCount++
		}
		if record.Timestamp.After(lastUsed) {
			lastUsed = record.Timestamp
		}
	}

	var (
		comparisonCount int
		totalSources    float64
		totalWords      float64
		totalTimings    models.StageTimings
	)

	for _, session := range sessions {
		for _, result := range session.Results {
			if result.Model != modelID {
				continue
			}
			comparisonCount++
			totalSources += float64(result.SourcesFound)
			totalWords += float64(result.WordCount)
			totalTimings.Clarification += result.StageTimings.Clarification
			totalTimings.ResearchBrief += result.StageTimings.ResearchBrief
			totalTimings.ResearchExecution += result.StageTimings.ResearchExecution
			totalTimings.FinalReport += result.StageTimings.FinalReport
			if session.Timestamp.After(lastUsed) {
				lastUsed = session.Timestamp
			}
		}
	}

	metrics.TotalRequests = runCount
	if runCount > 0 {
		metrics.AverageDuration = round2(totalDuration / float64(runCount))
		metrics.SuccessRate = round2(float64(successCount) / float64(runCount) * 100)
	}

	if comparisonCount > 0 {
		divisor := float64(comparisonCount)
		metrics.AverageSourcesFound = round2(totalSources / divisor)
		metrics.AverageWordCount = math.Round(totalWords / divisor)
		metrics.AverageStageTimings = models.StageTimings{
			Clarification:     round2(totalTimings.Clarification / divisor),
			ResearchBrief:     round2(totalTimings.ResearchBrief / divisor),
			ResearchExecution: round2(totalTimings.ResearchExecution / divisor),
			FinalReport:       round2(totalTimings.FinalReport / divisor),
		}
	}

	if !lastUsed.IsZero() {
		metrics.LastUsed = &lastUsed
	}

	return metrics
}

// DetailedMetrics reports duration statistics for one model's recorded runs.
func (service *MetricsService) DetailedMetrics(ctx context.Context, modelID string) map[string]any {
	records := service.allRecords(ctx)

	var modelRecords []models.ResearchRecord
	for _, record := range records {
		if record.Model == modelID {
			modelRecords = append(modelRecords, record)
		}
	}

	if len(modelRecords) == 0 {
		return map[string]any{
			"model":          modelID,
			"total_requests": 0,
			"metrics":        map[string]any{},
		}
	}

	var (
		totalDuration float64
		minDuration   = math.MaxFloat64
		maxDuration   float64
		successCount  int
	)

	for _, record := range modelRecords {
		totalDuration += record.Duration
		minDuration = math.Min(minDuration, record.Duration)
		maxDuration = math.Max(maxDuration, record.Duration)
		if record.Success {
			successCount++
		}
	}

	recent := modelRecords
	if len(recent) > 5 {
		recent = recent[:5]
	}

	count := float64(len(modelRecords))
	return map[string]any{
		"model":               modelID,
		"total_requests":      len(modelRecords),
		"successful_requests": successCount,
		"success_rate":        round2(float64(successCount) / count * 100),
		"average_duration":    round2(totalDuration / count),
		"min_duration":        round2(minDuration),
		"max_duration":        round2(maxDuration),
		"total_duration":      round2(totalDuration),
		"recent_requests":     recent,
	}
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
