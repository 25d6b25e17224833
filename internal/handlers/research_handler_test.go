package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"deep-research-api/internal/models"
	"deep-research-api/internal/pkg/logger"
	"deep-research-api/internal/services"
)

// replayEngine feeds a fixed node sequence to every research run.
type replayEngine struct {
	updates []models.NodeUpdate
}

func (engine *replayEngine) Stream(ctx context.Context, query string, engineConfig *models.EngineConfig) (<-chan models.NodeUpdate, error) {
	out := make(chan models.NodeUpdate)
	go func() {
		defer close(out)
		for _, update := range engine.updates {
			select {
			case out <- update:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// refusingEngine fails every dial, so the session always ends in an error.
type refusingEngine struct{}

func (engine *refusingEngine) Stream(ctx context.Context, query string, engineConfig *models.EngineConfig) (<-chan models.NodeUpdate, error) {
	return nil, errors.New("engine connection lost")
}

// captureStore records every durable write together with the state of the
// context it arrived on.
type captureStore struct {
	records []models.ResearchRecord
	ctxErrs []error
}

func (store *captureStore) StoreResearchRecord(ctx context.Context, record models.ResearchRecord) error {
	store.ctxErrs = append(store.ctxErrs, ctx.Err())
	store.records = append(store.records, record)
	return nil
}

func (store *captureStore) ResearchRecords(ctx context.Context, limit int) ([]models.ResearchRecord, error) {
	return store.records, nil
}

func (store *captureStore) DeleteResearchRecord(ctx context.Context, sessionID string) (bool, error) {
	return false, nil
}

func (store *captureStore) StoreComparisonSession(ctx context.Context, session *models.ComparisonSession) error {
	return nil
}

func (store *captureStore) ComparisonSessions(ctx context.Context, limit int) ([]*models.ComparisonSession, error) {
	return nil, nil
}

func (store *captureStore) UpdateSessionFeedback(ctx context.Context, sessionID string, feedback map[string]any) (bool, error) {
	return false, nil
}

func newTestRouter(engine services.ResearchEngine) (*gin.Engine, *services.MetricsService) {
	return newTestRouterWithStore(engine, nil)
}

func newTestRouterWithStore(engine services.ResearchEngine, store services.MetricsStore) (*gin.Engine, *services.MetricsService) {
	gin.SetMode(gin.TestMode)
	log := logger.NewTestLogger()

	modelService := services.NewModelService(log)
	translator := services.NewEventTranslator(log)
	researchService := services.NewResearchService(modelService, engine, translator, log)
	metricsService := services.NewMetricsService([]string{"openai", "anthropic", "kimi"}, store, log)
	comparisonService := services.NewComparisonService(modelService, researchService, metricsService, log)

	router := gin.New()
	handler := NewResearchHandler(modelService, researchService, comparisonService, metricsService, log)
	handler.RegisterRoutes(router)

	return router, metricsService
}

func workflowUpdates() []models.NodeUpdate {
	return []models.NodeUpdate{
		{Node: "write_research_brief", Payload: models.NodePayload{
			ResearchBrief: "Investigate developments in battery chemistry over the last two years.",
		}},
		{Node: "final_report_generation", Payload: models.NodePayload{
			FinalReport: "Solid-state batteries moved from prototypes into limited production runs.",
		}},
	}
}

func postJSON(router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	request := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func getPath(router *gin.Engine, path string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(http.MethodGet, path, nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestGetModels(t *testing.T) {
	router, _ := newTestRouter(&replayEngine{})

	recorder := getPath(router, "/models")
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", recorder.Code)
	}

	var response models.ModelsResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("Invalid response body: %v", err)
	}

	if response.TotalCount != 3 || len(response.Models) != 3 {
		t.Errorf("Expected 3 models, got count=%d len=%d", response.TotalCount, len(response.Models))
	}
	if response.Models[0].ID != "openai" {
		t.Errorf("Expected openai first, got %s", response.Models[0].ID)
	}
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(&replayEngine{})

	recorder := getPath(router, "/health")
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "healthy") {
		t.Errorf("Expected healthy status, got %s", recorder.Body.String())
	}
}

func TestStreamResearchEndToEnd(t *testing.T) {
	router, metricsService := newTestRouter(&replayEngine{updates: workflowUpdates()})

	recorder := postJSON(router, "/research/stream", models.ResearchRequest{
		Query:  "What changed in battery chemistry?",
		Model:  "openai",
		APIKey: "k-123",
	})

	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	if contentType := recorder.Header().Get("Content-Type"); !strings.Contains(contentType, "text/event-stream") {
		t.Errorf("Expected SSE content type, got %s", contentType)
	}

	body := recorder.Body.String()
	for _, eventName := range []string{"session_start", "stage_update", "stage_complete"} {
		if !strings.Contains(body, "event:"+eventName) {
			t.Errorf("Stream missing %s event:\n%s", eventName, body)
		}
	}
	if strings.Contains(body, "event:error") {
		t.Errorf("Unexpected error event in stream:\n%s", body)
	}

	// A completed stream is recorded exactly once.
	history := metricsService.History(context.Background(), 0)
	if history.TotalCount != 1 {
		t.Fatalf("Expected 1 recorded run, got %d", history.TotalCount)
	}
	if !history.History[0].Success {
		t.Errorf("Expected recorded run marked successful: %+v", history.History[0])
	}
}

func TestStreamResearchRecordsRunAfterDisconnect(t *testing.T) {
	store := &captureStore{}
	router, _ := newTestRouterWithStore(&refusingEngine{}, store)

	payload, _ := json.Marshal(models.ResearchRequest{
		Query:  "query",
		Model:  "openai",
		APIKey: "k-123",
	})
	request := httptest.NewRequest(http.MethodPost, "/research/stream", bytes.NewReader(payload))
	request.Header.Set("Content-Type", "application/json")

	// Client gone before the session produces anything.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	request = request.WithContext(ctx)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if len(store.records) != 1 {
		t.Fatalf("Expected 1 durable record for the abandoned run, got %d", len(store.records))
	}
	if store.ctxErrs[0] != nil {
		t.Errorf("Record write must not inherit the canceled request context: %v", store.ctxErrs[0])
	}
	if store.records[0].Success {
		t.Error("Abandoned run must record as unsuccessful")
	}
}

func TestStreamResearchRejectsBadRequests(t *testing.T) {
	router, _ := newTestRouter(&replayEngine{})

	// Missing required fields fails binding.
	recorder := postJSON(router, "/research/stream", map[string]string{"query": "hello"})
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for incomplete request, got %d", recorder.Code)
	}

	// Unsupported model fails service validation with an error code.
	recorder = postJSON(router, "/research/stream", models.ResearchRequest{
		Query:  "hello",
		Model:  "gemini",
		APIKey: "k-123",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unsupported model, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "UNSUPPORTED_MODEL") {
		t.Errorf("Expected error code in body, got %s", recorder.Body.String())
	}
}

func TestCompareModelsEndpoint(t *testing.T) {
	router, _ := newTestRouter(&replayEngine{updates: workflowUpdates()})

	recorder := postJSON(router, "/research/compare", models.ComparisonRequest{
		Query:   "compare this",
		Models:  []string{"openai", "kimi"},
		APIKeys: map[string]string{"openai": "k-1", "kimi": "k-2"},
	})

	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var session models.ComparisonSession
	if err := json.Unmarshal(recorder.Body.Bytes(), &session); err != nil {
		t.Fatalf("Invalid response body: %v", err)
	}

	if len(session.Results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(session.Results))
	}
	if session.Results[0].Model != "openai" || session.Results[1].Model != "kimi" {
		t.Errorf("Results out of request order: %s, %s", session.Results[0].Model, session.Results[1].Model)
	}
}

func TestDeleteResearchNotFound(t *testing.T) {
	router, _ := newTestRouter(&replayEngine{})

	request := httptest.NewRequest(http.MethodDelete, "/research/history/nope", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown session, got %d", recorder.Code)
	}
}

func TestDeleteResearchRemovesRecordedRun(t *testing.T) {
	router, metricsService := newTestRouter(&replayEngine{})

	metricsService.RecordRun(context.Background(), "session-42", "openai", 5, "query", true, "")

	request := httptest.NewRequest(http.MethodDelete, "/research/history/session-42", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", recorder.Code)
	}

	if history := metricsService.History(context.Background(), 0); history.TotalCount != 0 {
		t.Errorf("Expected record removed, got %d", history.TotalCount)
	}
}

func TestGetDetailedMetricsUnknownModel(t *testing.T) {
	router, _ := newTestRouter(&replayEngine{})

	recorder := getPath(router, "/research/metrics/gemini")
	if recorder.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown model, got %d", recorder.Code)
	}
}

func TestSubmitFeedback(t *testing.T) {
	router, metricsService := newTestRouter(&replayEngine{})

	session := models.NewComparisonSession("query")
	metricsService.RecordComparisonSession(context.Background(), session)

	recorder := postJSON(router, "/research/sessions/"+session.SessionID+"/feedback", models.FeedbackRequest{
		Feedback: map[string]any{"rating": 5, "preferred_model": "openai"},
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = postJSON(router, "/research/sessions/missing/feedback", models.FeedbackRequest{
		Feedback: map[string]any{"rating": 1},
	})
	if recorder.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown session, got %d", recorder.Code)
	}
}

func TestGetHistoryLimit(t *testing.T) {
	router, metricsService := newTestRouter(&replayEngine{})

	for _, id := range []string{"a", "b", "c"} {
		metricsService.RecordRun(context.Background(), "session-"+id, "openai", 1, "query", true, "")
	}

	recorder := getPath(router, "/research/history?limit=2")
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", recorder.Code)
	}

	var response models.HistoryResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("Invalid response body: %v", err)
	}
	if response.TotalCount != 3 || len(response.History) != 2 {
		t.Errorf("Expected count=3 limited to 2, got count=%d len=%d", response.TotalCount, len(response.History))
	}
}
