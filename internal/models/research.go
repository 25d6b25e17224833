package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventSessionStart    EventType = "session_start"
	EventStageUpdate     EventType = "stage_update"
	EventResearchFinding EventType = "research_finding"
	EventResearchSummary EventType = "research_summary"
	EventStageComplete   EventType = "stage_complete"
	EventError           EventType = "error"
)

type ResearchStage string

const (
	StageInitialization    ResearchStage = "initialization"
	StageClarification     ResearchStage = "clarification"
	StageResearchBrief     ResearchStage = "research_brief"
	StageResearchExecution ResearchStage = "research_execution"
	StageFinalReport       ResearchStage = "final_report"
	StageCompleted         ResearchStage = "completed"
	StageError             ResearchStage = "error"
)

// StreamingEvent is one unit of progress information pushed to the client.
// Metadata keys are additive and best-effort; consumers must not treat them
// as exhaustive.
type StreamingEvent struct {
	Type      EventType      `json:"type"`
	Stage     ResearchStage  `json:"stage"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Model     string         `json:"model"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func NewStreamingEvent(eventType EventType, stage ResearchStage, content, sessionID, model string) StreamingEvent {
	return StreamingEvent{
		Type:      eventType,
		Stage:     stage,
		Content:   content,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		Model:     model,
		Metadata:  make(map[string]any),
	}
}

func (event StreamingEvent) IsTerminal() bool {
	return event.Type == EventStageComplete || event.Type == EventError
}

// StageTimings holds elapsed seconds attributed to each billed research stage.
type StageTimings struct {
	Clarification     float64 `json:"clarification"`
	ResearchBrief     float64 `json:"research_brief"`
	ResearchExecution float64 `json:"research_execution"`
	FinalReport       float64 `json:"final_report"`
}

func (timings StageTimings) Total() float64 {
	return timings.Clarification + timings.ResearchBrief + timings.ResearchExecution + timings.FinalReport
}

// ComparisonResult is one model's outcome within a comparison session. It is
// mutated while the run's events arrive and finalized when the stream ends.
type ComparisonResult struct {
	Model         string       `json:"model"`
	Duration      float64      `json:"duration"`
	StageTimings  StageTimings `json:"stage_timings"`
	SourcesFound  int          `json:"sources_found"`
	WordCount     int          `json:"word_count"`
	Success       bool         `json:"success"`
	Error         string       `json:"error,omitempty"`
	ReportContent string       `json:"report_content"`
	ToolsUsed     []string     `json:"tools_used"`
}

func NewComparisonResult(model string) *ComparisonResult {
	return &ComparisonResult{
		Model:     model,
		ToolsUsed: []string{},
	}
}

// AddTool appends a tool name, keeping the list ordered and unique.
func (result *ComparisonResult) AddTool(name string) {
	if name == "" {
		return
	}
	for _, existing := range result.ToolsUsed {
		if existing == name {
			return
		}
	}
	result.ToolsUsed = append(result.ToolsUsed, name)
}

type ComparisonSession struct {
	SessionID    string             `json:"session_id"`
	Query        string             `json:"query"`
	Timestamp    time.Time          `json:"timestamp"`
	Results      []ComparisonResult `json:"results"`
	UserFeedback map[string]any     `json:"user_feedback,omitempty"`
}

func NewComparisonSession(query string) *ComparisonSession {
	return &ComparisonSession{
		SessionID: uuid.New().String(),
		Query:     query,
		Timestamp: time.Now().UTC(),
	}
}

// Clone returns a deep copy that is safe to hand across goroutine boundaries.
func (session *ComparisonSession) Clone() *ComparisonSession {
	copied := *session

	copied.Results = make([]ComparisonResult, len(session.Results))
	copy(copied.Results, session.Results)
	for i := range copied.Results {
		tools := make([]string, len(copied.Results[i].ToolsUsed))
		copy(tools, copied.Results[i].ToolsUsed)
		copied.Results[i].ToolsUsed = tools
	}

	if session.UserFeedback != nil {
		feedback := make(map[string]any, len(session.UserFeedback))
		for key, value := range session.UserFeedback {
			feedback[key] = value
		}
		copied.UserFeedback = feedback
	}

	return &copied
}

// ModelMetrics are derived aggregates, recomputed from stored history.
type ModelMetrics struct {
	Model               string       `json:"model"`
	TotalRequests       int          `json:"total_requests"`
	AverageDuration     float64      `json:"average_duration"`
	SuccessRate         float64      `json:"success_rate"`
	LastUsed            *time.Time   `json:"last_used,omitempty"`
	AverageStageTimings StageTimings `json:"average_stage_timings"`
	AverageSourcesFound float64      `json:"average_sources_found"`
	AverageWordCount    float64      `json:"average_word_count"`
}

// ResearchRecord is one completed single-session run, as stored in history.
type ResearchRecord struct {
	SessionID string    `json:"session_id"`
	Model     string    `json:"model"`
	Query     string    `json:"query"`
	Duration  float64   `json:"duration"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type AvailableModel struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Provider     string   `json:"provider"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
	MaxTokens    int      `json:"max_tokens"`
}

// EngineConfig is the provider-specific configuration handed to the external
// research engine for one run.
type EngineConfig struct {
	ResearchModel               string            `json:"research_model"`
	ResearchModelMaxTokens      int               `json:"research_model_max_tokens"`
	FinalReportModel            string            `json:"final_report_model"`
	FinalReportModelMaxTokens   int               `json:"final_report_model_max_tokens"`
	CompressionModel            string            `json:"compression_model"`
	CompressionModelMaxTokens   int               `json:"compression_model_max_tokens"`
	SummarizationModel          string            `json:"summarization_model"`
	SummarizationModelMaxTokens int               `json:"summarization_model_max_tokens"`
	AllowClarification          bool              `json:"allow_clarification"`
	MaxStructuredOutputRetries  int               `json:"max_structured_output_retries"`
	SearchAPI                   string            `json:"search_api"`
	MaxResearchIterations       int               `json:"max_research_iterations"`
	MaxResearchers              int               `json:"max_researchers"`
	APIKeys                     map[string]string `json:"api_keys"`
}

type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type EngineMessage struct {
	Role      string     `json:"role,omitempty"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// NodePayload models the dynamically shaped update body emitted by the engine
// for one node. All fields are optional; Raw keeps the undecoded body for
// generic introspection when no named field is present.
type NodePayload struct {
	Messages           []EngineMessage `json:"messages,omitempty"`
	ResearchBrief      string          `json:"research_brief,omitempty"`
	Notes              []string        `json:"notes,omitempty"`
	CompressedResearch string          `json:"compressed_research,omitempty"`
	FinalReport        string          `json:"final_report,omitempty"`

	Raw map[string]any `json:"-"`
}

func (payload *NodePayload) UnmarshalJSON(data []byte) error {
	type alias NodePayload
	var decoded alias
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	raw := make(map[string]any)
	if err := json.Unmarshal(data, &raw); err == nil {
		decoded.Raw = raw
	}

	*payload = NodePayload(decoded)
	return nil
}

// NodeUpdate is one raw signal from the external engine's update stream. A
// non-nil Err is the engine surfacing a mid-stream failure; it is always the
// last update of the stream.
type NodeUpdate struct {
	Node    string      `json:"node"`
	Payload NodePayload `json:"data"`
	Err     error       `json:"-"`
}

type ResearchRequest struct {
	Query  string `json:"query" binding:"required"`
	Model  string `json:"model" binding:"required"`
	APIKey string `json:"api_key" binding:"required"`
}

type ComparisonRequest struct {
	Query   string            `json:"query" binding:"required"`
	Models  []string          `json:"models" binding:"required"`
	APIKeys map[string]string `json:"api_keys" binding:"required"`
}

type FeedbackRequest struct {
	Feedback map[string]any `json:"feedback" binding:"required"`
}

type HistoryResponse struct {
	History     []ResearchRecord `json:"history"`
	TotalCount  int              `json:"total_count"`
	GeneratedAt time.Time        `json:"generated_at"`
}

type ModelComparisonResponse struct {
	Models        []ModelMetrics `json:"models"`
	TotalRequests int            `json:"total_requests"`
	GeneratedAt   time.Time      `json:"generated_at"`
}

type ModelsResponse struct {
	Models             []AvailableModel `json:"models"`
	TotalCount         int              `json:"total_count"`
	SupportedProviders []string         `json:"supported_providers"`
}

func GenerateSessionID() string {
	return "research_" + uuid.New().String()
}
