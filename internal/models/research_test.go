package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestComparisonResultAddTool(t *testing.T) {
	result := NewComparisonResult("openai")

	result.AddTool("web_search")
	result.AddTool("think_tool")
	result.AddTool("web_search")
	result.AddTool("")

	if len(result.ToolsUsed) != 2 {
		t.Fatalf("Expected 2 unique tools, got %v", result.ToolsUsed)
	}
	if result.ToolsUsed[0] != "web_search" || result.ToolsUsed[1] != "think_tool" {
		t.Errorf("Expected insertion order preserved, got %v", result.ToolsUsed)
	}
}

func TestStreamingEventIsTerminal(t *testing.T) {
	cases := []struct {
		eventType EventType
		terminal  bool
	}{
		{EventSessionStart, false},
		{EventStageUpdate, false},
		{EventResearchFinding, false},
		{EventResearchSummary, false},
		{EventStageComplete, true},
		{EventError, true},
	}

	for _, tc := range cases {
		event := StreamingEvent{Type: tc.eventType}
		if event.IsTerminal() != tc.terminal {
			t.Errorf("Type %s: expected terminal=%v", tc.eventType, tc.terminal)
		}
	}
}

func TestNodePayloadUnmarshalKeepsRaw(t *testing.T) {
	data := `{
		"research_brief": "A short brief.",
		"custom_field": "free-form text the engine invented",
		"messages": [{"content": "hello there"}]
	}`

	var payload NodePayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if payload.ResearchBrief != "A short brief." {
		t.Errorf("Named field not decoded: %q", payload.ResearchBrief)
	}
	if len(payload.Messages) != 1 || payload.Messages[0].Content != "hello there" {
		t.Errorf("Messages not decoded: %+v", payload.Messages)
	}
	if payload.Raw["custom_field"] != "free-form text the engine invented" {
		t.Errorf("Unknown field not retained in raw map: %v", payload.Raw)
	}
}

func TestStageTimingsTotal(t *testing.T) {
	timings := StageTimings{
		Clarification:     1.5,
		ResearchBrief:     2.5,
		ResearchExecution: 40,
		FinalReport:       6,
	}

	if total := timings.Total(); total != 50 {
		t.Errorf("Expected total 50, got %f", total)
	}

	if total := (StageTimings{}).Total(); total != 0 {
		t.Errorf("Expected zero total for empty timings, got %f", total)
	}
}

func TestGenerateSessionID(t *testing.T) {
	first := GenerateSessionID()
	second := GenerateSessionID()

	if !strings.HasPrefix(first, "research_") {
		t.Errorf("Expected research_ prefix, got %s", first)
	}
	if first == second {
		t.Error("Session ids must be unique")
	}
}

func TestAppErrorWrapping(t *testing.T) {
	cause := json.Unmarshal([]byte("{"), &struct{}{})

	err := NewEngineError("STREAM_FAILED", "engine stream failed").WithCause(cause)

	if err.Unwrap() != cause {
		t.Error("Expected cause preserved through Unwrap")
	}
	if !strings.Contains(err.Error(), "STREAM_FAILED") {
		t.Errorf("Expected code in message, got %s", err.Error())
	}

	if !IsValidationError(NewValidationError("X", "y")) {
		t.Error("Expected validation error recognized")
	}
	if IsValidationError(err) {
		t.Error("Engine error must not classify as validation")
	}
}
