package services

import (
	"testing"

	"deep-research-api/internal/models"
	"deep-research-api/internal/pkg/logger"
)

func newTestModelService() *ModelService {
	return NewModelService(logger.NewTestLogger())
}

func TestListModelsStableOrder(t *testing.T) {
	service := newTestModelService()

	list := service.ListModels()
	if len(list) != 3 {
		t.Fatalf("Expected 3 models, got %d", len(list))
	}

	expected := []string{"openai", "anthropic", "kimi"}
	for i, id := range expected {
		if list[i].ID != id {
			t.Errorf("Position %d: expected %s, got %s", i, id, list[i].ID)
		}
	}
}

func TestGetModelConfigUnknown(t *testing.T) {
	service := newTestModelService()

	_, err := service.GetModelConfig("gemini")
	if err == nil {
		t.Fatal("Expected error for unknown model")
	}

	appErr, ok := err.(*models.AppError)
	if !ok || appErr.Type != models.ErrorTypeNotFound {
		t.Errorf("Expected not-found error, got %v", err)
	}
}

func TestEngineModelName(t *testing.T) {
	service := newTestModelService()

	cases := map[string]string{
		"openai":    "gpt-5",
		"anthropic": "claude-4",
		"kimi":      "kimi-k2-0905-preview",
		"unknown":   "gpt-4",
	}

	for modelID, expected := range cases {
		if name := service.EngineModelName(modelID); name != expected {
			t.Errorf("Model %s: expected engine name %s, got %s", modelID, expected, name)
		}
	}
}

func TestBuildEngineConfig(t *testing.T) {
	service := newTestModelService()

	cfg, err := service.BuildEngineConfig("kimi", "k-secret")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.ResearchModel != "kimi-k2-0905-preview" {
		t.Errorf("Expected engine model kimi-k2-0905-preview, got %s", cfg.ResearchModel)
	}
	if cfg.FinalReportModel != cfg.ResearchModel || cfg.CompressionModel != cfg.ResearchModel {
		t.Error("Every engine model slot should use the chosen model")
	}
	if cfg.FinalReportModelMaxTokens != 8000 {
		t.Errorf("Expected final report budget 8000, got %d", cfg.FinalReportModelMaxTokens)
	}
	if cfg.APIKeys["KIMI_API_KEY"] != "k-secret" {
		t.Errorf("Expected API key under KIMI_API_KEY, got %v", cfg.APIKeys)
	}
	if cfg.AllowClarification {
		t.Error("Clarification prompts must stay disabled for unattended runs")
	}

	if _, err := service.BuildEngineConfig("gemini", "k-secret"); err == nil {
		t.Error("Expected error for unknown model")
	}
}

func TestValidateModel(t *testing.T) {
	service := newTestModelService()

	if !service.ValidateModel("anthropic") {
		t.Error("Expected anthropic to validate")
	}
	if service.ValidateModel("") || service.ValidateModel("gemini") {
		t.Error("Expected unknown models to fail validation")
	}
}
