package services

import (
	"deep-research-api/internal/models"
	"deep-research-api/internal/pkg/logger"
	"fmt"
)

// ModelService is the static registry of logical model identifiers. It is
// read-only after construction and safe to share across concurrent runs.
type ModelService struct {
	registry map[string]models.AvailableModel
	order    []string
	logger   *logger.Logger
}

func NewModelService(log *logger.Logger) *ModelService {
	service := &ModelService{
		registry: map[string]models.AvailableModel{
			"openai": {
				ID:          "openai",
				Name:        "OpenAI GPT-4o (Latest)",
				Provider:    "OpenAI",
				Description: "Latest GPT-4o model with excellent reasoning and research capabilities (128k tokens)",
				Capabilities: []string{
					"web_search",
					"document_analysis",
					"code_analysis",
					"multi-step_reasoning",
					"structured_output",
				},
				MaxTokens: 128000,
			},
			"anthropic": {
				ID:          "anthropic",
				Name:        "Claude 3.5 Sonnet (Latest)",
				Provider:    "Anthropic",
				Description: "Latest Claude 3.5 Sonnet with enhanced analytical and research capabilities (200k tokens)",
				Capabilities: []string{
					"web_search",
					"document_analysis",
					"ethical_reasoning",
					"multi-step_reasoning",
					"structured_output",
				},
				MaxTokens: 200000,
			},
			"kimi": {
				ID:          "kimi",
				Name:        "Kimi K2-Instruct-0905 (Latest)",
				Provider:    "Moonshot AI",
				Description: "Latest Kimi K2-Instruct-0905: state-of-the-art MoE model with 32B activated parameters, enhanced agentic coding intelligence",
				Capabilities: []string{
					"web_search",
					"document_analysis",
					"multilingual_support",
					"multi-step_reasoning",
					"structured_output",
					"tool_calling",
					"coding_assistance",
				},
				MaxTokens: 128000,
			},
		},
		order:  []string{"openai", "anthropic", "kimi"},
		logger: log,
	}

	log.Info("Model Service Initialized Successfully", "models_configured", len(service.registry))

	return service
}

// GetModelConfig resolves a logical model id. Unknown ids yield a typed
// not-found error, never a crash.
func (service *ModelService) GetModelConfig(modelID string) (models.AvailableModel, error) {
	model, exists := service.registry[modelID]
	if !exists {
		return models.AvailableModel{}, models.NewNotFoundError("MODEL_NOT_FOUND",
			fmt.Sprintf("unsupported model: %s", modelID))
	}
	return model, nil
}

// ListModels returns the available models in stable registration order.
func (service *ModelService) ListModels() []models.AvailableModel {
	list := make([]models.AvailableModel, 0, len(service.order))
	for _, id := range service.order {
		list = append(list, service.registry[id])
	}
	return list
}

func (service *ModelService) ValidateModel(modelID string) bool {
	_, exists := service.registry[modelID]
	return exists
}

func (service *ModelService) SupportedProviders() []string {
	return []string{"OpenAI", "Anthropic", "Moonshot AI"}
}

// EngineModelName maps a logical model id to the model name understood by the
// external research engine.
func (service *ModelService) EngineModelName(modelID string) string {
	mapping := map[string]string{
		"openai":    "gpt-5",
		"anthropic": "claude-4",
		"kimi":      "kimi-k2-0905-preview",
	}

	if name, exists := mapping[modelID]; exists {
		return name
	}
	return "gpt-4"
}

// APIKeyName returns the credential key expected by the engine for a model.
// Kimi runs over an Anthropic-compatible endpoint and reuses that key name.
func (service *ModelService) APIKeyName(modelID string) string {
	switch modelID {
	case "openai":
		return "OPENAI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "kimi":
		return "KIMI_API_KEY"
	default:
		return ""
	}
}

// BuildEngineConfig assembles the per-run configuration for the external
// engine, using the caller's chosen model for every model operation.
func (service *ModelService) BuildEngineConfig(modelID, apiKey string) (*models.EngineConfig, error) {
	if !service.ValidateModel(modelID) {
		return nil, models.NewNotFoundError("MODEL_NOT_FOUND",
			fmt.Sprintf("unsupported model: %s", modelID))
	}

	engineModel := service.EngineModelName(modelID)

	apiKeys := map[string]string{}
	if keyName := service.APIKeyName(modelID); keyName != "" {
		apiKeys[keyName] = apiKey
	}

	return &models.EngineConfig{
		ResearchModel:               engineModel,
		ResearchModelMaxTokens:      4000,
		FinalReportModel:            engineModel,
		FinalReportModelMaxTokens:   8000,
		CompressionModel:            engineModel,
		CompressionModelMaxTokens:   4000,
		SummarizationModel:          engineModel,
		SummarizationModelMaxTokens: 4000,
		AllowClarification:          false,
		MaxStructuredOutputRetries:  3,
		SearchAPI:                   "anthropic",
		MaxResearchIterations:       5,
		MaxResearchers:              3,
		APIKeys:                     apiKeys,
	}, nil
}
