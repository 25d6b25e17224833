package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"deep-research-api/internal/config"
	"deep-research-api/internal/models"
	"deep-research-api/internal/pkg/logger"
)

// ResearchEngine produces the raw update stream for one research run. The
// stream is exhausted on success; a mid-stream failure is delivered as a
// final update with Err set. The channel is always closed afterwards.
type ResearchEngine interface {
	Stream(ctx context.Context, query string, engineConfig *models.EngineConfig) (<-chan models.NodeUpdate, error)
}

// EngineService is the HTTP client for the external research engine. The
// engine streams newline-delimited JSON frames, one per completed node.
type EngineService struct {
	client *http.Client
	config config.EngineConfig
	logger *logger.Logger
}

type engineStreamRequest struct {
	Query  string               `json:"query"`
	Config *models.EngineConfig `json:"config"`
}

func NewEngineService(cfg config.EngineConfig, log *logger.Logger) *EngineService {
	service := &EngineService{
		client: &http.Client{
			// Per-run deadlines come from the caller's context; research
			// streams routinely outlive any sane client-level timeout.
			Timeout: 0,
		},
		config: cfg,
		logger: log,
	}

	log.Info("Engine Service Initialized Successfully",
		"engine_url", cfg.URL,
		"retry_attempts", cfg.RetryAttempts)

	return service
}

func (service *EngineService) Stream(ctx context.Context, query string, engineConfig *models.EngineConfig) (<-chan models.NodeUpdate, error) {
	response, err := service.openStream(ctx, query, engineConfig)
	if err != nil {
		return nil, models.WrapExternalError("ENGINE", err)
	}

	updates := make(chan models.NodeUpdate)

	go func() {
		defer close(updates)
		defer response.Body.Close()

		scanner := bufio.NewScanner(response.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var update models.NodeUpdate
			if err := json.Unmarshal(line, &update); err != nil {
				service.logger.WithError(err).Warn("Skipping malformed engine frame", "frame_bytes", len(line))
				continue
			}

			select {
			case updates <- update:
			case <-ctx.Done():
				// Reader is gone; end the stream without blocking.
				return
			}
		}

		if err := scanner.Err(); err != nil {
			select {
			case updates <- models.NodeUpdate{Err: models.WrapExternalError("ENGINE", err)}:
			case <-ctx.Done():
			}
		}
	}()

	return updates, nil
}

// openStream dials the engine, retrying connection failures with linear
// backoff. Once a stream is open no retries happen mid-stream.
func (service *EngineService) openStream(ctx context.Context, query string, engineConfig *models.EngineConfig) (*http.Response, error) {
	body, err := json.Marshal(engineStreamRequest{Query: query, Config: engineConfig})
	if err != nil {
		return nil, fmt.Errorf("encode engine request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= service.config.RetryAttempts; attempt++ {
		request, err := http.NewRequestWithContext(ctx, http.MethodPost,
			service.config.URL+"/research/stream", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		request.Header.Set("Content-Type", "application/json")
		request.Header.Set("Accept", "application/x-ndjson")

		response, err := service.client.Do(request)
		if err == nil && response.StatusCode == http.StatusOK {
			return response, nil
		}

		if err == nil {
			response.Body.Close()
			lastErr = fmt.Errorf("engine returned status %d", response.StatusCode)
		} else {
			lastErr = err
		}

		if attempt < service.config.RetryAttempts {
			service.logger.WithFields(logger.Fields{
				"attempt":     attempt,
				"max_retries": service.config.RetryAttempts,
				"error":       lastErr,
			}).Warn("Engine connection failed, retrying")

			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, lastErr
}

func (service *EngineService) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, service.config.URL+"/health", nil)
	if err != nil {
		return err
	}

	response, err := service.client.Do(request)
	if err != nil {
		return fmt.Errorf("engine health check failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("engine health check returned status %d", response.StatusCode)
	}

	return nil
}
