package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"deep-research-api/internal/config"
	"deep-research-api/internal/models"
	"deep-research-api/internal/pkg/logger"
)

const (
	researchHistoryKey        = "research:history"
	comparisonSessionDataKey  = "comparison:sessions:data"
	comparisonSessionIndexKey = "comparison:sessions:index"

	researchHistoryCap = 1000
)

// RedisService is the durable persistence backend for run records and
// comparison sessions. Writes go through a circuit breaker so a down backend
// fails fast and the in-memory fallback takes over.
type RedisService struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
	logger  *logger.Logger
	config  config.RedisConfig
}

func NewRedisService(cfg config.RedisConfig, log *logger.Logger) (*RedisService, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}

	opt.PoolSize = cfg.PoolSize
	opt.DialTimeout = cfg.DialTimeout
	opt.ReadTimeout = cfg.ReadTimeout
	opt.WriteTimeout = cfg.WriteTimeout

	service := &RedisService{
		client: redis.NewClient(opt),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "redis",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
		logger: log,
		config: cfg,
	}

	if err := service.testConnection(); err != nil {
		return nil, fmt.Errorf("connection to Redis failed: %w", err)
	}

	log.Info("Redis Service Initialized Successfully",
		"pool_size", cfg.PoolSize)

	return service, nil
}

func (service *RedisService) testConnection() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return service.client.Ping(ctx).Err()
}

func (service *RedisService) execute(operation func() error) error {
	_, err := service.breaker.Execute(func() (interface{}, error) {
		return nil, operation()
	})
	return err
}

// StoreResearchRecord appends one completed run to the durable history.
func (service *RedisService) StoreResearchRecord(ctx context.Context, record models.ResearchRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal research record: %w", err)
	}

	return service.execute(func() error {
		pipe := service.client.TxPipeline()
		pipe.LPush(ctx, researchHistoryKey, data)
		pipe.LTrim(ctx, researchHistoryKey, 0, researchHistoryCap-1)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// ResearchRecords returns recent runs, most recent first. limit <= 0 means
// everything retained.
func (service *RedisService) ResearchRecords(ctx context.Context, limit int) ([]models.ResearchRecord, error) {
	end := int64(-1)
	if limit > 0 {
		end = int64(limit) - 1
	}

	raw, err := service.client.LRange(ctx, researchHistoryKey, 0, end).Result()
	if err != nil {
		return nil, models.NewPersistenceError("REDIS_READ", "reading research history failed").WithCause(err)
	}

	records := make([]models.ResearchRecord, 0, len(raw))
	for _, item := range raw {
		var record models.ResearchRecord
		if err := json.Unmarshal([]byte(item), &record); err != nil {
			service.logger.WithError(err).Warn("Skipping unreadable research record")
			continue
		}
		records = append(records, record)
	}

	return records, nil
}

// DeleteResearchRecord removes a run by session id. Returns whether a
// matching record existed.
func (service *RedisService) DeleteResearchRecord(ctx context.Context, sessionID string) (bool, error) {
	raw, err := service.client.LRange(ctx, researchHistoryKey, 0, -1).Result()
	if err != nil {
		return false, models.NewPersistenceError("REDIS_READ", "reading research history failed").WithCause(err)
	}

	for _, item := range raw {
		var record models.ResearchRecord
		if err := json.Unmarshal([]byte(item), &record); err != nil {
			continue
		}
		if record.SessionID != sessionID {
			continue
		}

		err := service.execute(func() error {
			return service.client.LRem(ctx, researchHistoryKey, 1, item).Err()
		})
		if err != nil {
			return false, models.NewPersistenceError("REDIS_WRITE", "deleting research record failed").WithCause(err)
		}
		return true, nil
	}

	return false, nil
}

// StoreComparisonSession persists a finished comparison session.
func (service *RedisService) StoreComparisonSession(ctx context.Context, session *models.ComparisonSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal comparison session: %w", err)
	}

	return service.execute(func() error {
		pipe := service.client.TxPipeline()
		pipe.HSet(ctx, comparisonSessionDataKey, session.SessionID, data)
		pipe.LPush(ctx, comparisonSessionIndexKey, session.SessionID)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// ComparisonSessions returns stored sessions, most recent first. limit <= 0
// means all.
func (service *RedisService) ComparisonSessions(ctx context.Context, limit int) ([]*models.ComparisonSession, error) {
	end := int64(-1)
	if limit > 0 {
		end = int64(limit) - 1
	}

	ids, err := service.client.LRange(ctx, comparisonSessionIndexKey, 0, end).Result()
	if err != nil {
		return nil, models.NewPersistenceError("REDIS_READ", "reading comparison index failed").WithCause(err)
	}

	if len(ids) == 0 {
		return []*models.ComparisonSession{}, nil
	}

	raw, err := service.client.HMGet(ctx, comparisonSessionDataKey, ids...).Result()
	if err != nil {
		return nil, models.NewPersistenceError("REDIS_READ", "reading comparison sessions failed").WithCause(err)
	}

	sessions := make([]*models.ComparisonSession, 0, len(raw))
	for _, item := range raw {
		text, ok := item.(string)
		if !ok {
			continue
		}
		var session models.ComparisonSession
		if err := json.Unmarshal([]byte(text), &session); err != nil {
			service.logger.WithError(err).Warn("Skipping unreadable comparison session")
			continue
		}
		sessions = append(sessions, &session)
	}

	return sessions, nil
}

// UpdateSessionFeedback attaches user feedback to a stored session. Returns
// whether the session existed.
func (service *RedisService) UpdateSessionFeedback(ctx context.Context, sessionID string, feedback map[string]any) (bool, error) {
	raw, err := service.client.HGet(ctx, comparisonSessionDataKey, sessionID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, models.NewPersistenceError("REDIS_READ", "reading comparison session failed").WithCause(err)
	}

	var session models.ComparisonSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return false, models.NewPersistenceError("REDIS_READ", "decoding comparison session failed").WithCause(err)
	}

	session.UserFeedback = feedback

	data, err := json.Marshal(&session)
	if err != nil {
		return false, fmt.Errorf("marshal comparison session: %w", err)
	}

	err = service.execute(func() error {
		return service.client.HSet(ctx, comparisonSessionDataKey, sessionID, data).Err()
	})
	if err != nil {
		return false, models.NewPersistenceError("REDIS_WRITE", "updating session feedback failed").WithCause(err)
	}

	return true, nil
}

func (service *RedisService) HealthCheck(ctx context.Context) error {
	if err := service.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

func (service *RedisService) Close() error {
	service.logger.Info("Closing Redis Service")
	return service.client.Close()
}
