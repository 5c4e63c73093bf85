package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kristianrpo/connectivity-microservice/internal/centralizer"
	"github.com/kristianrpo/connectivity-microservice/pkg/mylogger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type cachedLookupService struct {
	next        LookupService
	redisClient *redis.Client
	cacheTTL    time.Duration
	logger      *zap.Logger
}

type cachedResult struct {
	Outcome    centralizer.Outcome `json:"outcome"`
	StatusCode int                 `json:"status_code"`
	Message    string              `json:"message"`
	Payload    json.RawMessage     `json:"payload,omitempty"`
}

func NewCachedLookupService(next LookupService, redisClient *redis.Client, ttl time.Duration, logger *zap.Logger) LookupService {
	if ttl <= 0 {
		ttl = time.Minute
	}

	return &cachedLookupService{
		next:        next,
		redisClient: redisClient,
		cacheTTL:    ttl,
		logger:      logger,
	}
}

func lookupKey(id int64) string {
	return fmt.Sprintf("citizen_exists:%d", id)
}

// CheckCitizen serves definitive answers from Redis; failures are never cached.
func (s *cachedLookupService) CheckCitizen(ctx context.Context, id int64) (*centralizer.Result, error) {
	key := lookupKey(id)

	val, err := s.redisClient.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached cachedResult
		if err := json.Unmarshal(val, &cached); err == nil {
			return &centralizer.Result{
				Outcome:    cached.Outcome,
				StatusCode: cached.StatusCode,
				Message:    cached.Message,
				Payload:    cached.Payload,
			}, nil
		}
	case !errors.Is(err, redis.Nil):
		mylogger.Warn(ctx, s.logger, "Lookup cache read failed", zap.String("key", key), zap.Error(err))
	}

	res, err := s.next.CheckCitizen(ctx, id)
	if err != nil {
		return nil, err
	}

	if res.Outcome != centralizer.OutcomeExists && res.Outcome != centralizer.OutcomeNotExists {
		return res, nil
	}

	data, err := json.Marshal(cachedResult{
		Outcome:    res.Outcome,
		StatusCode: res.StatusCode,
		Message:    res.Message,
		Payload:    res.Payload,
	})
	if err == nil {
		if err := s.redisClient.Set(ctx, key, data, s.cacheTTL).Err(); err != nil {
			mylogger.Warn(ctx, s.logger, "Lookup cache write failed", zap.String("key", key), zap.Error(err))
		}
	}

	return res, nil
}
