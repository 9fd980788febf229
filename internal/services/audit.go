package services

import (
	"context"
	"encoding/json"
	"fmt"
	"ticket-checkin/models"
	"ticket-checkin/monitoring"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ScanAuditor receives every verify and admit outcome.
type ScanAuditor interface {
	Record(ctx context.Context, attempt models.ScanAttempt) error
}

const auditRetention = 7 * 24 * time.Hour

// ScanAuditLog keeps the most recent scan attempts per event in a capped redis list.
type ScanAuditLog struct {
	redis *redis.Client
	max   int64
}

func NewScanAuditLog(redisClient *redis.Client, max int) *ScanAuditLog {
	if max <= 0 {
		max = 500
	}
	return &ScanAuditLog{redis: redisClient, max: int64(max)}
}

func auditKey(eventID string) string {
	if eventID == "" {
		eventID = "_"
	}
	return monitoring.AuditKeyPrefix + eventID
}

func (l *ScanAuditLog) Record(ctx context.Context, attempt models.ScanAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(attempt)
	if err != nil {
		return err
	}

	key := auditKey(attempt.EventID)
	_, err = l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, string(data))
		pipe.LTrim(ctx, key, 0, l.max-1)
		pipe.Expire(ctx, key, auditRetention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record scan attempt: %w", err)
	}
	return nil
}

// Recent returns up to n attempts for eventID, newest first.
func (l *ScanAuditLog) Recent(ctx context.Context, eventID string, n int) ([]models.ScanAttempt, error) {
	if n <= 0 || int64(n) > l.max {
		n = int(l.max)
	}

	raw, err := l.redis.LRange(ctx, auditKey(eventID), 0, int64(n-1)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read scan attempts: %w", err)
	}

	attempts := make([]models.ScanAttempt, 0, len(raw))
	for _, item := range raw {
		var a models.ScanAttempt
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			continue
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}
