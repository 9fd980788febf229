package monitoring

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	credentialsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credentials_issued_total",
			Help: "Scan credentials requested, by result",
		},
		[]string{"status"},
	)

	scanVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_verifications_total",
			Help: "Scan verifications, by outcome",
		},
		[]string{"outcome"},
	)

	ticketAdmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_admissions_total",
			Help: "Admit attempts, by result",
		},
		[]string{"result"},
	)

	scanVerifyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scan_verify_duration_seconds",
			Help:    "Time spent verifying a scanned payload",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)

	auditEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scan_audit_entries",
			Help: "Scan attempts currently retained per event",
		},
		[]string{"event_id"},
	)
)

// AuditKeyPrefix is the redis key prefix of the per-event scan audit lists.
const AuditKeyPrefix = "scan:attempts:"

type Monitor struct {
	redis    *redis.Client
	interval time.Duration
}

func NewMonitor(redisClient *redis.Client) *Monitor {
	return &Monitor{redis: redisClient, interval: 30 * time.Second}
}

// Run samples redis-backed gauges until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	if m.redis == nil {
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collectAuditMetrics(ctx)
		}
	}
}

func (m *Monitor) collectAuditMetrics(ctx context.Context) {
	iter := m.redis.Scan(ctx, 0, AuditKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		length, err := m.redis.LLen(ctx, key).Result()
		if err != nil {
			continue
		}
		auditEntries.WithLabelValues(strings.TrimPrefix(key, AuditKeyPrefix)).Set(float64(length))
	}
	if err := iter.Err(); err != nil {
		slog.Warn("Failed to sample scan audit lists", "error", err)
	}
}

func (m *Monitor) TrackCredentialIssued(status string) {
	credentialsIssued.WithLabelValues(status).Inc()
}

func (m *Monitor) TrackVerification(outcome string, took time.Duration) {
	scanVerifications.WithLabelValues(outcome).Inc()
	scanVerifyDuration.Observe(took.Seconds())
}

func (m *Monitor) TrackAdmission(result string) {
	ticketAdmissions.WithLabelValues(result).Inc()
}
