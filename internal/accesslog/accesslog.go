package accesslog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sdko-org/query-gateway/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Recorder appends immutable access log entries. Appends are best-effort:
// a failed insert is logged and dropped, it never fails the response that
// produced it.
type Recorder struct {
	db  *gorm.DB
	log *logrus.Entry
}

func New(logger *logrus.Logger, db *gorm.DB) *Recorder {
	return &Recorder{
		db:  db,
		log: logger.WithField("component", "access_log"),
	}
}

// Record appends an entry asynchronously with its own bounded deadline so
// a slow database cannot stall the response path.
func (r *Recorder) Record(entry *models.AccessLog) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := r.Write(ctx, entry); err != nil {
			r.log.WithError(err).Warn("Failed to save access log entry")
		}
	}()
}

// Write appends an entry synchronously.
func (r *Recorder) Write(ctx context.Context, entry *models.AccessLog) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("access log insert failed: %w", err)
	}
	return nil
}

// EncodeParams serializes a parameter map for storage. Map keys come out
// sorted, so equal parameter sets serialize identically.
func EncodeParams(params map[string]interface{}) string {
	if len(params) == 0 {
		return "{}"
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// HourlyBucket is one hour of request volume.
type HourlyBucket struct {
	Hour     time.Time `json:"hour"`
	Requests int64     `json:"requests"`
}

// UsageStats aggregates access log entries for one endpoint.
type UsageStats struct {
	EndpointID    string         `json:"endpoint_id"`
	Since         time.Time      `json:"since"`
	TotalRequests int64          `json:"total_requests"`
	CacheHits     int64          `json:"cache_hits"`
	ErrorCount    int64          `json:"error_count"`
	CacheHitRate  float64        `json:"cache_hit_rate"`
	ErrorRate     float64        `json:"error_rate"`
	AvgDurationMs float64        `json:"avg_duration_ms"`
	Hourly        []HourlyBucket `json:"hourly"`
}

// Stats aggregates usage for an endpoint since the given time. The result
// feeds the external analytics collaborator and the admin stats view.
func (r *Recorder) Stats(ctx context.Context, endpointID string, since time.Time) (*UsageStats, error) {
	stats := &UsageStats{EndpointID: endpointID, Since: since}

	base := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&models.AccessLog{}).
			Where("endpoint_id = ? AND timestamp >= ?", endpointID, since)
	}

	if err := base().Count(&stats.TotalRequests).Error; err != nil {
		return nil, fmt.Errorf("usage aggregation failed: %w", err)
	}
	if err := base().Where("cache_hit").Count(&stats.CacheHits).Error; err != nil {
		return nil, fmt.Errorf("usage aggregation failed: %w", err)
	}
	if err := base().Where("status >= ?", 500).Count(&stats.ErrorCount).Error; err != nil {
		return nil, fmt.Errorf("usage aggregation failed: %w", err)
	}

	var avgNanos *float64
	if err := base().Select("AVG(duration)").Scan(&avgNanos).Error; err != nil {
		return nil, fmt.Errorf("usage aggregation failed: %w", err)
	}
	if avgNanos != nil {
		stats.AvgDurationMs = *avgNanos / float64(time.Millisecond)
	}

	if err := base().
		Select("date_trunc('hour', timestamp) AS hour, COUNT(*) AS requests").
		Group("hour").
		Order("hour").
		Scan(&stats.Hourly).Error; err != nil {
		return nil, fmt.Errorf("usage aggregation failed: %w", err)
	}

	if stats.TotalRequests > 0 {
		stats.CacheHitRate = float64(stats.CacheHits) / float64(stats.TotalRequests)
		stats.ErrorRate = float64(stats.ErrorCount) / float64(stats.TotalRequests)
	}

	return stats, nil
}
