package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed      bool
	CurrentCount int
	Limit        int
	WindowStart  time.Time
	WindowEnd    time.Time
}

// Limiter enforces a fixed per-minute window per (client, endpoint) pair.
// Windows align to calendar minutes; a burst straddling a boundary can
// briefly see up to twice the limit.
type Limiter struct {
	db  *gorm.DB
	log *logrus.Entry
	now func() time.Time
}

func New(logger *logrus.Logger, db *gorm.DB) *Limiter {
	return &Limiter{
		db:  db,
		log: logger.WithField("component", "rate_limiter"),
		now: time.Now,
	}
}

// The increment only happens while the stored count is below the limit, so
// two requests racing on the last slot cannot both win.
const consumeQuery = `
INSERT INTO rate_limit_windows (client_id, endpoint_id, request_count, window_start, window_end, blocked)
VALUES (?, ?, 1, ?, ?, false)
ON CONFLICT (client_id, endpoint_id, window_start) DO UPDATE
SET request_count = rate_limit_windows.request_count + 1
WHERE rate_limit_windows.request_count < ?
RETURNING request_count`

// CheckAndConsume atomically admits the request into the current minute
// window, or reports the exhausted window without incrementing. A limit of
// zero or below admits nothing.
func (l *Limiter) CheckAndConsume(ctx context.Context, clientID, endpointID string, limitPerMinute int) (Decision, error) {
	windowStart := l.now().UTC().Truncate(time.Minute)
	windowEnd := windowStart.Add(time.Minute)
	decision := Decision{
		Limit:       limitPerMinute,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	}

	if limitPerMinute <= 0 {
		decision.CurrentCount = l.currentCount(ctx, clientID, endpointID, windowStart)
		return decision, nil
	}

	var row struct {
		RequestCount int
	}
	result := l.db.WithContext(ctx).
		Raw(consumeQuery, clientID, endpointID, windowStart, windowEnd, limitPerMinute).
		Scan(&row)
	if result.Error != nil {
		return decision, fmt.Errorf("rate limit check failed: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		// Guard rejected the increment: the window is full.
		decision.CurrentCount = l.currentCount(ctx, clientID, endpointID, windowStart)
		l.markBlocked(ctx, clientID, endpointID, windowStart)
		return decision, nil
	}

	decision.Allowed = true
	decision.CurrentCount = row.RequestCount
	return decision, nil
}

func (l *Limiter) currentCount(ctx context.Context, clientID, endpointID string, windowStart time.Time) int {
	var count int
	err := l.db.WithContext(ctx).
		Raw(`SELECT request_count FROM rate_limit_windows WHERE client_id = ? AND endpoint_id = ? AND window_start = ?`,
			clientID, endpointID, windowStart).
		Scan(&count).Error
	if err != nil {
		l.log.WithError(err).Warn("Failed to read rate limit window count")
	}
	return count
}

func (l *Limiter) markBlocked(ctx context.Context, clientID, endpointID string, windowStart time.Time) {
	err := l.db.WithContext(ctx).
		Exec(`UPDATE rate_limit_windows SET blocked = true WHERE client_id = ? AND endpoint_id = ? AND window_start = ? AND NOT blocked`,
			clientID, endpointID, windowStart).Error
	if err != nil {
		l.log.WithError(err).Warn("Failed to flag blocked rate limit window")
	}
}
