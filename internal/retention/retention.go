package retention

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sdko-org/query-gateway/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const archiveBatchSize = 1000

type Config struct {
	RetentionDays int
	Interval      time.Duration
}

// Purger periodically deletes aged access logs, elapsed rate limit windows
// and long-deactivated endpoint definitions. When an Archiver is set,
// access logs are exported before deletion.
type Purger struct {
	log      *logrus.Entry
	db       *gorm.DB
	archiver Archiver
	cfg      Config
	now      func() time.Time
}

func NewPurger(logger *logrus.Logger, db *gorm.DB, archiver Archiver, cfg Config) *Purger {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &Purger{
		log:      logger.WithField("component", "retention_purger"),
		db:       db,
		archiver: archiver,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (p *Purger) Start(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.log.WithField("retention_days", p.cfg.RetentionDays).Info("Starting retention purger")

	for {
		select {
		case <-ticker.C:
			p.purge(ctx)
		case <-ctx.Done():
			p.log.Info("Stopping retention purger")
			return
		}
	}
}

func (p *Purger) purge(ctx context.Context) {
	now := p.now()
	cutoff := now.AddDate(0, 0, -p.cfg.RetentionDays)
	log := p.log.WithField("operation", "purge")

	if p.archiver != nil {
		// archiveLogs deletes each batch once it is safely uploaded.
		if err := p.archiveLogs(ctx, cutoff); err != nil {
			log.WithError(err).Error("Access log archiving failed, skipping log deletion")
		}
	} else {
		p.deleteLogs(ctx, log, cutoff)
	}

	result := p.db.WithContext(ctx).
		Where("window_end < ?", now.Add(-time.Hour)).
		Delete(&models.RateLimitWindow{})
	if result.Error != nil {
		log.WithError(result.Error).Error("Rate limit window purge failed")
	} else if result.RowsAffected > 0 {
		log.WithField("count", result.RowsAffected).Info("Purged elapsed rate limit windows")
	}

	result = p.db.WithContext(ctx).
		Where("NOT is_active AND updated_at < ?", cutoff).
		Delete(&models.EndpointDefinition{})
	if result.Error != nil {
		log.WithError(result.Error).Error("Endpoint definition purge failed")
	} else if result.RowsAffected > 0 {
		log.WithField("count", result.RowsAffected).Info("Purged deactivated endpoint definitions")
	}
}

func (p *Purger) deleteLogs(ctx context.Context, log *logrus.Entry, cutoff time.Time) {
	result := p.db.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Delete(&models.AccessLog{})
	if result.Error != nil {
		log.WithError(result.Error).Error("Access log purge failed")
	} else if result.RowsAffected > 0 {
		log.WithField("count", result.RowsAffected).Info("Purged aged access log entries")
	}
}

// archiveLogs exports aged entries in NDJSON batches keyed by date.
func (p *Purger) archiveLogs(ctx context.Context, cutoff time.Time) error {
	for {
		var entries []models.AccessLog
		err := p.db.WithContext(ctx).
			Where("timestamp < ?", cutoff).
			Order("id").
			Limit(archiveBatchSize).
			Find(&entries).Error
		if err != nil {
			return fmt.Errorf("archive query failed: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}

		var buf bytes.Buffer
		encoder := json.NewEncoder(&buf)
		for _, entry := range entries {
			if err := encoder.Encode(&entry); err != nil {
				return fmt.Errorf("archive encoding failed: %w", err)
			}
		}

		key := fmt.Sprintf("access-logs/%s/batch-%s.ndjson", p.now().Format("2006/01/02"), uuid.NewString())
		if err := p.archiver.Put(ctx, key, buf.Bytes()); err != nil {
			return err
		}

		ids := make([]uint, len(entries))
		for i, entry := range entries {
			ids[i] = entry.ID
		}
		if err := p.db.WithContext(ctx).Delete(&models.AccessLog{}, ids).Error; err != nil {
			return fmt.Errorf("archived log deletion failed: %w", err)
		}

		p.log.WithFields(logrus.Fields{
			"count": len(entries),
			"key":   key,
		}).Info("Archived access log batch")

		if len(entries) < archiveBatchSize {
			return nil
		}
	}
}
