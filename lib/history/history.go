package history

import (
	"context"
	"time"

	"github.com/fiffu/releasewatch/lib/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// History is an audit log of send attempts. It never influences seen state.
type History struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewHistory(db *gorm.DB, log *zap.Logger) *History {
	return &History{db, log}
}

func (h *History) Record(ctx context.Context, rec *models.DispatchRecord) error {
	tx := h.db.WithContext(ctx).Create(rec)
	return tx.Error
}

// List returns the latest records of a stream, newest first.
func (h *History) List(ctx context.Context, stream models.Stream, limit int) (models.DispatchRecords, error) {
	var recs models.DispatchRecords
	tx := h.db.WithContext(ctx).
		Where("kind = ?", string(stream.Kind)).
		Where("stream_key = ?", stream.Key).
		Order("id desc").
		Limit(limit).
		Find(&recs)
	if err := tx.Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// Purge hard-deletes records created before cutoff.
func (h *History) Purge(ctx context.Context, cutoff time.Time) {
	tx := h.db.WithContext(ctx).Unscoped().Delete(&models.DispatchRecord{}, "created_at < ?", cutoff)
	if err := tx.Error; err != nil {
		h.log.Sugar().Errorf("purge dispatch history error: %+v", err)
	}
	if tx.RowsAffected > 0 {
		h.log.Sugar().Infof("Purged %d old dispatch records", tx.RowsAffected)
	}
}
