package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fiffu/releasewatch/lib/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestHistory(t *testing.T) *History {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "history.sqlite")), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.DispatchRecord{}))
	return NewHistory(db, zap.NewNop())
}

func TestHistory_RecordAndList(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()
	stream := models.Stream{Kind: models.SourceModtale, Key: "uuid-1"}
	other := models.Stream{Kind: models.SourceCurseforge, Key: "uuid-1"}

	for _, id := range []string{"v1", "v2", "v3"} {
		require.NoError(t, h.Record(ctx, &models.DispatchRecord{
			Kind: string(stream.Kind), StreamKey: stream.Key, ItemID: id, Status: models.DispatchSent,
		}))
	}
	require.NoError(t, h.Record(ctx, &models.DispatchRecord{
		Kind: string(other.Kind), StreamKey: other.Key, ItemID: "x", Status: models.DispatchFailed,
	}))

	recs, err := h.List(ctx, stream, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "v3", recs[0].ItemID)
	assert.Equal(t, "v2", recs[1].ItemID)
}

func TestHistory_Purge(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()
	stream := models.Stream{Kind: models.SourceModtale, Key: "k"}

	old := &models.DispatchRecord{Kind: string(stream.Kind), StreamKey: stream.Key, ItemID: "old"}
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, h.Record(ctx, old))
	require.NoError(t, h.Record(ctx, &models.DispatchRecord{Kind: string(stream.Kind), StreamKey: stream.Key, ItemID: "new"}))

	h.Purge(ctx, time.Now().Add(-24*time.Hour))

	recs, err := h.List(ctx, stream, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "new", recs[0].ItemID)
}
