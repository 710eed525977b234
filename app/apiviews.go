package app

import (
	"time"

	"github.com/fiffu/releasewatch/lib"
	"github.com/fiffu/releasewatch/lib/models"
	"github.com/fiffu/releasewatch/lib/watcher"
)

type StreamView struct {
	Kind string `json:"kind"`
	Key  string `json:"key"`
	Slug string `json:"slug,omitempty"`
}

func (view StreamView) From(entity models.StreamConfig) StreamView {
	return StreamView{
		Kind: string(entity.Kind),
		Key:  entity.Key,
		Slug: entity.Slug,
	}
}

type StreamStatusView struct {
	StreamView
	State     string `json:"state"`
	SeenCount int    `json:"seen_count"`
}

func (view StreamStatusView) From(entity lib.StreamStatus) StreamStatusView {
	return StreamStatusView{
		StreamView: StreamView{}.From(entity.StreamConfig),
		State:      entity.State,
		SeenCount:  entity.Seen,
	}
}

type GroupView struct {
	Kind            string               `json:"kind"`
	State           string               `json:"state"`
	IntervalSeconds int                  `json:"interval_seconds"`
	Streams         []StreamView         `json:"streams"`
	LastTickAt      *string              `json:"last_tick_at"`
	LastTick        *watcher.TickMetrics `json:"last_tick,omitempty"`
}

func (view GroupView) From(entity watcher.GroupStatus) GroupView {
	v := GroupView{
		Kind:            string(entity.Kind),
		State:           entity.State.String(),
		IntervalSeconds: int(entity.Interval.Seconds()),
		Streams:         FromMany[models.StreamConfig, StreamView](entity.Streams),
		LastTickAt:      isoformat(entity.LastTickAt),
	}
	if !entity.LastTickAt.IsZero() {
		last := entity.LastTick
		v.LastTick = &last
	}
	return v
}

type DispatchRecordView struct {
	ItemID    string  `json:"item_id"`
	Label     string  `json:"label"`
	Status    string  `json:"status"`
	MessageID string  `json:"message_id,omitempty"`
	Error     string  `json:"error,omitempty"`
	TickID    string  `json:"tick_id"`
	CreatedAt *string `json:"created_at"`
}

func (view DispatchRecordView) From(entity models.DispatchRecord) DispatchRecordView {
	return DispatchRecordView{
		ItemID:    entity.ItemID,
		Label:     entity.Label,
		Status:    entity.Status,
		MessageID: entity.MessageID,
		Error:     entity.Error,
		TickID:    entity.TickID,
		CreatedAt: isoformat(entity.CreatedAt),
	}
}

type Fromable[Entity any, Repr any] interface {
	From(Entity) Repr
}

func FromMany[T any, U Fromable[T, U]](elems []T) []U {
	out := make([]U, len(elems))
	for i, t := range elems {
		var u U
		out[i] = u.From(t)
	}
	return out
}

func isoformat(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
