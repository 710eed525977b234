package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/fiffu/releasewatch/lib/models"
	"github.com/google/uuid"
)

func (w *Watcher) tick(ctx context.Context, g *group) *TickMetrics {
	tickID := uuid.NewString()
	startTime := time.Now().UTC()
	m := &TickMetrics{}

	for _, stream := range g.streams {
		m.Add(w.pollStream(ctx, tickID, g, stream))
	}
	g.setState(StateIdle)
	g.finish(startTime, m)

	ticksTotal.WithLabelValues(string(g.kind)).Inc()
	seenItems.WithLabelValues(string(g.kind)).Set(float64(w.seen.Count(g.kind)))

	args := []any{"kind", g.kind, "tick_id", tickID}
	if m.Errored != 0 {
		args = append(args, "errored", m.Errored)
	}
	if m.Updated != 0 {
		args = append(args, "updated", m.Updated, "dispatched", m.Dispatched)
	}
	if m.Unchanged != 0 {
		args = append(args, "unchanged", m.Unchanged)
	}
	elapsed := time.Now().UTC().Sub(startTime)
	args = append(args, "elapsed_msecs", int(elapsed.Milliseconds()))
	w.log.Sugar().Infow(fmt.Sprintf("Processed %d streams", m.Streams), args...)

	if w.history != nil && w.historyTTL > 0 {
		w.history.Purge(ctx, startTime.Add(-w.historyTTL))
	}
	return m
}

// pollStream runs fetch, detect and dispatch for one stream. Every failure,
// panics included, is logged here and never reaches other streams.
func (w *Watcher) pollStream(ctx context.Context, tickID string, g *group, stream models.StreamConfig) (m *TickMetrics) {
	m = &TickMetrics{Streams: 1}
	stage := "fetch"

	defer func() {
		if r := recover(); r != nil {
			w.streamFailed(stream, stage, fmt.Errorf("panic: %v", r))
			m.Errored = 1
		}
	}()

	adapter, ok := w.sources[stream.Kind]
	if !ok {
		w.streamFailed(stream, stage, fmt.Errorf("no source adapter for %s", stream.Kind))
		m.Errored = 1
		return
	}

	g.setState(StateFetching)
	res, err := adapter.Fetch(ctx, stream)
	if err != nil {
		w.streamFailed(stream, stage, err)
		m.Errored = 1
		return
	}

	stage = "detect"
	g.setState(StateDetecting)
	fresh := Diff(res.Items, res.Order, w.seen.SeenSet(stream.Stream))
	if len(fresh) == 0 {
		m.Unchanged = 1
		return
	}
	w.log.Sugar().Debugw("Detected new items", "kind", stream.Kind, "stream", stream.Key, "items", fresh.IDs())

	stage = "dispatch"
	g.setState(StateDispatching)
	report := w.dispatcher.Dispatch(ctx, tickID, stream, fresh, res.Metadata)

	kind := string(stream.Kind)
	m.Dispatched = len(report.Sent)
	notificationsTotal.WithLabelValues(kind, "sent").Add(float64(len(report.Sent)))

	if report.PersistErr != nil {
		streamErrors.WithLabelValues(kind, "persist").Inc()
	}
	if report.Err != nil {
		notificationsTotal.WithLabelValues(kind, "failed").Inc()
		w.streamFailed(stream, stage, report.Err, "item", report.FailedID, "sent", len(report.Sent))
		m.Errored = 1
		return
	}

	m.Updated = 1
	w.log.Sugar().Infow("Announced new items",
		"kind", stream.Kind, "stream", stream.Key, "items", report.Sent)
	return
}

func (w *Watcher) streamFailed(stream models.StreamConfig, stage string, err error, extra ...any) {
	streamErrors.WithLabelValues(string(stream.Kind), stage).Inc()
	args := append([]any{"kind", stream.Kind, "stream", stream.Key, "stage", stage, "err", err}, extra...)
	w.log.Sugar().Errorw("Stream tick failed", args...)
}
