package dispatch

import (
	"context"
	"fmt"

	"github.com/fiffu/releasewatch/config"
	"github.com/fiffu/releasewatch/lib/history"
	"github.com/fiffu/releasewatch/lib/models"
	"github.com/fiffu/releasewatch/lib/render"
	"github.com/fiffu/releasewatch/lib/seenstore"
	"github.com/fiffu/releasewatch/senders"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type SeenMarker interface {
	Mark(stream models.Stream, id string) bool
	Persist() error
}

type Recorder interface {
	Record(ctx context.Context, rec *models.DispatchRecord) error
}

// Report describes one Dispatch call. Sent lists delivered ids in order;
// FailedID is set when a send failed and the batch stopped there.
type Report struct {
	Sent       []string
	FailedID   string
	Err        error
	Persisted  bool
	PersistErr error
}

// Dispatcher sends new items in order and marks each one seen only after
// its send succeeded.
type Dispatcher struct {
	log       *zap.Logger
	sender    senders.Sender
	store     SeenMarker
	renderers render.Registry
	history   Recorder
	limiter   *rate.Limiter
}

func NewDispatcher(
	log *zap.Logger,
	cfg *config.Config,
	sender senders.Sender,
	store *seenstore.Store,
	renderers render.Registry,
	hist *history.History,
) *Dispatcher {
	limit := rate.Inf
	if cfg.SendRatePerSec > 0 {
		limit = rate.Limit(cfg.SendRatePerSec)
	}
	burst := cfg.SendBurst
	if burst < 1 {
		burst = 1
	}
	return New(log, sender, store, renderers, hist, rate.NewLimiter(limit, burst))
}

func New(log *zap.Logger, sender senders.Sender, store SeenMarker, renderers render.Registry, hist Recorder, limiter *rate.Limiter) *Dispatcher {
	return &Dispatcher{log, sender, store, renderers, hist, limiter}
}

// Dispatch renders and sends items in the given order. On the first failed
// send it stops, leaving that item and every later one unmarked. The store
// is persisted once at the end if anything was marked.
func (d *Dispatcher) Dispatch(ctx context.Context, tickID string, stream models.StreamConfig, items models.CandidateItems, meta models.ProjectMetadata) *Report {
	report := &Report{}

	renderer, ok := d.renderers[stream.Kind]
	if !ok {
		report.Err = fmt.Errorf("no renderer for source kind %s", stream.Kind)
		if len(items) > 0 {
			report.FailedID = items[0].ID
		}
		return report
	}

	for _, item := range items {
		n := renderer.Render(stream, item, meta)

		msgID, err := d.send(ctx, &n)
		d.record(ctx, tickID, stream, item, msgID, err)
		if err != nil {
			report.FailedID = item.ID
			report.Err = err
			break
		}

		d.store.Mark(stream.Stream, item.ID)
		report.Sent = append(report.Sent, item.ID)
	}

	if len(report.Sent) > 0 {
		if err := d.store.Persist(); err != nil {
			report.PersistErr = err
			d.log.Sugar().Errorw("Failed to persist seen state",
				"kind", stream.Kind, "stream", stream.Key, "stage", "persist", "err", err)
		} else {
			report.Persisted = true
		}
	}
	return report
}

func (d *Dispatcher) send(ctx context.Context, n *models.Notification) (string, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	return d.sender.Send(ctx, n)
}

// record writes the attempt to history; failures here are only logged.
func (d *Dispatcher) record(ctx context.Context, tickID string, stream models.StreamConfig, item models.CandidateItem, msgID string, sendErr error) {
	if d.history == nil {
		return
	}
	rec := &models.DispatchRecord{
		Kind:      string(stream.Kind),
		StreamKey: stream.Key,
		ItemID:    item.ID,
		Label:     item.DisplayLabel,
		Status:    models.DispatchSent,
		MessageID: msgID,
		TickID:    tickID,
	}
	if sendErr != nil {
		rec.Status = models.DispatchFailed
		rec.Error = sendErr.Error()
	}
	if err := d.history.Record(context.WithoutCancel(ctx), rec); err != nil {
		d.log.Sugar().Warnw("Failed to record dispatch history", "stream", stream.String(), "item", item.ID, "err", err)
	}
}
