package lib

import (
	"context"
	"errors"

	"github.com/fiffu/releasewatch/config"
	"github.com/fiffu/releasewatch/lib/history"
	"github.com/fiffu/releasewatch/lib/models"
	"github.com/fiffu/releasewatch/lib/seenstore"
	"github.com/fiffu/releasewatch/lib/watcher"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

var ErrStreamNotFound = errors.New("stream is not configured")

type Poller interface {
	Groups() []watcher.GroupStatus
	PollGroup(kind models.SourceKind) (*watcher.TickMetrics, error)
}

type SeenReader interface {
	SeenSet(stream models.Stream) models.SeenSet
}

type HistoryReader interface {
	List(ctx context.Context, stream models.Stream, limit int) (models.DispatchRecords, error)
}

// Service is the read and control surface behind the HTTP API.
type Service struct {
	streams []models.StreamConfig
	poller  Poller
	seen    SeenReader
	history HistoryReader
}

func NewService(cfg *config.Config, w *watcher.Watcher, store *seenstore.Store, hist *history.History) *Service {
	return New(cfg.Streams(), w, store, hist)
}

func New(streams []models.StreamConfig, poller Poller, seen SeenReader, hist HistoryReader) *Service {
	return &Service{streams, poller, seen, hist}
}

type StreamStatus struct {
	models.StreamConfig
	State string
	Seen  int
}

// ListStreams reports every configured stream with its group's state.
func (svc *Service) ListStreams() []StreamStatus {
	states := make(map[models.SourceKind]string)
	for _, g := range svc.poller.Groups() {
		states[g.Kind] = g.State.String()
	}

	out := make([]StreamStatus, len(svc.streams))
	for i, s := range svc.streams {
		out[i] = StreamStatus{
			StreamConfig: s,
			State:        states[s.Kind],
			Seen:         len(svc.seen.SeenSet(s.Stream)),
		}
	}
	return out
}

func (svc *Service) Groups() []watcher.GroupStatus {
	return svc.poller.Groups()
}

func (svc *Service) findStream(kind, key string) (models.Stream, error) {
	k, err := models.ParseSourceKind(kind)
	if err != nil {
		return models.Stream{}, ErrStreamNotFound
	}
	for _, s := range svc.streams {
		if s.Kind == k && s.Key == key {
			return s.Stream, nil
		}
	}
	return models.Stream{}, ErrStreamNotFound
}

// StreamSeen returns the announced ids of a configured stream, sorted.
func (svc *Service) StreamSeen(kind, key string) ([]string, error) {
	stream, err := svc.findStream(kind, key)
	if err != nil {
		return nil, err
	}
	return svc.seen.SeenSet(stream).Sorted(), nil
}

func (svc *Service) StreamHistory(ctx context.Context, kind, key string, limit int) (models.DispatchRecords, error) {
	stream, err := svc.findStream(kind, key)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return svc.history.List(ctx, stream, limit)
}

// TriggerPoll runs a tick of the group for kind and waits for it to finish.
func (svc *Service) TriggerPoll(kind string) (*watcher.TickMetrics, error) {
	k, err := models.ParseSourceKind(kind)
	if err != nil {
		return nil, watcher.ErrUnknownGroup
	}
	return svc.poller.PollGroup(k)
}
