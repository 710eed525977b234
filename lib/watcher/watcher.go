package watcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fiffu/releasewatch/config"
	"github.com/fiffu/releasewatch/lib/dispatch"
	"github.com/fiffu/releasewatch/lib/history"
	"github.com/fiffu/releasewatch/lib/models"
	"github.com/fiffu/releasewatch/lib/seenstore"
	"github.com/fiffu/releasewatch/lib/sources"
	"github.com/fiffu/releasewatch/senders"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrUnknownGroup = errors.New("no streams configured for source kind")
	ErrSuspended    = errors.New("watcher is waiting for the transport to become ready")
	ErrGroupBusy    = errors.New("a tick is already running for this group")
	ErrStopped      = errors.New("watcher stopped")
)

const readyRetryInterval = 5 * time.Second

type SeenReader interface {
	SeenSet(stream models.Stream) models.SeenSet
	Count(kind models.SourceKind) int
}

type Dispatcher interface {
	Dispatch(ctx context.Context, tickID string, stream models.StreamConfig, items models.CandidateItems, meta models.ProjectMetadata) *dispatch.Report
}

type HistoryPurger interface {
	Purge(ctx context.Context, cutoff time.Time)
}

// Watcher runs one independent poll loop per source kind. Loops stay
// suspended until the sender reports ready.
type Watcher struct {
	log        *zap.Logger
	sources    sources.Registry
	seen       SeenReader
	dispatcher Dispatcher
	history    HistoryPurger
	sender     senders.Sender

	groups     []*group
	cron       *cron.Cron
	startDelay time.Duration
	historyTTL time.Duration

	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup
	cancel   context.CancelFunc
}

type Options struct {
	Streams      []models.StreamConfig
	Intervals    map[models.SourceKind]time.Duration
	StartupDelay time.Duration
	HistoryTTL   time.Duration
}

func NewWatcher(
	lc fx.Lifecycle,
	cfg *config.Config,
	log *zap.Logger,
	registry sources.Registry,
	store *seenstore.Store,
	dispatcher *dispatch.Dispatcher,
	hist *history.History,
	sender senders.Sender,
) *Watcher {
	intervals := make(map[models.SourceKind]time.Duration)
	for _, kind := range models.SourceKinds {
		intervals[kind] = cfg.PollInterval(kind)
	}

	w := New(log, registry, store, dispatcher, hist, sender, Options{
		Streams:      cfg.Streams(),
		Intervals:    intervals,
		StartupDelay: time.Duration(cfg.StartupDelaySecs) * time.Second,
		HistoryTTL:   cfg.HistoryTTL(),
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			w.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Sugar().Info("Trying to stop watcher")
			return w.Stop(ctx)
		},
	})
	return w
}

func New(
	log *zap.Logger,
	registry sources.Registry,
	seen SeenReader,
	dispatcher Dispatcher,
	hist HistoryPurger,
	sender senders.Sender,
	opts Options,
) *Watcher {
	cl := cronLogger{log.Sugar()}
	w := &Watcher{
		log:        log,
		sources:    registry,
		seen:       seen,
		dispatcher: dispatcher,
		history:    hist,
		sender:     sender,
		cron:       cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		startDelay: opts.StartupDelay,
		historyTTL: opts.HistoryTTL,
	}

	for _, kind := range models.SourceKinds {
		var streams []models.StreamConfig
		for _, s := range opts.Streams {
			if s.Kind == kind {
				streams = append(streams, s)
			}
		}
		if len(streams) == 0 {
			continue
		}
		w.groups = append(w.groups, newGroup(kind, opts.Intervals[kind], streams))
	}
	return w
}

// Start waits for the transport in the background, then runs one immediate
// tick per group and hands the groups to the cron scheduler.
func (w *Watcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	go func() {
		if err := w.waitReady(ctx); err != nil {
			return
		}
		w.schedule()
	}()
}

func (w *Watcher) waitReady(ctx context.Context) error {
	for {
		err := w.sender.Ready(ctx)
		if err == nil {
			break
		}
		w.log.Sugar().Warnw("Transport not ready, retrying", "err", err, "retry_in", readyRetryInterval.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyRetryInterval):
		}
	}

	if w.startDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.startDelay):
		}
	}
	return nil
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	for _, g := range w.groups {
		g := g
		g.setState(StateIdle)
		w.cron.Schedule(cron.Every(g.interval), cron.FuncJob(func() {
			w.poll(g)
		}))
		go w.poll(g)

		w.log.Sugar().Infow("Watching streams", "kind", g.kind, "streams", len(g.streams), "interval", g.interval.String())
	}
	w.cron.Start()
}

func (w *Watcher) poll(g *group) {
	if _, err := w.PollGroup(g.kind); err != nil && !errors.Is(err, ErrStopped) {
		w.log.Sugar().Infow("Skipped tick", "kind", g.kind, "reason", err)
	}
}

// Stop prevents new ticks and waits for in-flight ones to finish or ctx to expire.
func (w *Watcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	w.stopped = true
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()

	cronDone := w.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		w.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.log.Sugar().Info("Watcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PollGroup runs one tick for kind now. Ticks of one group never overlap.
func (w *Watcher) PollGroup(kind models.SourceKind) (*TickMetrics, error) {
	g := w.group(kind)
	if g == nil {
		return nil, ErrUnknownGroup
	}
	if g.State() == StateSuspended {
		return nil, ErrSuspended
	}
	if !g.running.TryLock() {
		return nil, ErrGroupBusy
	}
	defer g.running.Unlock()

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil, ErrStopped
	}
	w.inflight.Add(1)
	w.mu.Unlock()
	defer w.inflight.Done()

	// Ticks run to completion on shutdown; fetch and send carry their own deadlines.
	return w.tick(context.Background(), g), nil
}

func (w *Watcher) group(kind models.SourceKind) *group {
	for _, g := range w.groups {
		if g.kind == kind {
			return g
		}
	}
	return nil
}

// Groups reports the state of every configured group.
func (w *Watcher) Groups() []GroupStatus {
	out := make([]GroupStatus, len(w.groups))
	for i, g := range w.groups {
		out[i] = g.status()
	}
	return out
}

// GroupState is the position of a group's loop in its tick pipeline.
type GroupState int32

const (
	StateSuspended GroupState = iota
	StateIdle
	StateFetching
	StateDetecting
	StateDispatching
)

func (s GroupState) String() string {
	switch s {
	case StateSuspended:
		return "suspended"
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateDetecting:
		return "detecting"
	case StateDispatching:
		return "dispatching"
	}
	return "unknown"
}

type GroupStatus struct {
	Kind       models.SourceKind
	State      GroupState
	Interval   time.Duration
	Streams    []models.StreamConfig
	LastTickAt time.Time
	LastTick   TickMetrics
}

type group struct {
	kind     models.SourceKind
	interval time.Duration
	streams  []models.StreamConfig

	state   atomic.Int32
	running sync.Mutex

	lastMu     sync.Mutex
	lastTickAt time.Time
	lastTick   TickMetrics
}

func newGroup(kind models.SourceKind, interval time.Duration, streams []models.StreamConfig) *group {
	g := &group{kind: kind, interval: interval, streams: streams}
	g.state.Store(int32(StateSuspended))
	return g
}

func (g *group) setState(s GroupState) { g.state.Store(int32(s)) }

func (g *group) State() GroupState { return GroupState(g.state.Load()) }

func (g *group) finish(at time.Time, m *TickMetrics) {
	g.lastMu.Lock()
	defer g.lastMu.Unlock()
	g.lastTickAt = at
	g.lastTick = *m
}

func (g *group) status() GroupStatus {
	g.lastMu.Lock()
	defer g.lastMu.Unlock()
	return GroupStatus{
		Kind:       g.kind,
		State:      g.State(),
		Interval:   g.interval,
		Streams:    g.streams,
		LastTickAt: g.lastTickAt,
		LastTick:   g.lastTick,
	}
}

type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw("cron: "+msg, append(keysAndValues, "err", err)...)
}
