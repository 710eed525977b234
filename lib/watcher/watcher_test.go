package watcher

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fiffu/releasewatch/lib/dispatch"
	"github.com/fiffu/releasewatch/lib/models"
	"github.com/fiffu/releasewatch/lib/render"
	"github.com/fiffu/releasewatch/lib/seenstore"
	"github.com/fiffu/releasewatch/lib/sources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAdapter struct {
	kind models.SourceKind

	mu      sync.Mutex
	results map[string]*models.FetchResult
	errs    map[string]error
	panics  map[string]bool
}

func (f *fakeAdapter) Kind() models.SourceKind { return f.kind }

func (f *fakeAdapter) Fetch(ctx context.Context, stream models.StreamConfig) (*models.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics[stream.Key] {
		panic("boom")
	}
	if err := f.errs[stream.Key]; err != nil {
		return nil, err
	}
	return f.results[stream.Key], nil
}

func (f *fakeAdapter) set(key string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[key] = &models.FetchResult{
		Items:    candidates(ids...),
		Order:    models.NewestFirst,
		Metadata: models.ProjectMetadata{Title: key},
	}
}

type recordingSender struct {
	mu     sync.Mutex
	ready  error
	sent   []string
	failOn map[string]bool
}

func (r *recordingSender) Ready(ctx context.Context) error { return r.ready }

func (r *recordingSender) Send(ctx context.Context, n *models.Notification) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := n.Links[0].URL
	if r.failOn[id] {
		return "", errors.New("send failed")
	}
	r.sent = append(r.sent, id)
	return "ok", nil
}

func (r *recordingSender) Sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

// linkID is the link the curseforge renderer builds for an item, used to
// identify which item a notification belongs to.
func linkID(slug, id string) string {
	return (&render.Curseforge{SiteURL: "https://cf.test"}).FilePageURL(slug, id)
}

type fixture struct {
	watcher *Watcher
	adapter *fakeAdapter
	sender  *recordingSender
	store   *seenstore.Store
}

func newFixture(t *testing.T, streams ...models.StreamConfig) *fixture {
	t.Helper()
	log := zap.NewNop()
	adapter := &fakeAdapter{
		kind:    models.SourceCurseforge,
		results: map[string]*models.FetchResult{},
		errs:    map[string]error{},
		panics:  map[string]bool{},
	}
	sender := &recordingSender{failOn: map[string]bool{}}
	store := seenstore.New(filepath.Join(t.TempDir(), "cache.json"), log)
	renderers := render.Registry{models.SourceCurseforge: &render.Curseforge{SiteURL: "https://cf.test"}}
	d := dispatch.New(log, sender, store, renderers, nil, nil)

	w := New(log, sources.Registry{models.SourceCurseforge: adapter}, store, d, nil, sender, Options{
		Streams:   streams,
		Intervals: map[models.SourceKind]time.Duration{models.SourceCurseforge: time.Hour},
	})
	t.Cleanup(func() { w.Stop(context.Background()) })
	return &fixture{w, adapter, sender, store}
}

func (f *fixture) resume() {
	for _, g := range f.watcher.groups {
		g.setState(StateIdle)
	}
}

func cfStream(key string) models.StreamConfig {
	return models.StreamConfig{Stream: models.Stream{Kind: models.SourceCurseforge, Key: key}, Slug: key}
}

func TestPollGroup_SuspendedUntilReady(t *testing.T) {
	f := newFixture(t, cfStream("s1"))

	_, err := f.watcher.PollGroup(models.SourceCurseforge)
	assert.ErrorIs(t, err, ErrSuspended)

	_, err = f.watcher.PollGroup(models.SourceModtale)
	assert.ErrorIs(t, err, ErrUnknownGroup)
}

func TestPollGroup_Scenario(t *testing.T) {
	s1 := cfStream("s1")
	f := newFixture(t, s1)
	f.resume()
	f.store.Mark(s1.Stream, "v1")
	f.adapter.set("s1", "v3", "v2", "v1")

	m, err := f.watcher.PollGroup(models.SourceCurseforge)
	require.NoError(t, err)

	assert.Equal(t, []string{linkID("s1", "v2"), linkID("s1", "v3")}, f.sender.Sent())
	assert.Equal(t, []string{"v1", "v2", "v3"}, f.store.SeenSet(s1.Stream).Sorted())
	assert.Equal(t, &TickMetrics{Streams: 1, Updated: 1, Dispatched: 2}, m)

	// Same fetch again is idempotent.
	m, err = f.watcher.PollGroup(models.SourceCurseforge)
	require.NoError(t, err)
	assert.Len(t, f.sender.Sent(), 2)
	assert.Equal(t, 1, m.Unchanged)
}

func TestPollGroup_FirstObservationFlood(t *testing.T) {
	s1 := cfStream("s1")
	f := newFixture(t, s1)
	f.resume()
	f.adapter.set("s1", "e", "d", "c", "b", "a")

	_, err := f.watcher.PollGroup(models.SourceCurseforge)
	require.NoError(t, err)

	want := []string{}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		want = append(want, linkID("s1", id))
	}
	assert.Equal(t, want, f.sender.Sent())
	assert.Len(t, f.store.SeenSet(s1.Stream), 5)
}

func TestPollGroup_PartialFailureRetriedNextTick(t *testing.T) {
	s1 := cfStream("s1")
	f := newFixture(t, s1)
	f.resume()
	f.adapter.set("s1", "i3", "i2", "i1")
	f.sender.failOn[linkID("s1", "i2")] = true

	m, err := f.watcher.PollGroup(models.SourceCurseforge)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Errored)
	assert.Equal(t, []string{"i1"}, f.store.SeenSet(s1.Stream).Sorted())

	reloaded := seenstore.New(f.store.Path(), zap.NewNop())
	reloaded.Load()
	assert.Equal(t, []string{"i1"}, reloaded.SeenSet(s1.Stream).Sorted())

	f.sender.mu.Lock()
	f.sender.failOn = map[string]bool{}
	f.sender.mu.Unlock()

	_, err = f.watcher.PollGroup(models.SourceCurseforge)
	require.NoError(t, err)
	assert.Equal(t, []string{linkID("s1", "i1"), linkID("s1", "i2"), linkID("s1", "i3")}, f.sender.Sent())
	assert.Equal(t, []string{"i1", "i2", "i3"}, f.store.SeenSet(s1.Stream).Sorted())
}

func TestPollGroup_StreamFailuresAreIsolated(t *testing.T) {
	f := newFixture(t, cfStream("broken"), cfStream("panicky"), cfStream("healthy"))
	f.resume()
	f.adapter.errs["broken"] = &sources.FetchError{Status: 503, Message: "unavailable"}
	f.adapter.panics["panicky"] = true
	f.adapter.set("healthy", "x1")

	m, err := f.watcher.PollGroup(models.SourceCurseforge)
	require.NoError(t, err)

	assert.Equal(t, 3, m.Streams)
	assert.Equal(t, 2, m.Errored)
	assert.Equal(t, 1, m.Updated)
	assert.Equal(t, []string{linkID("healthy", "x1")}, f.sender.Sent())

	status := f.watcher.Groups()
	require.Len(t, status, 1)
	assert.Equal(t, StateIdle, status[0].State)
	assert.Equal(t, 2, status[0].LastTick.Errored)
}

func TestStart_RunsImmediateTickOnceReady(t *testing.T) {
	s1 := cfStream("s1")
	f := newFixture(t, s1)
	f.adapter.set("s1", "v2", "v1")

	f.watcher.Start()

	require.Eventually(t, func() bool {
		return len(f.sender.Sent()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{linkID("s1", "v1"), linkID("s1", "v2")}, f.sender.Sent())

	require.NoError(t, f.watcher.Stop(context.Background()))
	_, err := f.watcher.PollGroup(models.SourceCurseforge)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestStop_BeforeReady(t *testing.T) {
	f := newFixture(t, cfStream("s1"))
	f.sender.ready = errors.New("not logged in")

	f.watcher.Start()
	require.NoError(t, f.watcher.Stop(context.Background()))

	assert.Equal(t, StateSuspended, f.watcher.Groups()[0].State)
	assert.Empty(t, f.sender.Sent())
}
