package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fiffu/releasewatch/config"
	"github.com/fiffu/releasewatch/lib/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveJSON(t *testing.T, status int, body string, check func(r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testBase() base {
	return base{http.DefaultClient, 5 * time.Second}
}

func TestModtale_Fetch(t *testing.T) {
	body := `{
		"title": "Better Benches",
		"author": "sawdust",
		"imageUrl": "/media/icon.png",
		"description": "<p>Adds <b>benches</b>.</p>",
		"versions": [
			{"id": "v3", "versionNumber": "1.2.0", "changelog": "<ul><li>fix</li></ul>"},
			{"id": "v2", "versionNumber": ""},
			{"id": "", "versionNumber": "0.0.1"},
			{"id": "v2", "versionNumber": "dup"},
			{"id": 17}
		]
	}`
	srv := serveJSON(t, http.StatusOK, body, func(r *http.Request) {
		assert.Equal(t, "/api/v1/projects/proj-uuid", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-MODTALE-KEY"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
	})

	m := &Modtale{testBase(), srv.URL + "/"}
	stream := models.StreamConfig{
		Stream:   models.Stream{Kind: models.SourceModtale, Key: "proj-uuid"},
		APIToken: "secret",
	}

	res, err := m.Fetch(context.Background(), stream)
	require.NoError(t, err)

	assert.Equal(t, []string{"v3", "v2", "17"}, res.Items.IDs())
	assert.Equal(t, "1.2.0", res.Items[0].DisplayLabel)
	assert.Equal(t, "v2", res.Items[1].DisplayLabel, "falls back to id when versionNumber is empty")
	assert.Equal(t, models.NewestFirst, res.Order)

	meta := res.Metadata
	assert.Equal(t, "Better Benches", meta.Title)
	assert.Equal(t, "sawdust", meta.Author)
	assert.Equal(t, srv.URL+"/media/icon.png", meta.ThumbnailURL)
	assert.Equal(t, "Adds benches.", meta.Summary)
}

func TestModtale_FetchDefaults(t *testing.T) {
	body := `{"galleryImages": ["https://cdn.example/1.png"], "versions": []}`
	srv := serveJSON(t, http.StatusOK, body, func(r *http.Request) {
		assert.Empty(t, r.Header.Get("X-MODTALE-KEY"))
	})

	m := &Modtale{testBase(), srv.URL}
	stream := models.StreamConfig{Stream: models.Stream{Kind: models.SourceModtale, Key: "abc"}}

	res, err := m.Fetch(context.Background(), stream)
	require.NoError(t, err)

	assert.Empty(t, res.Items)
	assert.Equal(t, "Modtale Project", res.Metadata.Title)
	assert.Equal(t, "Unknown Author", res.Metadata.Author)
	assert.Equal(t, "https://cdn.example/1.png", res.Metadata.ThumbnailURL)
	assert.Equal(t, "abc", res.Metadata.Slug)
}

func TestFetch_Non2xxIsFetchError(t *testing.T) {
	srv := serveJSON(t, http.StatusNotFound, `{"error":"nope"}`, nil)

	m := &Modtale{testBase(), srv.URL}
	_, err := m.Fetch(context.Background(), models.StreamConfig{Stream: models.Stream{Key: "x"}})

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.Status)
}

func TestFetch_MalformedBodyIsFetchError(t *testing.T) {
	srv := serveJSON(t, http.StatusOK, `{"files": [`, nil)

	c := &Curseforge{testBase(), srv.URL}
	res, err := c.Fetch(context.Background(), models.StreamConfig{Stream: models.Stream{Key: "1"}})

	assert.Nil(t, res)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Zero(t, fe.Status)
}

func TestFetch_TimeoutIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	c := &Curseforge{base{http.DefaultClient, 50 * time.Millisecond}, srv.URL}
	_, err := c.Fetch(context.Background(), models.StreamConfig{Stream: models.Stream{Key: "1"}})

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
}

func TestCurseforge_Fetch(t *testing.T) {
	body := `{
		"id": 1234,
		"title": "",
		"name": "Hearth Mod",
		"summary": "Cozy fires",
		"attachments": {"logo": "https://media.forgecdn.net/logo.png"},
		"members": [{"username": "ember", "title": "Owner"}],
		"files": [
			{"id": 6075247, "display": "Hearth 2.0"},
			{"id": 6075100, "name": "hearth-1.9.jar"},
			{"id": 6075247, "display": "duplicate"},
			{"display": "no id"},
			{"id": 6000001}
		]
	}`
	srv := serveJSON(t, http.StatusOK, body, func(r *http.Request) {
		assert.Equal(t, "/1234", r.URL.Path)
	})

	c := &Curseforge{testBase(), srv.URL + "/"}
	stream := models.StreamConfig{
		Stream: models.Stream{Kind: models.SourceCurseforge, Key: "1234"},
		Slug:   "hearth-mod",
	}

	res, err := c.Fetch(context.Background(), stream)
	require.NoError(t, err)

	assert.Equal(t, []string{"6075247", "6075100", "6000001"}, res.Items.IDs())
	assert.Equal(t, "Hearth 2.0", res.Items[0].DisplayLabel)
	assert.Equal(t, "hearth-1.9.jar", res.Items[1].DisplayLabel)
	assert.Equal(t, "6000001", res.Items[2].DisplayLabel)

	meta := res.Metadata
	assert.Equal(t, "Hearth Mod", meta.Title)
	assert.Equal(t, "ember", meta.Author)
	assert.Equal(t, "https://media.forgecdn.net/logo.png", meta.ThumbnailURL)
	assert.Equal(t, "hearth-mod", meta.Slug)
	assert.Equal(t, "Cozy fires", meta.Summary)
}

func TestCurseforge_MetadataDefaults(t *testing.T) {
	body := `{"thumbnail": "/relative.png", "attachments": [], "files": []}`
	srv := serveJSON(t, http.StatusOK, body, nil)

	c := &Curseforge{testBase(), srv.URL}
	stream := models.StreamConfig{
		Stream: models.Stream{Kind: models.SourceCurseforge, Key: "9"},
		Slug:   "slug-only",
	}

	res, err := c.Fetch(context.Background(), stream)
	require.NoError(t, err)

	assert.Equal(t, "slug-only", res.Metadata.Title)
	assert.Equal(t, "Unknown", res.Metadata.Author)
	assert.Empty(t, res.Metadata.ThumbnailURL)
}

func TestMakeAbsoluteURL(t *testing.T) {
	base := "https://api.modtale.net/"
	assert.Equal(t, "", MakeAbsoluteURL(base, "  "))
	assert.Equal(t, "http://x/y.png", MakeAbsoluteURL(base, "http://x/y.png"))
	assert.Equal(t, "https://api.modtale.net/a/b.png", MakeAbsoluteURL(base, "/a/b.png"))
	assert.Equal(t, "https://api.modtale.net/a/b.png", MakeAbsoluteURL("https://api.modtale.net", "a/b.png"))
}

func TestPlainTextAndExcerpt(t *testing.T) {
	assert.Equal(t, "", PlainText(""))
	assert.Equal(t, "Hello world", PlainText("<p>Hello</p>\n<p>world</p><script>x()</script>"))
	assert.Equal(t, "plain text", PlainText("plain   text"))

	assert.Equal(t, "short", Excerpt("short", 10))
	assert.Equal(t, "abcd…", Excerpt("abcdefghij", 5))
}

func TestNewRegistry_KeyedByAdapterKind(t *testing.T) {
	cfg := &config.Config{ModtaleBaseURL: "https://m.test", CFWidgetBaseURL: "https://cf.test", FetchTimeoutSecs: 5}

	r := NewRegistry(cfg, http.DefaultClient)

	require.Len(t, r, len(models.SourceKinds))
	for _, kind := range models.SourceKinds {
		require.Contains(t, r, kind)
		assert.Equal(t, kind, r[kind].Kind())
	}
	assert.Equal(t, "https://m.test", r[models.SourceModtale].(*Modtale).baseURL)
	assert.Equal(t, "https://cf.test", r[models.SourceCurseforge].(*Curseforge).baseURL)
}
