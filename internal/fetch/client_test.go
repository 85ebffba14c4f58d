package fetch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubPolicy struct {
	allow bool
	delay time.Duration
}

func (p stubPolicy) CanFetch(context.Context, string) bool { return p.allow }

func (p stubPolicy) CrawlDelay(context.Context, string) time.Duration { return p.delay }

func (p stubPolicy) Content(string, int) string { return "User-agent: *" }

type stubRenderer struct {
	html  string
	pages []string
	err   error
	calls int
}

func (r *stubRenderer) Available() bool { return true }

func (r *stubRenderer) Render(context.Context, string, RenderOptions) (string, error) {
	r.calls++
	return r.html, r.err
}

func (r *stubRenderer) RenderPages(context.Context, string, string, RenderOptions, int) ([]string, error) {
	r.calls++
	return r.pages, r.err
}

func (r *stubRenderer) Close(context.Context) error { return nil }

type memBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{objects: make(map[string][]byte)}
}

func (s *memBlobStore) PutObject(_ context.Context, path, _ string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = data
	return "mem://" + path, nil
}

func pageServer(t *testing.T, html string) (*httptest.Server, *int) {
	t.Helper()
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		_, _ = w.Write([]byte(html))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestClient(renderer Renderer, policy RobotsPolicy, snapshots *memBlobStore) *Client {
	client := NewClient(NewHTTPFetcher("test-agent", 5*time.Second), renderer, policy, nil, nil, zap.NewNop())
	if snapshots != nil {
		client.snapshots = snapshots
	}
	return client
}

func TestFetchPlainGET(t *testing.T) {
	srv, hits := pageServer(t, `<html><body><div class="job">Deckhand</div></body></html>`)
	client := newTestClient(nil, stubPolicy{allow: true}, nil)

	doc, err := client.Fetch(context.Background(), srv.URL+"/jobs", Options{})
	require.NoError(t, err)
	require.Equal(t, 1, *hits)
	require.False(t, doc.Rendered)
	require.Equal(t, srv.URL+"/jobs", doc.URL)
	require.Equal(t, "Deckhand", doc.Find(".job").Text())
}

func TestFetchDeniedByRobots(t *testing.T) {
	srv, hits := pageServer(t, "<html></html>")
	client := newTestClient(nil, stubPolicy{allow: false}, nil)

	_, err := client.Fetch(context.Background(), srv.URL+"/jobs", Options{})
	require.ErrorIs(t, err, ErrRobotsDisallowed)
	require.Zero(t, *hits)
}

func TestFetchSkipRobotsBypassesGate(t *testing.T) {
	srv, hits := pageServer(t, "<html><body>ok</body></html>")
	client := newTestClient(nil, stubPolicy{allow: false}, nil)

	_, err := client.Fetch(context.Background(), srv.URL+"/jobs", Options{SkipRobots: true})
	require.NoError(t, err)
	require.Equal(t, 1, *hits)
}

func TestFetchRenderedPage(t *testing.T) {
	srv, hits := pageServer(t, "<html>plain</html>")
	renderer := &stubRenderer{html: "<html><body><p id=js>rendered</p></body></html>"}
	client := newTestClient(renderer, stubPolicy{allow: true}, nil)

	doc, err := client.Fetch(context.Background(), srv.URL+"/jobs", Options{Render: true})
	require.NoError(t, err)
	require.True(t, doc.Rendered)
	require.Equal(t, "rendered", doc.Find("#js").Text())
	require.Equal(t, 1, renderer.calls)
	require.Zero(t, *hits, "render success must not hit the origin")
}

func TestFetchFallsBackWhenRenderFails(t *testing.T) {
	srv, hits := pageServer(t, "<html><body>static</body></html>")
	renderer := &stubRenderer{err: ErrRendererUnavailable}
	client := newTestClient(renderer, stubPolicy{allow: true}, nil)

	doc, err := client.Fetch(context.Background(), srv.URL+"/jobs", Options{Render: true})
	require.NoError(t, err)
	require.False(t, doc.Rendered)
	require.Equal(t, 1, *hits)
}

func TestFetchArchivesSnapshot(t *testing.T) {
	srv, _ := pageServer(t, "<html><body>archived</body></html>")
	snapshots := newMemBlobStore()
	client := newTestClient(nil, stubPolicy{allow: true}, snapshots)

	_, err := client.Fetch(context.Background(), srv.URL+"/jobs", Options{})
	require.NoError(t, err)

	snapshots.mu.Lock()
	defer snapshots.mu.Unlock()
	require.Len(t, snapshots.objects, 1)
	for _, data := range snapshots.objects {
		require.True(t, bytes.Contains(data, []byte("archived")))
	}
}

func TestFetchPagesRequiresRenderer(t *testing.T) {
	client := newTestClient(nil, stubPolicy{allow: true}, nil)

	_, err := client.FetchPages(context.Background(), "https://example.com/jobs", ".next", Options{}, 3)
	require.ErrorIs(t, err, ErrRendererUnavailable)
}

func TestFetchPagesReturnsOrderedDocuments(t *testing.T) {
	renderer := &stubRenderer{pages: []string{
		"<html><body><p>page1</p></body></html>",
		"<html><body><p>page2</p></body></html>",
	}}
	client := newTestClient(renderer, stubPolicy{allow: true}, nil)

	docs, err := client.FetchPages(context.Background(), "https://example.com/jobs", ".next", Options{}, 5)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, "page1", docs[0].Find("p").Text())
	require.Equal(t, "page2", docs[1].Find("p").Text())
	require.True(t, docs[0].Rendered)
}

func TestPauseHonorsContext(t *testing.T) {
	client := newTestClient(nil, stubPolicy{allow: true, delay: time.Minute}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := client.Pause(ctx, "https://example.com/jobs")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
