package offlinecache

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/always-cache/offline-cache/queue"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *queue.SQLiteQueue {
	t.Helper()
	q, err := queue.OpenSQLiteQueue(context.Background(), "file:"+uuid.New().String()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

// formNetwork accepts form posts unless they are for /fail, and records the bodies.
type formNetwork struct {
	mutex     sync.Mutex
	offline   bool
	delivered []string
}

func (n *formNetwork) setOffline(offline bool) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.offline = offline
}

func (n *formNetwork) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	if n.offline {
		return nil, errOffline
	}
	if r.URL.Path == "/fail" {
		rec := httptest.NewRecorder()
		rec.WriteHeader(http.StatusInternalServerError)
		return rec.Result(), nil
	}
	body := ""
	if r.Body != nil {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
	}
	if r.Method == http.MethodPost {
		n.delivered = append(n.delivered, body)
	}
	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Type", "application/json")
	rec.WriteString(`{"ok":true}`)
	return rec.Result(), nil
}

func postForm(path, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestSyncKeepsOnlyFailedSubmissions(t *testing.T) {
	ctx := context.Background()
	network := &formNetwork{}
	q := newTestQueue(t)
	config := testConfig(network)
	config.Queue = q
	e := startEngine(t, config)

	_, err := e.Defer(ctx, postForm("/api/contact", "name=ok"))
	require.NoError(t, err)
	failing, err := e.Defer(ctx, postForm("/fail", "name=fail"))
	require.NoError(t, err)

	result, err := e.Sync(ctx, DefaultSyncTag)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Delivered: 1, Failed: 1}, result)
	assert.Equal(t, []string{"name=ok"}, network.delivered)

	pending, err := q.Pending(ctx, DefaultSyncTag)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, failing.ID, pending[0].ID)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Contains(t, pending[0].LastError, "status 500")
}

func TestSyncIgnoresUnknownTags(t *testing.T) {
	ctx := context.Background()
	network := &formNetwork{}
	q := newTestQueue(t)
	config := testConfig(network)
	config.Queue = q
	e := startEngine(t, config)

	_, err := e.Defer(ctx, postForm("/api/contact", "name=a"))
	require.NoError(t, err)

	result, err := e.Sync(ctx, "sync-newsletter")
	require.NoError(t, err)
	assert.Equal(t, SyncResult{}, result)
	pending, _ := q.Pending(ctx, DefaultSyncTag)
	assert.Len(t, pending, 1)
}

func TestSyncWithoutQueue(t *testing.T) {
	e := startEngine(t, testConfig(&formNetwork{}))

	_, err := e.Sync(context.Background(), DefaultSyncTag)
	assert.ErrorIs(t, err, ErrNoQueue)
	_, err = e.Defer(context.Background(), postForm("/api/contact", ""))
	assert.ErrorIs(t, err, ErrNoQueue)
}

func TestOfflineSubmissionIsQueuedAndReplayedWhenOnline(t *testing.T) {
	ctx := context.Background()
	network := &formNetwork{}
	q := newTestQueue(t)
	config := testConfig(network)
	config.Queue = q
	config.SyncPaths = []string{"/api/contact"}
	e := startEngine(t, config)

	network.setOffline(true)
	rr := httptest.NewRecorder()
	e.ServeHTTP(rr, postForm("/api/contact", "name=offline"))
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "Queued", rr.Body.String())
	assert.False(t, e.Online())

	// not a sync path
	rr = httptest.NewRecorder()
	e.ServeHTTP(rr, postForm("/api/newsletter", "email=a"))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	pending, err := q.Pending(ctx, DefaultSyncTag)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "/api/contact", pending[0].URL)

	// any successful request brings the engine back online and delivers the signal
	network.setOffline(false)
	rr = httptest.NewRecorder()
	e.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	wait(t, e)

	assert.True(t, e.Online())
	pending, err = q.Pending(ctx, DefaultSyncTag)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, []string{"name=offline"}, network.delivered)
}

func TestReplayAppliesCacheUpdates(t *testing.T) {
	ctx := context.Background()
	var mutex sync.Mutex
	messages := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/api/contact", func(w http.ResponseWriter, r *http.Request) {
		mutex.Lock()
		messages++
		mutex.Unlock()
		w.Header().Add("Cache-Update", "/messages.json")
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/messages.json", func(w http.ResponseWriter, r *http.Request) {
		mutex.Lock()
		defer mutex.Unlock()
		w.Write([]byte(strings.Repeat("m", messages)))
	})
	q := newTestQueue(t)
	config := testConfig(HandlerFetcher{Handler: mux})
	config.Queue = q
	e := startEngine(t, config)

	readBody(t, get(e, "/messages.json"))
	_, err := e.Defer(ctx, postForm("/api/contact", "name=a"))
	require.NoError(t, err)
	result, err := e.Sync(ctx, DefaultSyncTag)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Delivered)

	entry, ok, err := e.runtime.Get("GET:/messages.json")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(string(entry.Bytes), "\r\n\r\nm"))
}
