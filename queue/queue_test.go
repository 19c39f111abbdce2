package queue

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *SQLiteQueue {
	t.Helper()
	q, err := OpenSQLiteQueue(context.Background(), "file:"+uuid.New().String()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestEnqueueAndPending(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	base := time.Now().Add(-time.Minute)
	first := &Submission{Tag: "sync-contact-form", Method: http.MethodPost, URL: "http://example.com/contact",
		Header: http.Header{"Content-Type": {"application/x-www-form-urlencoded"}}, Body: []byte("name=a"), CreatedAt: base}
	second := &Submission{Tag: "sync-contact-form", Method: http.MethodPost, URL: "http://example.com/contact",
		Body: []byte("name=b"), CreatedAt: base.Add(time.Second)}
	other := &Submission{Tag: "other", Method: http.MethodPost, URL: "http://example.com/x", CreatedAt: base}

	require.NoError(t, q.Enqueue(ctx, second))
	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, other))
	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)

	pending, err := q.Pending(ctx, "sync-contact-form")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, "name=a", string(pending[0].Body))
	assert.Equal(t, "application/x-www-form-urlencoded", pending[0].Header.Get("Content-Type"))
	assert.Equal(t, second.ID, pending[1].ID)

	none, err := q.Pending(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	s := &Submission{Tag: "t", Method: http.MethodPost, URL: "http://example.com/"}
	require.NoError(t, q.Enqueue(ctx, s))
	require.NoError(t, q.Remove(ctx, s.ID))

	pending, err := q.Pending(ctx, "t")
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.ErrorIs(t, q.Remove(ctx, s.ID), ErrNotFound)
}

func TestMarkFailedKeepsSubmission(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	s := &Submission{Tag: "t", Method: http.MethodPost, URL: "http://example.com/"}
	require.NoError(t, q.Enqueue(ctx, s))
	require.NoError(t, q.MarkFailed(ctx, s.ID, errors.New("status 500")))
	require.NoError(t, q.MarkFailed(ctx, s.ID, errors.New("connection refused")))

	pending, err := q.Pending(ctx, "t")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Attempts)
	assert.Equal(t, "connection refused", pending[0].LastError)

	assert.ErrorIs(t, q.MarkFailed(ctx, "missing", nil), ErrNotFound)
}

func TestFromRequestKeepsBodyReadable(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://example.com/contact?x=1", strings.NewReader("name=a"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	s, err := FromRequest("sync-contact-form", r)
	require.NoError(t, err)
	assert.Equal(t, "name=a", string(s.Body))
	assert.Equal(t, "http://example.com/contact?x=1", s.URL)
	assert.NotEmpty(t, s.ID)

	rest, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	assert.Equal(t, "name=a", string(rest))

	replay, err := s.Request(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, replay.Method)
	assert.Equal(t, "application/x-www-form-urlencoded", replay.Header.Get("Content-Type"))
	body, _ := io.ReadAll(replay.Body)
	assert.Equal(t, "name=a", string(body))
}
