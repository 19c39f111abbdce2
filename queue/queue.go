// Package queue persists form submissions that could not be delivered,
// so they can be replayed once the network is back.
package queue

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("queue: submission not found")

// Submission is a captured outgoing request.
type Submission struct {
	ID        string
	Tag       string
	Method    string
	URL       string
	Header    http.Header
	Body      []byte
	CreatedAt time.Time
	Attempts  int
	LastError string
}

// Queue is a persistent set of pending submissions, separate from the response caches.
//
// Implementations must be thread-safe!
type Queue interface {
	// Enqueue stores the submission. An empty ID is replaced by a new one.
	Enqueue(ctx context.Context, s *Submission) error
	// Pending returns the submissions waiting for the given tag, oldest first.
	Pending(ctx context.Context, tag string) ([]Submission, error)
	// Remove deletes a delivered submission.
	Remove(ctx context.Context, id string) error
	// MarkFailed records a failed delivery attempt and keeps the submission.
	MarkFailed(ctx context.Context, id string, cause error) error
	Close() error
}

// FromRequest captures the request under the given tag.
// When it returns, the request body can still be read from the beginning.
func FromRequest(tag string, r *http.Request) (*Submission, error) {
	var body []byte
	if r.Body != nil && r.Body != http.NoBody {
		var err error
		body, err = io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			return nil, err
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}
	return &Submission{
		ID:        uuid.New().String(),
		Tag:       tag,
		Method:    r.Method,
		URL:       r.URL.String(),
		Header:    r.Header.Clone(),
		Body:      body,
		CreatedAt: time.Now(),
	}, nil
}

// Request rebuilds the captured request for replay.
func (s Submission) Request(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, s.Method, s.URL, bytes.NewReader(s.Body))
	if err != nil {
		return nil, err
	}
	if s.Header != nil {
		req.Header = s.Header.Clone()
	}
	req.ContentLength = int64(len(s.Body))
	return req, nil
}
