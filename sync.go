package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/always-cache/offline-cache/queue"
)

var ErrNoQueue = errors.New("no submission queue configured")

// SyncResult counts the outcome of a sync.
type SyncResult struct {
	Delivered int
	Failed    int
}

// Defer queues a request for delivery on the next sync.
// The request body can still be read afterwards.
func (e *Engine) Defer(ctx context.Context, r *http.Request) (*queue.Submission, error) {
	if e.queue == nil {
		return nil, ErrNoQueue
	}
	submission, err := queue.FromRequest(e.config.SyncTag, r)
	if err != nil {
		return nil, err
	}
	if err := e.queue.Enqueue(ctx, submission); err != nil {
		return nil, err
	}
	e.log.Info().Str("submission", submission.ID).Str("url", submission.URL).Msg("Submission deferred")
	return submission, nil
}

// Sync replays the submissions queued under tag. Unknown tags are ignored.
// Delivered submissions are removed, failed ones stay for the next sync.
// Concurrent syncs of the same tag share one run.
func (e *Engine) Sync(ctx context.Context, tag string) (SyncResult, error) {
	if tag != e.config.SyncTag {
		e.log.Debug().Str("tag", tag).Msg("Ignoring unknown sync tag")
		return SyncResult{}, nil
	}
	if e.queue == nil {
		return SyncResult{}, ErrNoQueue
	}
	v, err, _ := e.syncGroup.Do(tag, func() (any, error) {
		return e.replayAll(ctx, tag)
	})
	result, _ := v.(SyncResult)
	return result, err
}

func (e *Engine) replayAll(ctx context.Context, tag string) (SyncResult, error) {
	result := SyncResult{}
	pending, err := e.queue.Pending(ctx, tag)
	if err != nil {
		return result, err
	}
	e.log.Debug().Str("tag", tag).Msgf("Replaying %d submissions", len(pending))
	for _, submission := range pending {
		log := e.log.With().Str("submission", submission.ID).Str("url", submission.URL).Logger()
		if err := e.replay(ctx, submission); err != nil {
			result.Failed++
			log.Warn().Err(err).Int("attempts", submission.Attempts+1).Msg("Could not deliver submission")
			if err := e.queue.MarkFailed(ctx, submission.ID, err); err != nil {
				log.Error().Err(err).Msg("Could not record failed delivery")
			}
			continue
		}
		result.Delivered++
		log.Info().Msg("Submission delivered")
	}
	return result, ctx.Err()
}

// replay sends one submission and removes it on a 2xx response.
func (e *Engine) replay(ctx context.Context, submission queue.Submission) error {
	req, err := submission.Request(ctx)
	if err != nil {
		return err
	}
	res, err := e.fetch(ctx, req)
	if err != nil {
		return err
	}
	defer discard(res)
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("replay answered with status %d", res.StatusCode)
	}
	if err := e.queue.Remove(ctx, submission.ID); err != nil && !errors.Is(err, queue.ErrNotFound) {
		return err
	}
	e.updateIfNeeded(req, res)
	return nil
}
