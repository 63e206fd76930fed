// Package session orchestrates one watch request: it answers from the
// cache when possible, otherwise drives a torrent download and relays
// its events to the client.
package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/streamvault/streamvault/internal/cache"
	"github.com/streamvault/streamvault/internal/engine"
	"github.com/streamvault/streamvault/internal/logging"
	"github.com/streamvault/streamvault/internal/metrics"
	"github.com/streamvault/streamvault/internal/models"
)

// ErrAcquisitionFailed reports a download that ended without all bytes
// arriving.
var ErrAcquisitionFailed = errors.New("acquisition failed")

// Engine is the running download a session relays events from.
type Engine interface {
	Events() <-chan engine.Event
	Release()
}

// EngineFactory starts a download for hash.
type EngineFactory func(hash string) (Engine, error)

// Store is the cache surface a session needs.
type Store interface {
	Find(ctx context.Context, hash string, now time.Time) (*cache.Entry, error)
	Upsert(ctx context.Context, hash, name string, files []models.File, expiresAt time.Time) error
	Extend(ctx context.Context, hash string, expiresAt time.Time) error
}

// Sink receives the named events pushed to the client, in order.
type Sink interface {
	Send(event string, payload any) error
}

// DonePayload closes a successful session. Nil URLs mean no playable
// file of that kind was found.
type DonePayload struct {
	VideoURL    *string `json:"videoUrl"`
	SubtitleURL *string `json:"subtitleUrl"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// Sessions runs watch sessions against a shared cache store.
type Sessions struct {
	store     Store
	newEngine EngineFactory
	ttl       time.Duration
	now       func() time.Time
}

// New creates a session runner. ttl is how long a completed acquisition
// stays cached, and how far each cache hit pushes the expiry out.
func New(store Store, factory EngineFactory, ttl time.Duration) *Sessions {
	return &Sessions{
		store:     store,
		newEngine: factory,
		ttl:       ttl,
		now:       time.Now,
	}
}

// Run executes one session for hash, pushing events to sink until the
// session finishes or ctx is cancelled by the client going away.
//
// Concurrent sessions for the same uncached hash each run their own
// download; the cache's upsert keeps the last writer's row.
func (s *Sessions) Run(ctx context.Context, hash string, sink Sink) error {
	entry, err := s.store.Find(ctx, hash, s.now())
	if err != nil {
		// A broken cache lookup degrades to a miss.
		logging.Warn("cache lookup failed", zap.String("hash", hash), zap.Error(err))
	}
	if entry != nil {
		metrics.RecordCacheLookup("hit")
		return s.replay(ctx, hash, entry, sink)
	}
	metrics.RecordCacheLookup("miss")
	return s.download(ctx, hash, sink)
}

// replay serves a cache hit: events are synthesized from the stored
// row, no transfer happens, and the entry's life is extended.
func (s *Sessions) replay(ctx context.Context, hash string, entry *cache.Entry, sink Sink) error {
	meta := models.Metadata{Name: entry.Name, Files: entry.Files}
	if err := sink.Send("metadata", meta); err != nil {
		return err
	}
	if err := sink.Send("done", donePayload(entry.Files)); err != nil {
		return err
	}

	if err := s.store.Extend(ctx, hash, s.now().Add(s.ttl)); err != nil {
		logging.Warn("failed to extend cache entry", zap.String("hash", hash), zap.Error(err))
	}
	return nil
}

// download serves a cache miss: a fresh engine runs to completion with
// its events relayed verbatim, and success is recorded in the cache.
func (s *Sessions) download(ctx context.Context, hash string, sink Sink) error {
	eng, err := s.newEngine(hash)
	if err != nil {
		sink.Send("error", errorPayload{Message: err.Error()})
		return err
	}
	defer eng.Release()

	var meta *models.Metadata
	for {
		select {
		case <-ctx.Done():
			// Client disconnect. Release (deferred) aborts the
			// transfer; partial downloads are never cached.
			return ctx.Err()
		case ev, ok := <-eng.Events():
			if !ok {
				return ErrAcquisitionFailed
			}
			switch ev.Kind {
			case engine.EventMetadata:
				meta = ev.Metadata
				if err := sink.Send("metadata", ev.Metadata); err != nil {
					return err
				}
			case engine.EventProgress:
				if err := sink.Send("progress", ev.Progress); err != nil {
					return err
				}
			case engine.EventDone:
				return s.finish(ctx, hash, meta, sink)
			case engine.EventFailure:
				sink.Send("error", errorPayload{Message: ev.Err.Error()})
				return ev.Err
			}
		}
	}
}

// finish emits the done event and persists the completed acquisition.
// A failed cache write only costs future requests the cache benefit,
// so the current viewer is still served.
func (s *Sessions) finish(ctx context.Context, hash string, meta *models.Metadata, sink Sink) error {
	var files []models.File
	if meta != nil {
		files = meta.Files
	}
	if err := sink.Send("done", donePayload(files)); err != nil {
		return err
	}

	if meta == nil {
		return nil
	}
	if err := s.store.Upsert(ctx, hash, meta.Name, meta.Files, s.now().Add(s.ttl)); err != nil {
		logging.Warn("failed to cache completed stream", zap.String("hash", hash), zap.Error(err))
	}
	return nil
}

func donePayload(files []models.File) DonePayload {
	var payload DonePayload
	if video := SelectVideo(files); video != nil {
		u := FileURL(*video)
		payload.VideoURL = &u
	}
	if sub := SelectSubtitle(files); sub != nil {
		u := FileURL(*sub)
		payload.SubtitleURL = &u
	}
	return payload
}
