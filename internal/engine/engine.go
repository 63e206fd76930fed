// Package engine drives a single torrent download to completion and
// reports its lifecycle as an ordered event stream.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/anacrolix/torrent"

	"github.com/streamvault/streamvault/internal/metrics"
	"github.com/streamvault/streamvault/internal/models"
)

// How often a progress sample is emitted while transferring.
const progressInterval = 250 * time.Millisecond

// EventKind discriminates engine lifecycle events.
type EventKind int

const (
	// EventMetadata carries the torrent's file listing. Emitted exactly
	// once, before any progress.
	EventMetadata EventKind = iota
	// EventProgress carries a transfer sample. Emitted on a fixed
	// cadence while actively downloading.
	EventProgress
	// EventDone signals that all bytes are on disk. Emitted once;
	// network resources are released before it is sent.
	EventDone
	// EventFailure signals that the download cannot complete.
	EventFailure
)

// Event is one engine lifecycle event. Exactly one payload field is set
// depending on Kind.
type Event struct {
	Kind     EventKind
	Metadata *models.Metadata
	Progress *models.Progress
	Err      error
}

// Options configures a download.
type Options struct {
	DataDir  string   // content root; files land under DataDir/<torrent name>
	Trackers []string // announce list appended to the magnet
	MaxPeers int      // 0 = library default
	ProxyURL string   // optional HTTP proxy for tracker traffic
}

// Engine downloads one torrent identified by its info hash. Events are
// delivered in order on a single channel, closed when the engine winds
// down on any path.
type Engine struct {
	hash   string
	client *torrent.Client
	events chan Event

	cancel   context.CancelFunc
	teardown sync.Once

	mu      sync.Mutex
	torrent *torrent.Torrent
}

// New starts downloading the torrent named by hash. The returned
// engine's event channel must be drained until closed, or Release
// called.
func New(hash string, opts Options) (*Engine, error) {
	cfg := torrent.NewDefaultClientConfig()
	cfg.DataDir = opts.DataDir
	cfg.ListenPort = 0
	if opts.MaxPeers > 0 {
		cfg.EstablishedConnsPerTorrent = opts.MaxPeers
	}
	if opts.ProxyURL != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		cfg.HTTPProxy = http.ProxyURL(proxyURL)
	}

	client, err := torrent.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create torrent client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		hash:   hash,
		client: client,
		events: make(chan Event, 64),
		cancel: cancel,
	}
	go e.run(ctx, opts.Trackers)
	return e, nil
}

// Events returns the ordered event stream. Closed when the engine is
// done, failed, or released.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Release aborts the download and frees network resources. Idempotent
// and safe at any point, including before metadata and after natural
// completion.
func (e *Engine) Release() {
	e.cancel()
	e.close()
}

// close drops the torrent and shuts the client down exactly once. Both
// natural completion and Release funnel through here.
func (e *Engine) close() {
	e.teardown.Do(func() {
		e.mu.Lock()
		t := e.torrent
		e.mu.Unlock()
		if t != nil {
			t.Drop()
		}
		e.client.Close()
	})
}

func (e *Engine) run(ctx context.Context, trackers []string) {
	defer close(e.events)

	t, err := e.client.AddMagnet("magnet:?xt=urn:btih:" + e.hash)
	if err != nil {
		e.fail(ctx, fmt.Errorf("add magnet: %w", err))
		return
	}
	e.mu.Lock()
	e.torrent = t
	e.mu.Unlock()

	if len(trackers) > 0 {
		t.AddTrackers([][]string{trackers})
	}

	select {
	case <-t.GotInfo():
	case <-ctx.Done():
		metrics.RecordAcquisition("cancelled")
		return
	}

	files := make([]models.File, 0, len(t.Files()))
	for _, f := range t.Files() {
		rel := f.DisplayPath()
		files = append(files, models.File{Name: path.Base(rel), Path: rel})
	}
	e.send(ctx, Event{Kind: EventMetadata, Metadata: &models.Metadata{
		Name:  t.Name(),
		Files: files,
	}})

	t.DownloadAll()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	lastBytes := t.BytesCompleted()
	lastTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			metrics.RecordAcquisition("cancelled")
			return
		case <-ticker.C:
			completed := t.BytesCompleted()
			if total := t.Length(); total > 0 && completed >= total {
				e.send(ctx, Event{Kind: EventDone})
				e.close()
				metrics.RecordAcquisition("completed")
				return
			}

			now := time.Now()
			sample := progressSample(t, completed-lastBytes, now.Sub(lastTime))
			lastBytes, lastTime = completed, now
			e.send(ctx, Event{Kind: EventProgress, Progress: sample})
		}
	}
}

// fail releases resources and reports err as the terminal event.
func (e *Engine) fail(ctx context.Context, err error) {
	e.close()
	e.send(ctx, Event{Kind: EventFailure, Err: err})
	metrics.RecordAcquisition("failed")
}

// send delivers ev unless the engine has been released.
func (e *Engine) send(ctx context.Context, ev Event) {
	select {
	case e.events <- ev:
	case <-ctx.Done():
	}
}

// progressSample builds one transfer sample from the bytes moved since
// the previous tick.
func progressSample(t *torrent.Torrent, deltaBytes int64, elapsed time.Duration) *models.Progress {
	return &models.Progress{
		Progress: percentComplete(t.BytesCompleted(), t.Length()),
		Speed:    formatSpeed(deltaBytes, elapsed),
		Peers:    t.Stats().ActivePeers,
	}
}
