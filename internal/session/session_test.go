package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/streamvault/streamvault/internal/cache"
	"github.com/streamvault/streamvault/internal/engine"
	"github.com/streamvault/streamvault/internal/models"
)

const testHash = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type upsertCall struct {
	hash, name string
	files      []models.File
	expiresAt  time.Time
}

type fakeStore struct {
	entry     *cache.Entry
	findErr   error
	upsertErr error
	extendErr error

	upserts []upsertCall
	extends []time.Time
}

func (f *fakeStore) Find(ctx context.Context, hash string, now time.Time) (*cache.Entry, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	if f.entry != nil && f.entry.ExpiresAt.After(now) {
		return f.entry, nil
	}
	return nil, nil
}

func (f *fakeStore) Upsert(ctx context.Context, hash, name string, files []models.File, expiresAt time.Time) error {
	f.upserts = append(f.upserts, upsertCall{hash, name, files, expiresAt})
	return f.upsertErr
}

func (f *fakeStore) Extend(ctx context.Context, hash string, expiresAt time.Time) error {
	f.extends = append(f.extends, expiresAt)
	return f.extendErr
}

type fakeEngine struct {
	events   chan engine.Event
	released bool
}

func newFakeEngine(events ...engine.Event) *fakeEngine {
	ch := make(chan engine.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return &fakeEngine{events: ch}
}

func (f *fakeEngine) Events() <-chan engine.Event { return f.events }
func (f *fakeEngine) Release()                    { f.released = true }

type sentEvent struct {
	name    string
	payload any
}

type recordSink struct {
	events []sentEvent
}

func (r *recordSink) Send(event string, payload any) error {
	r.events = append(r.events, sentEvent{event, payload})
	return nil
}

func (r *recordSink) names() []string {
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.name
	}
	return out
}

func testMetadata() *models.Metadata {
	return &models.Metadata{
		Name: "Test Movie",
		Files: []models.File{
			{Name: "test.mp4", Path: "Test Movie/test.mp4"},
			{Name: "english.srt", Path: "Test Movie/english.srt"},
		},
	}
}

func newTestSessions(store Store, factory EngineFactory) *Sessions {
	s := New(store, factory, 24*time.Hour)
	s.now = func() time.Time { return testNow }
	return s
}

func TestCacheHitReplaysWithoutDownloading(t *testing.T) {
	meta := testMetadata()
	store := &fakeStore{entry: &cache.Entry{
		Hash:      testHash,
		Name:      meta.Name,
		Files:     meta.Files,
		ExpiresAt: testNow.Add(time.Hour),
	}}
	factoryCalled := false
	factory := func(hash string) (Engine, error) {
		factoryCalled = true
		return nil, errors.New("should not be called")
	}

	sink := &recordSink{}
	if err := newTestSessions(store, factory).Run(context.Background(), testHash, sink); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if factoryCalled {
		t.Error("cache hit must not start a download")
	}
	got := sink.names()
	if len(got) != 2 || got[0] != "metadata" || got[1] != "done" {
		t.Fatalf("expected [metadata done], got %v", got)
	}

	done := sink.events[1].payload.(DonePayload)
	if done.VideoURL == nil || *done.VideoURL != "/api/files/Test%20Movie/test.mp4" {
		t.Errorf("unexpected video url: %v", done.VideoURL)
	}
	if done.SubtitleURL == nil || *done.SubtitleURL != "/api/files/Test%20Movie/english.srt" {
		t.Errorf("unexpected subtitle url: %v", done.SubtitleURL)
	}
}

func TestCacheHitExtendsExpiry(t *testing.T) {
	before := testNow.Add(time.Hour)
	store := &fakeStore{entry: &cache.Entry{
		Hash:      testHash,
		Name:      "Test Movie",
		Files:     testMetadata().Files,
		ExpiresAt: before,
	}}

	s := newTestSessions(store, nil)
	if err := s.Run(context.Background(), testHash, &recordSink{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.extends) != 1 {
		t.Fatalf("expected one extend call, got %d", len(store.extends))
	}
	if store.extends[0].Before(before) {
		t.Errorf("expiry went backwards: %v -> %v", before, store.extends[0])
	}
	if want := testNow.Add(24 * time.Hour); !store.extends[0].Equal(want) {
		t.Errorf("expected expiry %v, got %v", want, store.extends[0])
	}
}

func TestCacheMissDownloadsAndCaches(t *testing.T) {
	meta := testMetadata()
	eng := newFakeEngine(
		engine.Event{Kind: engine.EventMetadata, Metadata: meta},
		engine.Event{Kind: engine.EventProgress, Progress: &models.Progress{Progress: 50, Speed: "1.00 MB/s", Peers: 5}},
		engine.Event{Kind: engine.EventProgress, Progress: &models.Progress{Progress: 99, Speed: "1.20 MB/s", Peers: 7}},
		engine.Event{Kind: engine.EventDone},
	)
	store := &fakeStore{}
	factory := func(hash string) (Engine, error) { return eng, nil }

	sink := &recordSink{}
	if err := newTestSessions(store, factory).Run(context.Background(), testHash, sink); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := sink.names()
	want := []string{"metadata", "progress", "progress", "done"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	if !eng.released {
		t.Error("engine not released after completion")
	}
	if len(store.upserts) != 1 {
		t.Fatalf("expected one upsert, got %d", len(store.upserts))
	}
	up := store.upserts[0]
	if up.hash != testHash || up.name != meta.Name || len(up.files) != 2 {
		t.Errorf("unexpected upsert: %+v", up)
	}
	if want := testNow.Add(24 * time.Hour); !up.expiresAt.Equal(want) {
		t.Errorf("expected expiry %v, got %v", want, up.expiresAt)
	}
}

func TestDownloadFailureEmitsErrorWithoutDone(t *testing.T) {
	failure := errors.New("tracker unreachable")
	eng := newFakeEngine(
		engine.Event{Kind: engine.EventMetadata, Metadata: testMetadata()},
		engine.Event{Kind: engine.EventFailure, Err: failure},
	)
	store := &fakeStore{}
	factory := func(hash string) (Engine, error) { return eng, nil }

	sink := &recordSink{}
	err := newTestSessions(store, factory).Run(context.Background(), testHash, sink)
	if !errors.Is(err, failure) {
		t.Fatalf("expected %v, got %v", failure, err)
	}

	got := sink.names()
	if len(got) != 2 || got[0] != "metadata" || got[1] != "error" {
		t.Fatalf("expected [metadata error], got %v", got)
	}
	if len(store.upserts) != 0 {
		t.Error("failed download must not be cached")
	}
	if !eng.released {
		t.Error("engine not released after failure")
	}
}

func TestEventStreamEndingWithoutDoneIsFailure(t *testing.T) {
	eng := newFakeEngine(
		engine.Event{Kind: engine.EventMetadata, Metadata: testMetadata()},
	)
	factory := func(hash string) (Engine, error) { return eng, nil }

	err := newTestSessions(&fakeStore{}, factory).Run(context.Background(), testHash, &recordSink{})
	if !errors.Is(err, ErrAcquisitionFailed) {
		t.Fatalf("expected ErrAcquisitionFailed, got %v", err)
	}
}

func TestClientDisconnectReleasesEngine(t *testing.T) {
	eng := &fakeEngine{events: make(chan engine.Event)} // never emits
	store := &fakeStore{}
	factory := func(hash string) (Engine, error) { return eng, nil }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newTestSessions(store, factory).Run(ctx, testHash, &recordSink{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !eng.released {
		t.Error("engine not released on disconnect")
	}
	if len(store.upserts) != 0 {
		t.Error("aborted download must not be cached")
	}
}

func TestCacheWriteFailureStillServesViewer(t *testing.T) {
	eng := newFakeEngine(
		engine.Event{Kind: engine.EventMetadata, Metadata: testMetadata()},
		engine.Event{Kind: engine.EventDone},
	)
	store := &fakeStore{upsertErr: errors.New("connection reset")}
	factory := func(hash string) (Engine, error) { return eng, nil }

	sink := &recordSink{}
	if err := newTestSessions(store, factory).Run(context.Background(), testHash, sink); err != nil {
		t.Fatalf("cache write failure must be non-fatal, got %v", err)
	}

	got := sink.names()
	if len(got) != 2 || got[1] != "done" {
		t.Fatalf("expected done despite cache failure, got %v", got)
	}
}

func TestBrokenCacheLookupDegradesToMiss(t *testing.T) {
	eng := newFakeEngine(
		engine.Event{Kind: engine.EventMetadata, Metadata: testMetadata()},
		engine.Event{Kind: engine.EventDone},
	)
	store := &fakeStore{findErr: errors.New("connection refused")}
	factory := func(hash string) (Engine, error) { return eng, nil }

	sink := &recordSink{}
	if err := newTestSessions(store, factory).Run(context.Background(), testHash, sink); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sink.names(); len(got) != 2 || got[0] != "metadata" || got[1] != "done" {
		t.Fatalf("expected [metadata done], got %v", got)
	}
}
