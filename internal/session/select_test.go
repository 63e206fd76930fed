package session

import (
	"testing"

	"github.com/streamvault/streamvault/internal/models"
)

func named(names ...string) []models.File {
	files := make([]models.File, len(names))
	for i, n := range names {
		files[i] = models.File{Name: n, Path: "Movie/" + n}
	}
	return files
}

func TestSelectVideoPrefersBrowserPlayable(t *testing.T) {
	video := SelectVideo(named("movie.mkv", "movie.mp4"))
	if video == nil || video.Name != "movie.mp4" {
		t.Fatalf("expected movie.mp4, got %+v", video)
	}
}

func TestSelectVideoFallsBackToOtherContainers(t *testing.T) {
	video := SelectVideo(named("movie.mkv"))
	if video == nil || video.Name != "movie.mkv" {
		t.Fatalf("expected movie.mkv, got %+v", video)
	}
}

func TestSelectVideoNoneFound(t *testing.T) {
	if video := SelectVideo(named("readme.txt", "subs.srt")); video != nil {
		t.Fatalf("expected no video, got %+v", video)
	}
}

func TestSelectSubtitlePrefersEnglish(t *testing.T) {
	sub := SelectSubtitle(named("subs.srt", "english.srt"))
	if sub == nil || sub.Name != "english.srt" {
		t.Fatalf("expected english.srt, got %+v", sub)
	}
}

func TestSelectSubtitleFallsBackToFirst(t *testing.T) {
	sub := SelectSubtitle(named("francais.srt", "deutsch.srt"))
	if sub == nil || sub.Name != "francais.srt" {
		t.Fatalf("expected francais.srt, got %+v", sub)
	}
}

func TestSelectSubtitleNoneFound(t *testing.T) {
	if sub := SelectSubtitle(named("movie.mp4")); sub != nil {
		t.Fatalf("expected no subtitle, got %+v", sub)
	}
}

func TestSelectSubtitleCaseInsensitive(t *testing.T) {
	sub := SelectSubtitle(named("subs.srt", "ENGLISH.SRT"))
	if sub == nil || sub.Name != "ENGLISH.SRT" {
		t.Fatalf("expected ENGLISH.SRT, got %+v", sub)
	}
}

func TestFileURLEncodesSegmentsIndependently(t *testing.T) {
	f := models.File{Name: "test.mp4", Path: "Test Movie/test.mp4"}
	got := FileURL(f)
	want := "/api/files/Test%20Movie/test.mp4"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
