package session

import (
	"net/url"
	"strings"

	"github.com/streamvault/streamvault/internal/models"
)

// FilesPrefix is the URL prefix under which acquired files are served.
const FilesPrefix = "/api/files/"

var (
	browserVideoExts = []string{".mp4", ".webm"}
	otherVideoExts   = []string{".mkv", ".avi", ".mov"}
	subtitleExts     = []string{".srt", ".vtt"}
)

func hasAnyExt(name string, exts []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range exts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// SelectVideo picks the file to play: a browser-playable container when
// available, any other video container otherwise, nil when the torrent
// has no video at all.
func SelectVideo(files []models.File) *models.File {
	for i := range files {
		if hasAnyExt(files[i].Name, browserVideoExts) {
			return &files[i]
		}
	}
	for i := range files {
		if hasAnyExt(files[i].Name, otherVideoExts) {
			return &files[i]
		}
	}
	return nil
}

// SelectSubtitle picks a subtitle track, preferring an English one by
// name, then falling back to the first subtitle file.
func SelectSubtitle(files []models.File) *models.File {
	var first *models.File
	for i := range files {
		if !hasAnyExt(files[i].Name, subtitleExts) {
			continue
		}
		if strings.Contains(strings.ToLower(files[i].Name), "eng") {
			return &files[i]
		}
		if first == nil {
			first = &files[i]
		}
	}
	return first
}

// FileURL builds the serving URL for a file, percent-encoding each path
// segment independently so slashes keep separating segments.
func FileURL(f models.File) string {
	segments := strings.Split(f.Path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return FilesPrefix + strings.Join(segments, "/")
}
