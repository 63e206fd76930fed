package api

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/streamvault/streamvault/internal/logging"
	"github.com/streamvault/streamvault/internal/metrics"
	"github.com/streamvault/streamvault/internal/session"
)

var rangePattern = regexp.MustCompile(`^bytes=(\d+)-(\d*)$`)

var mimeTypes = map[string]string{
	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".vtt":  "text/vtt",
	".txt":  "text/plain",
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	// Work from the escaped path so encoding is undone exactly once,
	// here, before the containment check.
	raw := strings.TrimPrefix(r.URL.EscapedPath(), session.FilesPrefix)
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "malformed file path")
		return
	}

	resolved := filepath.Join(s.filesRoot, filepath.FromSlash(decoded))
	if resolved != s.filesRoot && !strings.HasPrefix(resolved, s.filesRoot+string(filepath.Separator)) {
		s.sendError(w, http.StatusForbidden, "forbidden")
		return
	}

	info, err := os.Stat(resolved)
	if err != nil || !info.Mode().IsRegular() {
		s.sendError(w, http.StatusNotFound, "file not found")
		return
	}

	if strings.EqualFold(filepath.Ext(resolved), ".srt") {
		s.serveSubtitle(w, resolved)
		return
	}

	contentType := mimeTypes[strings.ToLower(filepath.Ext(resolved))]
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	size := info.Size()
	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		s.serveFull(w, resolved, contentType, size)
		return
	}

	match := rangePattern.FindStringSubmatch(rangeHeader)
	if match == nil {
		s.sendError(w, http.StatusRequestedRangeNotSatisfiable, "malformed range")
		return
	}

	start, _ := strconv.ParseInt(match[1], 10, 64)
	end := size - 1
	if match[2] != "" {
		end, _ = strconv.ParseInt(match[2], 10, 64)
	}

	if start >= size || end >= size || start > end {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		s.sendError(w, http.StatusRequestedRangeNotSatisfiable, "range not satisfiable")
		return
	}

	s.servePartial(w, resolved, contentType, size, start, end)
}

func (s *Server) serveFull(w http.ResponseWriter, path, contentType string, size int64) {
	f, err := os.Open(path)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "open file")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Accept-Ranges", "bytes")
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, f)
	if err != nil {
		logging.Warn("file transfer interrupted", zap.String("path", path), zap.Error(err))
	}
	metrics.RecordFileBytes(n)
}

func (s *Server) servePartial(w http.ResponseWriter, path, contentType string, size, start, end int64) {
	f, err := os.Open(path)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "open file")
		return
	}
	defer f.Close()

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		s.sendError(w, http.StatusInternalServerError, "seek file")
		return
	}

	length := end - start + 1
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.Header().Set("Accept-Ranges", "bytes")
	w.WriteHeader(http.StatusPartialContent)

	n, err := io.CopyN(w, f, length)
	if err != nil {
		logging.Warn("range transfer interrupted", zap.String("path", path), zap.Error(err))
	}
	metrics.RecordFileBytes(n)
}

func (s *Server) serveSubtitle(w http.ResponseWriter, path string) {
	srt, err := os.ReadFile(path)
	if err != nil {
		s.sendError(w, http.StatusNotFound, "file not found")
		return
	}

	vtt := srtToVTT(string(srt))
	w.Header().Set("Content-Type", "text/vtt; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(vtt)))
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, vtt)
}
