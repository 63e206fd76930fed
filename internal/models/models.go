// Package models holds the shared data types of the streaming pipeline.
package models

// File is one file inside an acquired torrent. Path is slash-separated
// and relative to the content root, starting with the torrent's own
// directory name.
type File struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Metadata describes a torrent's structure, known before any bytes are
// downloaded. Immutable once produced.
type Metadata struct {
	Name  string `json:"name"`
	Files []File `json:"files"`
}

// Progress is a point-in-time transfer sample. Never persisted.
type Progress struct {
	Progress int    `json:"progress"` // 0-100
	Speed    string `json:"speed"`    // human-readable, e.g. "1.25 MB/s"
	Peers    int    `json:"peers"`
}
