// Package catalog holds the media-library aggregates and the repository
// contracts the rest of the server programs against.
package catalog

import "errors"

var ErrNotFound = errors.New("catalog: not found")

type Artist struct {
	ID         int64
	Name       string
	SortName   string
	AlbumCount int
}

type Album struct {
	ID        int64
	ArtistID  int64
	Name      string
	SortName  string
	Year      int
	SongCount int
}

// Track is one audio file in the library. Path is unique and doubles as
// the browse key: folder listings are prefix scans over it.
type Track struct {
	ID         int64
	AlbumID    int64
	ArtistID   int64
	Path       string
	Title      string
	Suffix     string
	Bitrate    int
	DurationMS int
	SizeBytes  int64
}

// Genre is keyed by its name; counts are denormalized by the scanner.
type Genre struct {
	Name       string
	SongCount  int
	AlbumCount int
}

// CoverArt is stored as a raw image payload, keyed by a stable string id
// derived from the tagged file or folder it came from.
type CoverArt struct {
	ID       string
	Path     string
	MIMEType string
	Image    []byte
}
