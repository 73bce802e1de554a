package repository

import (
	"context"
	"errors"

	"github.com/netscane/rhythm/internal/catalog"
)

// Set bundles the assembled repository layer: the interfaces the API and
// scanner consume on top, and the buffered repositories underneath for
// lifecycle control.
type Set struct {
	Artists catalog.ArtistRepository
	Albums  catalog.AlbumRepository
	Tracks  catalog.TrackRepository
	Genres  catalog.GenreRepository
	Covers  catalog.CoverArtRepository

	buffered []closable
}

type closable interface {
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

// NewSet wires the buffered repositories behind their read-through
// caches where one exists.
func NewSet(
	artists *BufferedArtists,
	albums *BufferedAlbums,
	tracks *BufferedTracks,
	genres *BufferedGenres,
	covers *BufferedCoverArt,
	cacheCapacity int,
) (*Set, error) {
	cachedArtists, err := NewCachedArtists(artists, cacheCapacity)
	if err != nil {
		return nil, err
	}
	cachedTracks, err := NewCachedTracks(tracks, cacheCapacity)
	if err != nil {
		return nil, err
	}
	return &Set{
		Artists:  cachedArtists,
		Albums:   albums,
		Tracks:   cachedTracks,
		Genres:   genres,
		Covers:   covers,
		buffered: []closable{artists, albums, tracks, genres, covers},
	}, nil
}

// Flush force-flushes every buffer; used by the scanner after a full
// library pass.
func (s *Set) Flush(ctx context.Context) error {
	var errs []error
	for _, b := range s.buffered {
		errs = append(errs, b.Flush(ctx))
	}
	return errors.Join(errs...)
}

// Close flushes and tears down every buffer; used at shutdown.
func (s *Set) Close(ctx context.Context) error {
	var errs []error
	for _, b := range s.buffered {
		errs = append(errs, b.Close(ctx))
	}
	return errors.Join(errs...)
}
