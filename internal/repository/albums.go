package repository

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/netscane/rhythm/internal/catalog"
	"github.com/netscane/rhythm/pkg/membuf"
)

// BufferedAlbums implements catalog.AlbumRepository over a write buffer.
// Albums are indexed by owning artist for the browse-by-artist listing.
type BufferedAlbums struct {
	buf *membuf.Buffer[int64, catalog.Album]
}

func NewBufferedAlbums(o Options, store membuf.Store[int64, catalog.Album]) (*BufferedAlbums, error) {
	cfg := bufferConfig[int64, catalog.Album](o, "albums",
		[]membuf.Index[catalog.Album]{
			{Name: catalog.IndexArtistID, Mode: membuf.MatchExact, Extract: func(a catalog.Album) string { return itoa(a.ArtistID) }},
			{Name: catalog.IndexSortName, Mode: membuf.MatchExact, Extract: func(a catalog.Album) string { return a.SortName }},
		},
		func(_ int64, a catalog.Album) int64 { return stringBytes(a.Name, a.SortName) },
	)
	buf, err := membuf.New(cfg, store)
	if err != nil {
		return nil, fmt.Errorf("albums buffer: %w", err)
	}
	return &BufferedAlbums{buf: buf}, nil
}

func (r *BufferedAlbums) Save(ctx context.Context, a catalog.Album) error {
	_, err := r.buf.Insert(ctx, a.ID, a)
	return err
}

func (r *BufferedAlbums) ByID(ctx context.Context, id int64) (catalog.Album, error) {
	a, ok, err := r.buf.Get(ctx, id)
	if err != nil {
		return catalog.Album{}, err
	}
	if !ok {
		return catalog.Album{}, fmt.Errorf("album %d: %w", id, catalog.ErrNotFound)
	}
	return a, nil
}

func (r *BufferedAlbums) ByArtist(ctx context.Context, artistID int64) ([]catalog.Album, error) {
	keys, err := r.buf.LookupIndex(ctx, catalog.IndexArtistID, itoa(artistID))
	if err != nil {
		return nil, err
	}
	out := make([]catalog.Album, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hydrateFanout)
	for i, id := range keys {
		g.Go(func() error {
			a, ok, err := r.buf.Get(gctx, id)
			if err != nil {
				return err
			}
			if ok {
				out[i] = a
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return compact(out, func(a catalog.Album) bool { return a.ID != 0 }), nil
}

func (r *BufferedAlbums) Delete(ctx context.Context, id int64) error {
	_, err := r.buf.Delete(ctx, id)
	return err
}

func (r *BufferedAlbums) Flush(ctx context.Context) error { return r.buf.ForceFlush(ctx) }
func (r *BufferedAlbums) Close(ctx context.Context) error { return r.buf.Close(ctx) }
func (r *BufferedAlbums) Stats() membuf.Stats             { return r.buf.Stats() }
