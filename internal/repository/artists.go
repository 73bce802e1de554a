package repository

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/netscane/rhythm/internal/catalog"
	"github.com/netscane/rhythm/pkg/membuf"
)

const hydrateFanout = 8

// BufferedArtists implements catalog.ArtistRepository over a write
// buffer. Index lookups return keys; the values are hydrated through the
// buffer's own merge-read path so they stay consistent with unflushed
// writes.
type BufferedArtists struct {
	buf *membuf.Buffer[int64, catalog.Artist]
}

func NewBufferedArtists(o Options, store membuf.Store[int64, catalog.Artist]) (*BufferedArtists, error) {
	cfg := bufferConfig[int64, catalog.Artist](o, "artists",
		[]membuf.Index[catalog.Artist]{
			{Name: catalog.IndexSortName, Mode: membuf.MatchExact, Extract: func(a catalog.Artist) string { return a.SortName }},
		},
		func(_ int64, a catalog.Artist) int64 { return stringBytes(a.Name, a.SortName) },
	)
	buf, err := membuf.New(cfg, store)
	if err != nil {
		return nil, fmt.Errorf("artists buffer: %w", err)
	}
	return &BufferedArtists{buf: buf}, nil
}

func (r *BufferedArtists) Save(ctx context.Context, a catalog.Artist) error {
	_, err := r.buf.Insert(ctx, a.ID, a)
	return err
}

func (r *BufferedArtists) ByID(ctx context.Context, id int64) (catalog.Artist, error) {
	a, ok, err := r.buf.Get(ctx, id)
	if err != nil {
		return catalog.Artist{}, err
	}
	if !ok {
		return catalog.Artist{}, fmt.Errorf("artist %d: %w", id, catalog.ErrNotFound)
	}
	return a, nil
}

func (r *BufferedArtists) BySortName(ctx context.Context, sortName string) ([]catalog.Artist, error) {
	keys, err := r.buf.LookupIndex(ctx, catalog.IndexSortName, sortName)
	if err != nil {
		return nil, err
	}
	out := make([]catalog.Artist, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hydrateFanout)
	for i, id := range keys {
		g.Go(func() error {
			a, ok, err := r.buf.Get(gctx, id)
			if err != nil {
				return err
			}
			if !ok {
				// Deleted between lookup and hydration; leave a zero
				// record and compact below.
				return nil
			}
			out[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return compact(out, func(a catalog.Artist) bool { return a.ID != 0 }), nil
}

func (r *BufferedArtists) Delete(ctx context.Context, id int64) error {
	_, err := r.buf.Delete(ctx, id)
	return err
}

func (r *BufferedArtists) Flush(ctx context.Context) error { return r.buf.ForceFlush(ctx) }
func (r *BufferedArtists) Close(ctx context.Context) error { return r.buf.Close(ctx) }
func (r *BufferedArtists) Stats() membuf.Stats             { return r.buf.Stats() }

func compact[T any](in []T, keep func(T) bool) []T {
	out := in[:0]
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
