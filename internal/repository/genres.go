package repository

import (
	"context"
	"fmt"

	"github.com/netscane/rhythm/internal/catalog"
	"github.com/netscane/rhythm/pkg/membuf"
)

// BufferedGenres implements catalog.GenreRepository over a write buffer
// keyed by genre name. No secondary indexes: the name is the only way
// genres are looked up.
type BufferedGenres struct {
	buf *membuf.Buffer[string, catalog.Genre]
}

func NewBufferedGenres(o Options, store membuf.Store[string, catalog.Genre]) (*BufferedGenres, error) {
	cfg := bufferConfig[string, catalog.Genre](o, "genres", nil,
		func(name string, _ catalog.Genre) int64 { return stringBytes(name) },
	)
	buf, err := membuf.New(cfg, store)
	if err != nil {
		return nil, fmt.Errorf("genres buffer: %w", err)
	}
	return &BufferedGenres{buf: buf}, nil
}

func (r *BufferedGenres) Save(ctx context.Context, g catalog.Genre) error {
	_, err := r.buf.Insert(ctx, g.Name, g)
	return err
}

func (r *BufferedGenres) ByName(ctx context.Context, name string) (catalog.Genre, error) {
	g, ok, err := r.buf.Get(ctx, name)
	if err != nil {
		return catalog.Genre{}, err
	}
	if !ok {
		return catalog.Genre{}, fmt.Errorf("genre %q: %w", name, catalog.ErrNotFound)
	}
	return g, nil
}

func (r *BufferedGenres) Delete(ctx context.Context, name string) error {
	_, err := r.buf.Delete(ctx, name)
	return err
}

func (r *BufferedGenres) Flush(ctx context.Context) error { return r.buf.ForceFlush(ctx) }
func (r *BufferedGenres) Close(ctx context.Context) error { return r.buf.Close(ctx) }
func (r *BufferedGenres) Stats() membuf.Stats             { return r.buf.Stats() }
