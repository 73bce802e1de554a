package repository

import (
	"context"
	"fmt"

	"github.com/netscane/rhythm/internal/catalog"
	"github.com/netscane/rhythm/pkg/membuf"
)

// BufferedCoverArt implements catalog.CoverArtRepository over a write
// buffer keyed by cover id. Image payloads dominate the entry size, so
// the sizing function counts them to keep rotation honest.
type BufferedCoverArt struct {
	buf *membuf.Buffer[string, catalog.CoverArt]
}

func NewBufferedCoverArt(o Options, store membuf.Store[string, catalog.CoverArt]) (*BufferedCoverArt, error) {
	cfg := bufferConfig[string, catalog.CoverArt](o, "coverart", nil,
		func(id string, c catalog.CoverArt) int64 {
			return stringBytes(id, c.Path, c.MIMEType) + int64(len(c.Image))
		},
	)
	buf, err := membuf.New(cfg, store)
	if err != nil {
		return nil, fmt.Errorf("coverart buffer: %w", err)
	}
	return &BufferedCoverArt{buf: buf}, nil
}

func (r *BufferedCoverArt) Save(ctx context.Context, c catalog.CoverArt) error {
	_, err := r.buf.Insert(ctx, c.ID, c)
	return err
}

func (r *BufferedCoverArt) ByID(ctx context.Context, id string) (catalog.CoverArt, error) {
	c, ok, err := r.buf.Get(ctx, id)
	if err != nil {
		return catalog.CoverArt{}, err
	}
	if !ok {
		return catalog.CoverArt{}, fmt.Errorf("cover art %q: %w", id, catalog.ErrNotFound)
	}
	return c, nil
}

func (r *BufferedCoverArt) Delete(ctx context.Context, id string) error {
	_, err := r.buf.Delete(ctx, id)
	return err
}

func (r *BufferedCoverArt) Flush(ctx context.Context) error { return r.buf.ForceFlush(ctx) }
func (r *BufferedCoverArt) Close(ctx context.Context) error { return r.buf.Close(ctx) }
func (r *BufferedCoverArt) Stats() membuf.Stats             { return r.buf.Stats() }
