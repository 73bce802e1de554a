package repository

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/netscane/rhythm/internal/catalog"
	"github.com/netscane/rhythm/pkg/membuf"
)

// BufferedTracks implements catalog.TrackRepository over a write buffer.
// Tracks carry the heaviest write load of a library scan, and the path
// prefix index backs directory browsing.
type BufferedTracks struct {
	buf *membuf.Buffer[int64, catalog.Track]
	sem *semaphore.Weighted
}

func NewBufferedTracks(o Options, store membuf.Store[int64, catalog.Track]) (*BufferedTracks, error) {
	cfg := bufferConfig[int64, catalog.Track](o, "tracks",
		[]membuf.Index[catalog.Track]{
			{Name: catalog.IndexAlbumID, Mode: membuf.MatchExact, Extract: func(t catalog.Track) string { return itoa(t.AlbumID) }},
			{Name: catalog.IndexPath, Mode: membuf.MatchPrefix, Extract: func(t catalog.Track) string { return t.Path }},
		},
		func(_ int64, t catalog.Track) int64 { return stringBytes(t.Path, t.Title, t.Suffix) },
	)
	buf, err := membuf.New(cfg, store)
	if err != nil {
		return nil, fmt.Errorf("tracks buffer: %w", err)
	}
	return &BufferedTracks{buf: buf, sem: semaphore.NewWeighted(hydrateFanout)}, nil
}

func (r *BufferedTracks) Save(ctx context.Context, t catalog.Track) error {
	_, err := r.buf.Insert(ctx, t.ID, t)
	return err
}

func (r *BufferedTracks) ByID(ctx context.Context, id int64) (catalog.Track, error) {
	t, ok, err := r.buf.Get(ctx, id)
	if err != nil {
		return catalog.Track{}, err
	}
	if !ok {
		return catalog.Track{}, fmt.Errorf("track %d: %w", id, catalog.ErrNotFound)
	}
	return t, nil
}

// ByPath is an exact hit on the path prefix index: the scan is bounded
// to entries starting with the full path, then filtered to the match.
func (r *BufferedTracks) ByPath(ctx context.Context, path string) (catalog.Track, error) {
	keys, err := r.buf.FindByPrefix(ctx, catalog.IndexPath, path)
	if err != nil {
		return catalog.Track{}, err
	}
	for _, id := range keys {
		t, ok, err := r.buf.Get(ctx, id)
		if err != nil {
			return catalog.Track{}, err
		}
		if ok && t.Path == path {
			return t, nil
		}
	}
	return catalog.Track{}, fmt.Errorf("track at %q: %w", path, catalog.ErrNotFound)
}

func (r *BufferedTracks) ByAlbum(ctx context.Context, albumID int64) ([]catalog.Track, error) {
	keys, err := r.buf.LookupIndex(ctx, catalog.IndexAlbumID, itoa(albumID))
	if err != nil {
		return nil, err
	}
	return r.hydrate(ctx, keys)
}

func (r *BufferedTracks) ByFolder(ctx context.Context, prefix string) ([]catalog.Track, error) {
	keys, err := r.buf.FindByPrefix(ctx, catalog.IndexPath, prefix)
	if err != nil {
		return nil, err
	}
	return r.hydrate(ctx, keys)
}

// hydrate resolves keys to records with a bounded fan-out; folder scans
// can return thousands of keys.
func (r *BufferedTracks) hydrate(ctx context.Context, keys []int64) ([]catalog.Track, error) {
	out := make([]catalog.Track, len(keys))
	errs := make(chan error, len(keys))
	for i, id := range keys {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		go func() {
			defer r.sem.Release(1)
			t, ok, err := r.buf.Get(ctx, id)
			if err != nil {
				errs <- err
				return
			}
			if ok {
				out[i] = t
			}
			errs <- nil
		}()
	}
	for range keys {
		if err := <-errs; err != nil {
			return nil, err
		}
	}
	return compact(out, func(t catalog.Track) bool { return t.ID != 0 }), nil
}

func (r *BufferedTracks) Delete(ctx context.Context, id int64) error {
	_, err := r.buf.Delete(ctx, id)
	return err
}

func (r *BufferedTracks) Flush(ctx context.Context) error { return r.buf.ForceFlush(ctx) }
func (r *BufferedTracks) Close(ctx context.Context) error { return r.buf.Close(ctx) }
func (r *BufferedTracks) Stats() membuf.Stats             { return r.buf.Stats() }
