package repository

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/netscane/rhythm/internal/catalog"
)

// CachedArtists is a read-through LRU in front of an ArtistRepository.
// Writes go straight through and refresh the cache; deletes evict.
type CachedArtists struct {
	inner catalog.ArtistRepository
	cache *lru.Cache[int64, catalog.Artist]
}

func NewCachedArtists(inner catalog.ArtistRepository, capacity int) (*CachedArtists, error) {
	cache, err := lru.New[int64, catalog.Artist](capacity)
	if err != nil {
		return nil, err
	}
	return &CachedArtists{inner: inner, cache: cache}, nil
}

func (c *CachedArtists) Save(ctx context.Context, a catalog.Artist) error {
	if err := c.inner.Save(ctx, a); err != nil {
		return err
	}
	c.cache.Add(a.ID, a)
	return nil
}

func (c *CachedArtists) ByID(ctx context.Context, id int64) (catalog.Artist, error) {
	if a, ok := c.cache.Get(id); ok {
		return a, nil
	}
	a, err := c.inner.ByID(ctx, id)
	if err != nil {
		return catalog.Artist{}, err
	}
	c.cache.Add(a.ID, a)
	return a, nil
}

func (c *CachedArtists) BySortName(ctx context.Context, sortName string) ([]catalog.Artist, error) {
	artists, err := c.inner.BySortName(ctx, sortName)
	if err != nil {
		return nil, err
	}
	for _, a := range artists {
		c.cache.Add(a.ID, a)
	}
	return artists, nil
}

func (c *CachedArtists) Delete(ctx context.Context, id int64) error {
	if err := c.inner.Delete(ctx, id); err != nil {
		return err
	}
	c.cache.Remove(id)
	return nil
}

// CachedTracks is a read-through LRU in front of a TrackRepository. A
// side index resolves paths to ids so folder hits can reuse the cache.
type CachedTracks struct {
	inner catalog.TrackRepository
	cache *lru.Cache[int64, catalog.Track]

	mu     sync.RWMutex
	byPath map[string]int64
}

func NewCachedTracks(inner catalog.TrackRepository, capacity int) (*CachedTracks, error) {
	c := &CachedTracks{inner: inner, byPath: make(map[string]int64)}
	cache, err := lru.NewWithEvict(capacity, func(_ int64, t catalog.Track) {
		c.mu.Lock()
		delete(c.byPath, t.Path)
		c.mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	c.cache = cache
	return c, nil
}

func (c *CachedTracks) ByPath(ctx context.Context, path string) (catalog.Track, error) {
	c.mu.RLock()
	id, ok := c.byPath[path]
	c.mu.RUnlock()
	if ok {
		if t, hit := c.cache.Get(id); hit {
			return t, nil
		}
	}
	t, err := c.inner.ByPath(ctx, path)
	if err != nil {
		return catalog.Track{}, err
	}
	c.put(t)
	return t, nil
}

func (c *CachedTracks) put(t catalog.Track) {
	c.cache.Add(t.ID, t)
	c.mu.Lock()
	c.byPath[t.Path] = t.ID
	c.mu.Unlock()
}

func (c *CachedTracks) Save(ctx context.Context, t catalog.Track) error {
	if err := c.inner.Save(ctx, t); err != nil {
		return err
	}
	c.put(t)
	return nil
}

func (c *CachedTracks) ByID(ctx context.Context, id int64) (catalog.Track, error) {
	if t, ok := c.cache.Get(id); ok {
		return t, nil
	}
	t, err := c.inner.ByID(ctx, id)
	if err != nil {
		return catalog.Track{}, err
	}
	c.put(t)
	return t, nil
}

func (c *CachedTracks) ByAlbum(ctx context.Context, albumID int64) ([]catalog.Track, error) {
	tracks, err := c.inner.ByAlbum(ctx, albumID)
	if err != nil {
		return nil, err
	}
	for _, t := range tracks {
		c.put(t)
	}
	return tracks, nil
}

func (c *CachedTracks) ByFolder(ctx context.Context, prefix string) ([]catalog.Track, error) {
	tracks, err := c.inner.ByFolder(ctx, prefix)
	if err != nil {
		return nil, err
	}
	for _, t := range tracks {
		c.put(t)
	}
	return tracks, nil
}

func (c *CachedTracks) Delete(ctx context.Context, id int64) error {
	if err := c.inner.Delete(ctx, id); err != nil {
		return err
	}
	if t, ok := c.cache.Get(id); ok {
		c.mu.Lock()
		delete(c.byPath, t.Path)
		c.mu.Unlock()
	}
	c.cache.Remove(id)
	return nil
}
