package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/netscane/rhythm/internal/catalog"
	"github.com/netscane/rhythm/pkg/membuf"
)

func testOptions() Options {
	return Options{
		ThresholdBytes: 1 << 20,
		FlushTimeout:   time.Hour,
		MaxPending:     4,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// fakeArtistStore keeps artists in a map and answers the sort_name index
// by scanning it.
type fakeArtistStore struct {
	mu   sync.Mutex
	rows map[int64]catalog.Artist
}

func newFakeArtistStore() *fakeArtistStore {
	return &fakeArtistStore{rows: make(map[int64]catalog.Artist)}
}

func (f *fakeArtistStore) Apply(_ context.Context, batch []membuf.Entry[int64, catalog.Artist]) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range batch {
		if e.Tombstone {
			delete(f.rows, e.Key)
		} else {
			f.rows[e.Key] = e.Value
		}
	}
	return nil
}

func (f *fakeArtistStore) Get(_ context.Context, id int64) (catalog.Artist, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	return a, ok, nil
}

func (f *fakeArtistStore) FindByIndex(_ context.Context, name, value string) ([]int64, error) {
	if name != catalog.IndexSortName {
		return nil, membuf.ErrUnknownIndex
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for id, a := range f.rows {
		if a.SortName == value {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeArtistStore) FindByPrefix(_ context.Context, _, _ string) ([]int64, error) {
	return nil, membuf.ErrUnknownIndex
}

// fakeTrackStore answers the album_id index and the path prefix index.
type fakeTrackStore struct {
	mu   sync.Mutex
	rows map[int64]catalog.Track
}

func newFakeTrackStore() *fakeTrackStore {
	return &fakeTrackStore{rows: make(map[int64]catalog.Track)}
}

func (f *fakeTrackStore) Apply(_ context.Context, batch []membuf.Entry[int64, catalog.Track]) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range batch {
		if e.Tombstone {
			delete(f.rows, e.Key)
		} else {
			f.rows[e.Key] = e.Value
		}
	}
	return nil
}

func (f *fakeTrackStore) Get(_ context.Context, id int64) (catalog.Track, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.rows[id]
	return t, ok, nil
}

func (f *fakeTrackStore) FindByIndex(_ context.Context, name, value string) ([]int64, error) {
	if name != catalog.IndexAlbumID {
		return nil, membuf.ErrUnknownIndex
	}
	albumID, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for id, t := range f.rows {
		if t.AlbumID == albumID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeTrackStore) FindByPrefix(_ context.Context, name, prefix string) ([]int64, error) {
	if name != catalog.IndexPath {
		return nil, membuf.ErrUnknownIndex
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for id, t := range f.rows {
		if strings.HasPrefix(t.Path, prefix) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func closeRepo(t *testing.T, c interface {
	Close(context.Context) error
}) {
	t.Helper()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
}

func TestBufferedArtists_SaveAndLookup(t *testing.T) {
	store := newFakeArtistStore()
	store.rows[1] = catalog.Artist{ID: 1, Name: "The Beatles", SortName: "beatles"}
	repo, err := NewBufferedArtists(testOptions(), store)
	if err != nil {
		t.Fatalf("NewBufferedArtists failed: %v", err)
	}
	closeRepo(t, repo)
	ctx := context.Background()

	if err := repo.Save(ctx, catalog.Artist{ID: 2, Name: "Beatless", SortName: "beatles"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// ByID reads the buffered record before it is flushed.
	a, err := repo.ByID(ctx, 2)
	if err != nil {
		t.Fatalf("ByID failed: %v", err)
	}
	if a.Name != "Beatless" {
		t.Fatalf("unexpected artist: %+v", a)
	}

	// The index lookup merges the stored and the buffered artist.
	artists, err := repo.BySortName(ctx, "beatles")
	if err != nil {
		t.Fatalf("BySortName failed: %v", err)
	}
	if len(artists) != 2 {
		t.Fatalf("expected 2 artists, got %d: %+v", len(artists), artists)
	}

	if _, err := repo.ByID(ctx, 99); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBufferedArtists_DeleteShadowsStore(t *testing.T) {
	store := newFakeArtistStore()
	store.rows[1] = catalog.Artist{ID: 1, Name: "Dropped", SortName: "dropped"}
	repo, err := NewBufferedArtists(testOptions(), store)
	if err != nil {
		t.Fatalf("NewBufferedArtists failed: %v", err)
	}
	closeRepo(t, repo)
	ctx := context.Background()

	if err := repo.Delete(ctx, 1); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := repo.ByID(ctx, 1); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	artists, err := repo.BySortName(ctx, "dropped")
	if err != nil {
		t.Fatalf("BySortName failed: %v", err)
	}
	if len(artists) != 0 {
		t.Fatalf("deleted artist still listed: %+v", artists)
	}

	// Flush carries the tombstone down to the store.
	if err := repo.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if _, ok := store.rows[1]; ok {
		t.Fatal("store row survived the tombstone")
	}
}

func TestBufferedTracks_ByPathAndByFolder(t *testing.T) {
	store := newFakeTrackStore()
	store.rows[10] = catalog.Track{ID: 10, AlbumID: 1, Path: "music/a/old.mp3", Title: "Old"}
	repo, err := NewBufferedTracks(testOptions(), store)
	if err != nil {
		t.Fatalf("NewBufferedTracks failed: %v", err)
	}
	closeRepo(t, repo)
	ctx := context.Background()

	tracks := []catalog.Track{
		{ID: 1, AlbumID: 1, Path: "music/a/one.mp3", Title: "One"},
		{ID: 2, AlbumID: 1, Path: "music/a/two.mp3", Title: "Two"},
		{ID: 3, AlbumID: 2, Path: "music/b/three.mp3", Title: "Three"},
	}
	for _, tr := range tracks {
		if err := repo.Save(ctx, tr); err != nil {
			t.Fatalf("Save %d failed: %v", tr.ID, err)
		}
	}

	got, err := repo.ByPath(ctx, "music/a/one.mp3")
	if err != nil {
		t.Fatalf("ByPath failed: %v", err)
	}
	if got.ID != 1 {
		t.Fatalf("expected track 1, got %+v", got)
	}
	// "music/a/one.mp3" is a prefix of nothing else; a partial path is
	// not an exact hit.
	if _, err := repo.ByPath(ctx, "music/a/one"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for partial path, got %v", err)
	}

	folder, err := repo.ByFolder(ctx, "music/a/")
	if err != nil {
		t.Fatalf("ByFolder failed: %v", err)
	}
	if len(folder) != 3 {
		t.Fatalf("expected 3 tracks under music/a/, got %d: %+v", len(folder), folder)
	}

	byAlbum, err := repo.ByAlbum(ctx, 1)
	if err != nil {
		t.Fatalf("ByAlbum failed: %v", err)
	}
	if len(byAlbum) != 3 {
		t.Fatalf("expected 3 tracks on album 1, got %d", len(byAlbum))
	}
}

// countingArtists wraps a repository to count reads reaching it.
type countingArtists struct {
	catalog.ArtistRepository
	byID int
}

func (c *countingArtists) ByID(ctx context.Context, id int64) (catalog.Artist, error) {
	c.byID++
	return c.ArtistRepository.ByID(ctx, id)
}

func TestCachedArtists_ReadThrough(t *testing.T) {
	store := newFakeArtistStore()
	inner, err := NewBufferedArtists(testOptions(), store)
	if err != nil {
		t.Fatalf("NewBufferedArtists failed: %v", err)
	}
	closeRepo(t, inner)
	counting := &countingArtists{ArtistRepository: inner}
	cached, err := NewCachedArtists(counting, 16)
	if err != nil {
		t.Fatalf("NewCachedArtists failed: %v", err)
	}
	ctx := context.Background()

	if err := cached.Save(ctx, catalog.Artist{ID: 1, Name: "Cached", SortName: "cached"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Save warmed the cache, so reads never reach the inner repository.
	for i := 0; i < 3; i++ {
		if _, err := cached.ByID(ctx, 1); err != nil {
			t.Fatalf("ByID failed: %v", err)
		}
	}
	if counting.byID != 0 {
		t.Fatalf("expected cache hits, inner saw %d reads", counting.byID)
	}

	if err := cached.Delete(ctx, 1); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := cached.ByID(ctx, 1); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if counting.byID != 1 {
		t.Fatalf("expected the post-delete read to miss, inner saw %d reads", counting.byID)
	}
}

type countingTracks struct {
	catalog.TrackRepository
	byPath int
}

func (c *countingTracks) ByPath(ctx context.Context, path string) (catalog.Track, error) {
	c.byPath++
	return c.TrackRepository.ByPath(ctx, path)
}

func TestCachedTracks_ByPathUsesSideIndex(t *testing.T) {
	store := newFakeTrackStore()
	inner, err := NewBufferedTracks(testOptions(), store)
	if err != nil {
		t.Fatalf("NewBufferedTracks failed: %v", err)
	}
	closeRepo(t, inner)
	counting := &countingTracks{TrackRepository: inner}
	cached, err := NewCachedTracks(counting, 16)
	if err != nil {
		t.Fatalf("NewCachedTracks failed: %v", err)
	}
	ctx := context.Background()

	track := catalog.Track{ID: 1, AlbumID: 1, Path: "music/a/one.mp3", Title: "One"}
	if err := cached.Save(ctx, track); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		got, err := cached.ByPath(ctx, track.Path)
		if err != nil {
			t.Fatalf("ByPath failed: %v", err)
		}
		if got.ID != 1 {
			t.Fatalf("unexpected track: %+v", got)
		}
	}
	if counting.byPath != 0 {
		t.Fatalf("expected path hits via the side index, inner saw %d", counting.byPath)
	}

	// Eviction must clean the side index, not just the LRU.
	if err := cached.Delete(ctx, 1); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := cached.ByPath(ctx, track.Path); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if counting.byPath != 1 {
		t.Fatalf("expected the post-delete lookup to miss, inner saw %d", counting.byPath)
	}
}
