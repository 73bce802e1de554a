package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/netscane/rhythm/internal/catalog"
	"github.com/netscane/rhythm/pkg/membuf"
)

// AlbumStore is the durable backend for the albums buffer.
type AlbumStore struct {
	db *sql.DB
}

func NewAlbumStore(db *sql.DB) *AlbumStore {
	return &AlbumStore{db: db}
}

func (s *AlbumStore) Apply(ctx context.Context, batch []membuf.Entry[int64, catalog.Album]) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin album flush: %w", err)
	}
	defer tx.Rollback()

	for _, e := range batch {
		if e.Tombstone {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM album WHERE id = $1`, e.Key); err != nil {
				return fmt.Errorf("failed to delete album %d: %w", e.Key, err)
			}
			continue
		}
		a := e.Value
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO album (id, artist_id, name, sort_name, year, song_count)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (id) DO UPDATE
			 SET artist_id = EXCLUDED.artist_id,
			     name = EXCLUDED.name,
			     sort_name = EXCLUDED.sort_name,
			     year = EXCLUDED.year,
			     song_count = EXCLUDED.song_count`,
			a.ID, a.ArtistID, a.Name, a.SortName, a.Year, a.SongCount); err != nil {
			return fmt.Errorf("failed to upsert album %d: %w", a.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit album flush: %w", err)
	}
	return nil
}

func (s *AlbumStore) Get(ctx context.Context, id int64) (catalog.Album, bool, error) {
	var a catalog.Album
	err := s.db.QueryRowContext(ctx,
		`SELECT id, artist_id, name, sort_name, year, song_count FROM album WHERE id = $1`, id).
		Scan(&a.ID, &a.ArtistID, &a.Name, &a.SortName, &a.Year, &a.SongCount)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Album{}, false, nil
	}
	if err != nil {
		return catalog.Album{}, false, fmt.Errorf("failed to load album %d: %w", id, err)
	}
	return a, true, nil
}

func (s *AlbumStore) FindByIndex(ctx context.Context, name, value string) ([]int64, error) {
	switch name {
	case catalog.IndexArtistID:
		return queryKeys[int64](ctx, s.db,
			`SELECT id FROM album WHERE artist_id = $1::bigint`, value)
	case catalog.IndexSortName:
		return queryKeys[int64](ctx, s.db,
			`SELECT id FROM album WHERE sort_name = $1`, value)
	default:
		return nil, fmt.Errorf("%w: album index %q", membuf.ErrUnknownIndex, name)
	}
}

func (s *AlbumStore) FindByPrefix(ctx context.Context, name, prefix string) ([]int64, error) {
	return nil, fmt.Errorf("%w: album prefix index %q", membuf.ErrUnknownIndex, name)
}
