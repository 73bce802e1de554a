package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/netscane/rhythm/internal/catalog"
	"github.com/netscane/rhythm/pkg/membuf"
)

// ArtistStore is the durable backend for the artists buffer.
type ArtistStore struct {
	db *sql.DB
}

func NewArtistStore(db *sql.DB) *ArtistStore {
	return &ArtistStore{db: db}
}

func (s *ArtistStore) Apply(ctx context.Context, batch []membuf.Entry[int64, catalog.Artist]) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin artist flush: %w", err)
	}
	defer tx.Rollback()

	for _, e := range batch {
		if e.Tombstone {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM artist WHERE id = $1`, e.Key); err != nil {
				return fmt.Errorf("failed to delete artist %d: %w", e.Key, err)
			}
			continue
		}
		a := e.Value
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO artist (id, name, sort_name, album_count)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO UPDATE
			 SET name = EXCLUDED.name,
			     sort_name = EXCLUDED.sort_name,
			     album_count = EXCLUDED.album_count`,
			a.ID, a.Name, a.SortName, a.AlbumCount); err != nil {
			return fmt.Errorf("failed to upsert artist %d: %w", a.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit artist flush: %w", err)
	}
	return nil
}

func (s *ArtistStore) Get(ctx context.Context, id int64) (catalog.Artist, bool, error) {
	var a catalog.Artist
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, sort_name, album_count FROM artist WHERE id = $1`, id).
		Scan(&a.ID, &a.Name, &a.SortName, &a.AlbumCount)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Artist{}, false, nil
	}
	if err != nil {
		return catalog.Artist{}, false, fmt.Errorf("failed to load artist %d: %w", id, err)
	}
	return a, true, nil
}

func (s *ArtistStore) FindByIndex(ctx context.Context, name, value string) ([]int64, error) {
	if name != catalog.IndexSortName {
		return nil, fmt.Errorf("%w: artist index %q", membuf.ErrUnknownIndex, name)
	}
	return queryKeys[int64](ctx, s.db,
		`SELECT id FROM artist WHERE sort_name = $1`, value)
}

func (s *ArtistStore) FindByPrefix(ctx context.Context, name, prefix string) ([]int64, error) {
	return nil, fmt.Errorf("%w: artist prefix index %q", membuf.ErrUnknownIndex, name)
}

// queryKeys runs a single-column key query shared by the index lookups.
func queryKeys[K any](ctx context.Context, db *sql.DB, q string, args ...any) ([]K, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query keys: %w", err)
	}
	defer rows.Close()
	var keys []K
	for rows.Next() {
		var k K
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
