package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/netscane/rhythm/internal/catalog"
	"github.com/netscane/rhythm/pkg/membuf"
)

// GenreStore is the durable backend for the genres buffer.
type GenreStore struct {
	db *sql.DB
}

func NewGenreStore(db *sql.DB) *GenreStore {
	return &GenreStore{db: db}
}

func (s *GenreStore) Apply(ctx context.Context, batch []membuf.Entry[string, catalog.Genre]) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin genre flush: %w", err)
	}
	defer tx.Rollback()

	for _, e := range batch {
		if e.Tombstone {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM genre WHERE name = $1`, e.Key); err != nil {
				return fmt.Errorf("failed to delete genre %q: %w", e.Key, err)
			}
			continue
		}
		g := e.Value
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO genre (name, song_count, album_count)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (name) DO UPDATE
			 SET song_count = EXCLUDED.song_count,
			     album_count = EXCLUDED.album_count`,
			g.Name, g.SongCount, g.AlbumCount); err != nil {
			return fmt.Errorf("failed to upsert genre %q: %w", g.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit genre flush: %w", err)
	}
	return nil
}

func (s *GenreStore) Get(ctx context.Context, name string) (catalog.Genre, bool, error) {
	var g catalog.Genre
	err := s.db.QueryRowContext(ctx,
		`SELECT name, song_count, album_count FROM genre WHERE name = $1`, name).
		Scan(&g.Name, &g.SongCount, &g.AlbumCount)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Genre{}, false, nil
	}
	if err != nil {
		return catalog.Genre{}, false, fmt.Errorf("failed to load genre %q: %w", name, err)
	}
	return g, true, nil
}

func (s *GenreStore) FindByIndex(ctx context.Context, name, _ string) ([]string, error) {
	return nil, fmt.Errorf("%w: genre index %q", membuf.ErrUnknownIndex, name)
}

func (s *GenreStore) FindByPrefix(ctx context.Context, name, _ string) ([]string, error) {
	return nil, fmt.Errorf("%w: genre prefix index %q", membuf.ErrUnknownIndex, name)
}
