package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/netscane/rhythm/internal/catalog"
	"github.com/netscane/rhythm/pkg/membuf"
)

// TrackStore is the durable backend for the tracks buffer.
type TrackStore struct {
	db *sql.DB
}

func NewTrackStore(db *sql.DB) *TrackStore {
	return &TrackStore{db: db}
}

func (s *TrackStore) Apply(ctx context.Context, batch []membuf.Entry[int64, catalog.Track]) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin track flush: %w", err)
	}
	defer tx.Rollback()

	for _, e := range batch {
		if e.Tombstone {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM track WHERE id = $1`, e.Key); err != nil {
				return fmt.Errorf("failed to delete track %d: %w", e.Key, err)
			}
			continue
		}
		t := e.Value
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO track (id, album_id, artist_id, path, title, suffix, bitrate, duration_ms, size_bytes)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (id) DO UPDATE
			 SET album_id = EXCLUDED.album_id,
			     artist_id = EXCLUDED.artist_id,
			     path = EXCLUDED.path,
			     title = EXCLUDED.title,
			     suffix = EXCLUDED.suffix,
			     bitrate = EXCLUDED.bitrate,
			     duration_ms = EXCLUDED.duration_ms,
			     size_bytes = EXCLUDED.size_bytes`,
			t.ID, t.AlbumID, t.ArtistID, t.Path, t.Title, t.Suffix,
			t.Bitrate, t.DurationMS, t.SizeBytes); err != nil {
			return fmt.Errorf("failed to upsert track %d: %w", t.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit track flush: %w", err)
	}
	return nil
}

func (s *TrackStore) Get(ctx context.Context, id int64) (catalog.Track, bool, error) {
	var t catalog.Track
	err := s.db.QueryRowContext(ctx,
		`SELECT id, album_id, artist_id, path, title, suffix, bitrate, duration_ms, size_bytes
		 FROM track WHERE id = $1`, id).
		Scan(&t.ID, &t.AlbumID, &t.ArtistID, &t.Path, &t.Title, &t.Suffix,
			&t.Bitrate, &t.DurationMS, &t.SizeBytes)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Track{}, false, nil
	}
	if err != nil {
		return catalog.Track{}, false, fmt.Errorf("failed to load track %d: %w", id, err)
	}
	return t, true, nil
}

func (s *TrackStore) FindByIndex(ctx context.Context, name, value string) ([]int64, error) {
	if name != catalog.IndexAlbumID {
		return nil, fmt.Errorf("%w: track index %q", membuf.ErrUnknownIndex, name)
	}
	return queryKeys[int64](ctx, s.db,
		`SELECT id FROM track WHERE album_id = $1::bigint`, value)
}

func (s *TrackStore) FindByPrefix(ctx context.Context, name, prefix string) ([]int64, error) {
	if name != catalog.IndexPath {
		return nil, fmt.Errorf("%w: track prefix index %q", membuf.ErrUnknownIndex, name)
	}
	return queryKeys[int64](ctx, s.db,
		`SELECT id FROM track WHERE path LIKE $1 ORDER BY path`, likePrefix(prefix))
}
