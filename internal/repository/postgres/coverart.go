package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/netscane/rhythm/internal/catalog"
	"github.com/netscane/rhythm/pkg/membuf"
)

// CoverArtStore is the durable backend for the cover-art buffer. Image
// payloads are zstd-compressed at rest; scanned folders often carry the
// same PNG hundreds of times over.
type CoverArtStore struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func NewCoverArtStore(db *sql.DB) (*CoverArtStore, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &CoverArtStore{db: db, enc: enc, dec: dec}, nil
}

func (s *CoverArtStore) Apply(ctx context.Context, batch []membuf.Entry[string, catalog.CoverArt]) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cover art flush: %w", err)
	}
	defer tx.Rollback()

	for _, e := range batch {
		if e.Tombstone {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM cover_art WHERE id = $1`, e.Key); err != nil {
				return fmt.Errorf("failed to delete cover art %q: %w", e.Key, err)
			}
			continue
		}
		c := e.Value
		compressed := s.enc.EncodeAll(c.Image, nil)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cover_art (id, path, mime_type, image)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO UPDATE
			 SET path = EXCLUDED.path,
			     mime_type = EXCLUDED.mime_type,
			     image = EXCLUDED.image`,
			c.ID, c.Path, c.MIMEType, compressed); err != nil {
			return fmt.Errorf("failed to upsert cover art %q: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cover art flush: %w", err)
	}
	return nil
}

func (s *CoverArtStore) Get(ctx context.Context, id string) (catalog.CoverArt, bool, error) {
	var (
		c          catalog.CoverArt
		compressed []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, path, mime_type, image FROM cover_art WHERE id = $1`, id).
		Scan(&c.ID, &c.Path, &c.MIMEType, &compressed)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.CoverArt{}, false, nil
	}
	if err != nil {
		return catalog.CoverArt{}, false, fmt.Errorf("failed to load cover art %q: %w", id, err)
	}
	c.Image, err = s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return catalog.CoverArt{}, false, fmt.Errorf("failed to decompress cover art %q: %w", id, err)
	}
	return c, true, nil
}

func (s *CoverArtStore) FindByIndex(ctx context.Context, name, _ string) ([]string, error) {
	return nil, fmt.Errorf("%w: cover art index %q", membuf.ErrUnknownIndex, name)
}

func (s *CoverArtStore) FindByPrefix(ctx context.Context, name, _ string) ([]string, error) {
	return nil, fmt.Errorf("%w: cover art prefix index %q", membuf.ErrUnknownIndex, name)
}

func (s *CoverArtStore) Close() {
	s.enc.Close()
	s.dec.Close()
}
