package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/andresmejia3/screener/internal/gallery"
	"github.com/andresmejia3/screener/internal/types"
)

// ErrNotFound is returned when an entry id does not exist.
var ErrNotFound = errors.New("gallery entry not found")

// Store manages the PostgreSQL connection and the pgvector gallery table.
type Store struct {
	conn *pgx.Conn
}

// GallerySummary describes one stored gallery.
type GallerySummary struct {
	Name      string
	Count     int
	Dimension int
}

// EntryRecord is a stored gallery entry without its embedding.
type EntryRecord struct {
	ID       int64
	Gallery  string
	Position int
	Label    string
	Metadata []string
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the gallery table and vector extension if they don't exist.
// The embedding column is unsized so galleries of any dimension can live side by side.
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS gallery_entries (
			id BIGSERIAL PRIMARY KEY,
			gallery TEXT NOT NULL,
			position INT NOT NULL,
			label TEXT NOT NULL,
			embedding VECTOR NOT NULL,
			metadata TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE (gallery, position)
		);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// ImportGallery replaces the stored gallery named g.Name with g's entries,
// keeping their order. progress, if set, is called once per inserted row.
func (s *Store) ImportGallery(ctx context.Context, g *types.Gallery, progress func()) (int, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	// Re-importing is idempotent: the old rows go first.
	if _, err := tx.Exec(ctx, "DELETE FROM gallery_entries WHERE gallery = $1", g.Name); err != nil {
		return 0, err
	}

	for i, e := range g.Entries {
		meta := e.Metadata
		if meta == nil {
			meta = []string{}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO gallery_entries (gallery, position, label, embedding, metadata)
			VALUES ($1, $2, $3, $4::vector, $5)
		`, g.Name, i, e.Label, vecToString(e.Embedding), meta)
		if err != nil {
			return 0, fmt.Errorf("entry %d (%s): %w", i, e.Label, err)
		}
		if progress != nil {
			progress()
		}
	}

	return g.Len(), tx.Commit(ctx)
}

// LoadGallery reads a gallery back in import order. An unknown name yields an
// empty gallery, not an error.
func (s *Store) LoadGallery(ctx context.Context, name string) (*types.Gallery, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT label, embedding::text, metadata
		FROM gallery_entries WHERE gallery = $1 ORDER BY position ASC
	`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	g := &types.Gallery{Name: name}
	for rows.Next() {
		var (
			label, vecStr string
			meta          []string
		)
		if err := rows.Scan(&label, &vecStr, &meta); err != nil {
			return nil, err
		}
		vec, err := gallery.ParseEmbedding(vecStr)
		if err != nil {
			return nil, fmt.Errorf("stored embedding for %q: %w", label, err)
		}
		g.Entries = append(g.Entries, types.GalleryEntry{Label: label, Embedding: vec, Metadata: meta})
	}
	return g, rows.Err()
}

// ListGalleries returns every stored gallery with its size and dimension.
func (s *Store) ListGalleries(ctx context.Context) ([]GallerySummary, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT gallery, COUNT(*), MAX(vector_dims(embedding))
		FROM gallery_entries GROUP BY gallery ORDER BY gallery ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GallerySummary
	for rows.Next() {
		var g GallerySummary
		if err := rows.Scan(&g.Name, &g.Count, &g.Dimension); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ListEntries returns the entries of one gallery, or of all galleries when name is empty.
func (s *Store) ListEntries(ctx context.Context, name string) ([]EntryRecord, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, gallery, position, label, metadata
		FROM gallery_entries
		WHERE $1 = '' OR gallery = $1
		ORDER BY gallery ASC, position ASC
	`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EntryRecord
	for rows.Next() {
		var e EntryRecord
		if err := rows.Scan(&e.ID, &e.Gallery, &e.Position, &e.Label, &e.Metadata); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RenameEntry updates the label of a stored entry.
func (s *Store) RenameEntry(ctx context.Context, id int64, newLabel string) error {
	tag, err := s.conn.Exec(ctx, "UPDATE gallery_entries SET label = $1 WHERE id = $2", newLabel, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `DROP TABLE IF EXISTS gallery_entries CASCADE;`)
	return err
}

// vecToString formats a float slice into a PostgreSQL vector string format "[1,2.5,...]"
func vecToString(vec []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}
