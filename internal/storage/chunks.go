package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hyperjump/tiku/internal/models"
)

const chunkColumns = `chunk_id, doc_id, source_type, level, chapter_num, chapter_name,
	section_num, section_name, text, context_header, prev_id, next_id`

// ReplaceChunks deletes docID's rows and inserts chunks in document order.
func (s *SQLiteStorage) ReplaceChunks(ctx context.Context, docID string, chunks []*models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ?`, docID); err != nil {
		return fmt.Errorf("failed to delete old chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (`+chunkColumns+`, position)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, c := range chunks {
		if c.DocID != docID {
			return fmt.Errorf("chunk %s belongs to %s, not %s", c.ChunkID, c.DocID, docID)
		}
		level := c.Level
		if level == "" {
			level = models.LevelParagraph
		}
		if _, err := stmt.ExecContext(ctx,
			c.ChunkID, c.DocID, string(c.SourceType), level, c.ChapterNum, c.ChapterName,
			c.SectionNum, c.SectionName, c.Text, c.ContextHeader,
			nullString(c.PrevID), nullString(c.NextID), i,
		); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ChunkID, err)
		}
	}
	return tx.Commit()
}

// DeleteChunks removes all chunks for a document. Deleting a missing document is not an error.
func (s *SQLiteStorage) DeleteChunks(ctx context.Context, docID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ?`, docID)
	return err
}

// GetChunk returns a chunk by id.
func (s *SQLiteStorage) GetChunk(ctx context.Context, chunkID string) (*models.Chunk, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE chunk_id = ?`, chunkID)
	c, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chunk %s: %w", chunkID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// AllChunks returns every chunk ordered by document then position.
func (s *SQLiteStorage) AllChunks(ctx context.Context) ([]*models.Chunk, error) {
	return s.queryChunks(ctx, `SELECT `+chunkColumns+` FROM chunks ORDER BY doc_id, position`)
}

// DocumentChunks returns one document's chunks in order.
func (s *SQLiteStorage) DocumentChunks(ctx context.Context, docID string) ([]*models.Chunk, error) {
	return s.queryChunks(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE doc_id = ? ORDER BY position`, docID)
}

func (s *SQLiteStorage) queryChunks(ctx context.Context, query string, args ...any) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// CountChunks counts rows for docID, or all rows when docID is empty.
func (s *SQLiteStorage) CountChunks(ctx context.Context, docID string) (int, error) {
	var count int
	var err error
	if docID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE doc_id = ?`, docID).Scan(&count)
	}
	return count, err
}

// ListDocuments returns one entry per doc_id with its chunk count.
func (s *SQLiteStorage) ListDocuments(ctx context.Context) ([]DocumentInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, MIN(source_type), COUNT(*) FROM chunks GROUP BY doc_id ORDER BY doc_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []DocumentInfo
	for rows.Next() {
		var d DocumentInfo
		var st string
		if err := rows.Scan(&d.DocID, &st, &d.Chunks); err != nil {
			return nil, err
		}
		d.SourceType = models.SourceType(st)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(r rowScanner) (*models.Chunk, error) {
	var c models.Chunk
	var st string
	var prev, next sql.NullString
	if err := r.Scan(&c.ChunkID, &c.DocID, &st, &c.Level, &c.ChapterNum, &c.ChapterName,
		&c.SectionNum, &c.SectionName, &c.Text, &c.ContextHeader, &prev, &next); err != nil {
		return nil, err
	}
	c.SourceType = models.SourceType(st)
	c.PrevID = prev.String
	c.NextID = next.String
	return &c, nil
}
