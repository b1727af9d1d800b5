package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist. Foreign keys are enforced so
// chapter deletes cascade to concepts and relations.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		chunk_id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL,
		source_type TEXT NOT NULL CHECK (source_type IN ('textbook', 'slides')),
		level TEXT NOT NULL DEFAULT 'paragraph',
		chapter_num INTEGER NOT NULL DEFAULT 0,
		chapter_name TEXT NOT NULL DEFAULT '',
		section_num INTEGER NOT NULL DEFAULT 0,
		section_name TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL,
		context_header TEXT NOT NULL DEFAULT '',
		prev_id TEXT,
		next_id TEXT,
		position INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_id, position);

	CREATE TABLE IF NOT EXISTS chapters (
		id INTEGER PRIMARY KEY,
		doc_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		name TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		learning_goals TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_chapters_doc ON chapters(doc_id, number);

	CREATE TABLE IF NOT EXISTS concepts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chapter_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		is_key_point INTEGER NOT NULL DEFAULT 0,
		is_difficult_point INTEGER NOT NULL DEFAULT 0,
		UNIQUE (chapter_id, name),
		FOREIGN KEY (chapter_id) REFERENCES chapters(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS relations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_concept_id INTEGER NOT NULL,
		to_concept_id INTEGER NOT NULL,
		relation_type TEXT NOT NULL CHECK (relation_type IN ('is_a', 'contrasts_with', 'depends_on', 'leads_to')),
		FOREIGN KEY (from_concept_id) REFERENCES concepts(id) ON DELETE CASCADE,
		FOREIGN KEY (to_concept_id) REFERENCES concepts(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_relations_from ON relations(from_concept_id);
	CREATE INDEX IF NOT EXISTS idx_relations_to ON relations(to_concept_id);
	`
	_, err := db.Exec(schema)
	return err
}

// DeleteDocument removes every chunk and chapter of docID. Concepts and relations
// go with their chapters through the foreign-key cascade.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, docID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ?`, docID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chapters WHERE doc_id = ?`, docID); err != nil {
		return fmt.Errorf("failed to delete chapters: %w", err)
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
