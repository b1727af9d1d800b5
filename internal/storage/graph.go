package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperjump/tiku/internal/models"
)

// SaveGraph writes a chapter, its concepts and its relations in one transaction.
// A chapter with the same id is replaced. Ids for new textbook chapters are taken
// below models.TopicChapterIDBase. Every edge must name known concepts and carry a
// canonical type, otherwise nothing is written.
func (s *SQLiteStorage) SaveGraph(ctx context.Context, g *ChapterGraph) error {
	if g == nil || g.Chapter == nil {
		return fmt.Errorf("chapter graph: %w", models.ErrEmptyInput)
	}
	ch := g.Chapter
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if ch.ID == 0 {
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(id), 0) + 1 FROM chapters WHERE id < ?`, models.TopicChapterIDBase,
		).Scan(&ch.ID); err != nil {
			return fmt.Errorf("failed to allocate chapter id: %w", err)
		}
	} else if _, err := tx.ExecContext(ctx, `DELETE FROM chapters WHERE id = ?`, ch.ID); err != nil {
		return fmt.Errorf("failed to replace chapter %d: %w", ch.ID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chapters (id, doc_id, number, name, content, learning_goals) VALUES (?, ?, ?, ?, ?, ?)`,
		ch.ID, ch.DocID, ch.Number, ch.Name, ch.Content, ch.LearningGoals,
	); err != nil {
		return fmt.Errorf("failed to insert chapter: %w", err)
	}

	ids := make(map[string]int64, len(g.Concepts))
	for _, c := range g.Concepts {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		if id, ok := ids[name]; ok {
			c.ID = id
			continue
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO concepts (chapter_id, name, description, is_key_point, is_difficult_point)
			 VALUES (?, ?, ?, ?, ?)`,
			ch.ID, name, c.Description, boolToInt(c.IsKeyPoint), boolToInt(c.IsDifficultPoint),
		)
		if err != nil {
			return fmt.Errorf("failed to insert concept %q: %w", name, err)
		}
		if c.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		c.ChapterID = ch.ID
		ids[name] = c.ID
	}

	for _, e := range g.Edges {
		if !e.Type.Valid() {
			return fmt.Errorf("%w: %q", models.ErrInvalidRelationType, e.Type)
		}
		from, okFrom := ids[strings.TrimSpace(e.From)]
		to, okTo := ids[strings.TrimSpace(e.To)]
		if !okFrom || !okTo {
			return fmt.Errorf("relation %s -> %s endpoint: %w", e.From, e.To, ErrNotFound)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO relations (from_concept_id, to_concept_id, relation_type) VALUES (?, ?, ?)`,
			from, to, string(e.Type),
		); err != nil {
			return fmt.Errorf("failed to insert relation: %w", err)
		}
	}
	return tx.Commit()
}

// DeleteGraph removes every chapter of docID along with concepts and relations.
func (s *SQLiteStorage) DeleteGraph(ctx context.Context, docID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chapters WHERE doc_id = ?`, docID)
	return err
}

// DeleteChapter removes one chapter along with its concepts and their relations.
func (s *SQLiteStorage) DeleteChapter(ctx context.Context, chapterID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chapters WHERE id = ?`, chapterID)
	return err
}

// GetChapter returns one chapter by id.
func (s *SQLiteStorage) GetChapter(ctx context.Context, chapterID int64) (*models.Chapter, error) {
	var ch models.Chapter
	err := s.db.QueryRowContext(ctx,
		`SELECT id, doc_id, number, name, content, learning_goals FROM chapters WHERE id = ?`, chapterID,
	).Scan(&ch.ID, &ch.DocID, &ch.Number, &ch.Name, &ch.Content, &ch.LearningGoals)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chapter %d: %w", chapterID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// Chapters returns the chapters of docID ordered by number.
func (s *SQLiteStorage) Chapters(ctx context.Context, docID string) ([]*models.Chapter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, doc_id, number, name, content, learning_goals
		 FROM chapters WHERE doc_id = ? ORDER BY number, id`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Chapter
	for rows.Next() {
		var ch models.Chapter
		if err := rows.Scan(&ch.ID, &ch.DocID, &ch.Number, &ch.Name, &ch.Content, &ch.LearningGoals); err != nil {
			return nil, err
		}
		out = append(out, &ch)
	}
	return out, rows.Err()
}

// Concepts returns the concepts of one chapter in insertion order.
func (s *SQLiteStorage) Concepts(ctx context.Context, chapterID int64) ([]*models.Concept, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chapter_id, name, description, is_key_point, is_difficult_point
		 FROM concepts WHERE chapter_id = ? ORDER BY id`, chapterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Concept
	for rows.Next() {
		c, err := scanConcept(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Relations returns relations whose source concept belongs to chapterID.
func (s *SQLiteStorage) Relations(ctx context.Context, chapterID int64) ([]*models.Relation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.from_concept_id, r.to_concept_id, r.relation_type
		 FROM relations r JOIN concepts c ON c.id = r.from_concept_id
		 WHERE c.chapter_id = ? ORDER BY r.id`, chapterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Relation
	for rows.Next() {
		var r models.Relation
		var rt string
		if err := rows.Scan(&r.ID, &r.FromConceptID, &r.ToConceptID, &rt); err != nil {
			return nil, err
		}
		r.Type = models.RelationType(rt)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// QueryConcepts returns concepts joined with their chapter and outgoing relations.
// DocIDs match exactly; chapter and concept names match by substring.
func (s *SQLiteStorage) QueryConcepts(ctx context.Context, f models.ConceptFilter) ([]*models.ConceptView, error) {
	query := `SELECT c.id, c.chapter_id, c.name, c.description, c.is_key_point, c.is_difficult_point,
		ch.doc_id, ch.name
		FROM concepts c JOIN chapters ch ON ch.id = c.chapter_id`
	var args []any
	if len(f.DocIDs) > 0 {
		query += ` WHERE ch.doc_id IN (?` + strings.Repeat(", ?", len(f.DocIDs)-1) + `)`
		for _, id := range f.DocIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY ch.doc_id, ch.number, c.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var out []*models.ConceptView
	for rows.Next() {
		var v models.ConceptView
		var key, difficult int
		if err := rows.Scan(&v.ID, &v.ChapterID, &v.Name, &v.Description, &key, &difficult,
			&v.DocID, &v.ChapterName); err != nil {
			rows.Close()
			return nil, err
		}
		v.IsKeyPoint = key != 0
		v.IsDifficultPoint = difficult != 0
		if matchAny(v.ChapterName, f.ChapterNames) && matchAny(v.Name, f.Names) {
			out = append(out, &v)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, v := range out {
		rels, err := s.outgoing(ctx, v.ID)
		if err != nil {
			return nil, err
		}
		v.Relations = rels
	}
	return out, nil
}

func (s *SQLiteStorage) outgoing(ctx context.Context, conceptID int64) ([]models.RelationView, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.relation_type, t.name FROM relations r JOIN concepts t ON t.id = r.to_concept_id
		 WHERE r.from_concept_id = ? ORDER BY r.id`, conceptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RelationView
	for rows.Next() {
		var rv models.RelationView
		var rt string
		if err := rows.Scan(&rt, &rv.Target); err != nil {
			return nil, err
		}
		rv.Type = models.RelationType(rt)
		out = append(out, rv)
	}
	return out, rows.Err()
}

func scanConcept(r rowScanner) (*models.Concept, error) {
	var c models.Concept
	var key, difficult int
	if err := r.Scan(&c.ID, &c.ChapterID, &c.Name, &c.Description, &key, &difficult); err != nil {
		return nil, err
	}
	c.IsKeyPoint = key != 0
	c.IsDifficultPoint = difficult != 0
	return &c, nil
}

func matchAny(s string, needles []string) bool {
	if len(needles) == 0 {
		return true
	}
	for _, n := range needles {
		n = strings.TrimSpace(n)
		if n != "" && (strings.Contains(s, n) || strings.Contains(n, s)) {
			return true
		}
	}
	return false
}
