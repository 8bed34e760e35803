package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"knowledge-engine/internal/enginetypes"
)

// AttachTag links fileID to a (possibly new) tag named name, bumping
// the tag's weight. System and LLM tags share this path; tagType
// records which produced it.
func (s *Store) AttachTag(ctx context.Context, fileID, name string, tagType enginetypes.TagType) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var tagID string
		err := tx.QueryRowContext(ctx, `SELECT id FROM tags WHERE name = ?`, name).Scan(&tagID)
		switch {
		case err == sql.ErrNoRows:
			tagID = uuid.NewString()
			if _, err := tx.ExecContext(ctx, `INSERT INTO tags (id, name, type, weight) VALUES (?, ?, ?, 1)`,
				tagID, name, string(tagType)); err != nil {
				return classifyErr("attach_tag", err)
			}
		case err != nil:
			return classifyErr("attach_tag", err)
		default:
			if _, err := tx.ExecContext(ctx, `UPDATE tags SET weight = weight + 1 WHERE id = ?`, tagID); err != nil {
				return classifyErr("attach_tag", err)
			}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO file_tags (file_id, tag_id) VALUES (?, ?)`, fileID, tagID)
		return classifyErr("attach_tag", err)
	})
}

// TagsForFile returns every tag attached to fileID.
func (s *Store) TagsForFile(ctx context.Context, fileID string) ([]*enginetypes.Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.type, t.weight FROM tags t
		JOIN file_tags ft ON ft.tag_id = t.id
		WHERE ft.file_id = ? ORDER BY t.weight DESC`, fileID)
	if err != nil {
		return nil, classifyErr("tags_for_file", err)
	}
	defer rows.Close()

	var out []*enginetypes.Tag
	for rows.Next() {
		t := &enginetypes.Tag{}
		if err := rows.Scan(&t.ID, &t.Name, &t.Type, &t.Weight); err != nil {
			return nil, classifyErr("tags_for_file", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TagCloud returns tags ordered by descending weight (at most limit of
// them when limit > 0), the materialized view the debounced
// tag-cloud-updated event recomputes.
func (s *Store) TagCloud(ctx context.Context, limit int) ([]*enginetypes.Tag, error) {
	query := `SELECT id, name, type, weight FROM tags ORDER BY weight DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyErr("tag_cloud", err)
	}
	defer rows.Close()

	var out []*enginetypes.Tag
	for rows.Next() {
		t := &enginetypes.Tag{}
		if err := rows.Scan(&t.ID, &t.Name, &t.Type, &t.Weight); err != nil {
			return nil, classifyErr("tag_cloud", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// FilesByTag returns file IDs carrying the given tag name (used by
// the lexical side of hybrid retrieval).
func (s *Store) FilesByTag(ctx context.Context, name string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ft.file_id FROM file_tags ft JOIN tags t ON t.id = ft.tag_id WHERE t.name = ?`, name)
	if err != nil {
		return nil, classifyErr("files_by_tag", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classifyErr("files_by_tag", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
