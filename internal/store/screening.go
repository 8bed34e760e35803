package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"knowledge-engine/internal/enginetypes"
)

// UpsertResult is what UpsertScreeningResult reports back so callers
// (the screening pipeline) know whether to emit screening-result-updated.
type UpsertResult struct {
	Result  *enginetypes.ScreeningResult
	Changed bool // false when the fingerprint was unchanged — no event should fire
}

// UpsertScreeningResult writes (or idempotently no-ops) one screened
// file. Idempotency key is file_path among non-deleted rows; the
// fingerprint comparison is what makes repeated scans of an untouched
// file produce Changed == false, per the fingerprint-idempotency
// invariant.
func (s *Store) UpsertScreeningResult(ctx context.Context, r *enginetypes.ScreeningResult) (*UpsertResult, error) {
	var out UpsertResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var existing enginetypes.ScreeningResult
		var createdTime sql.NullTime
		var categoryID, contentHash sql.NullString
		row := tx.QueryRowContext(ctx, `
			SELECT id, file_name, extension, size, created_time, modified_time, category_id, content_hash, status
			FROM screening_results WHERE file_path = ? AND status != 'deleted'`, r.FilePath)
		err := row.Scan(&existing.ID, &existing.FileName, &existing.Extension, &existing.Size,
			&createdTime, &existing.ModifiedTime, &categoryID, &contentHash, &existing.Status)

		switch {
		case err == sql.ErrNoRows:
			if r.ID == "" {
				r.ID = uuid.NewString()
			}
			if r.Status == "" {
				r.Status = enginetypes.ScreeningStatusNew
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO screening_results
					(id, file_path, file_name, extension, size, created_time, modified_time, category_id, content_hash, status)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.ID, r.FilePath, r.FileName, r.Extension, r.Size, r.CreatedTime, r.ModifiedTime,
				nullable(r.CategoryID), nullable(r.ContentHash), string(r.Status))
			if err != nil {
				return classifyErr("upsert_screening_result", err)
			}
			out = UpsertResult{Result: r, Changed: true}
			return nil

		case err != nil:
			return classifyErr("upsert_screening_result", err)

		default:
			existing.CategoryID, existing.ContentHash = categoryID.String, contentHash.String
			if createdTime.Valid {
				t := createdTime.Time
				existing.CreatedTime = &t
			}
			existingFP := enginetypes.Fingerprint{ContentHash: existing.ContentHash, ModifiedTime: existing.ModifiedTime}
			newFP := enginetypes.Fingerprint{ContentHash: r.ContentHash, ModifiedTime: r.ModifiedTime}
			if existingFP.Unchanged(newFP) {
				r.ID = existing.ID
				r.Status = existing.Status
				out = UpsertResult{Result: r, Changed: false}
				return nil
			}
			r.ID = existing.ID
			if r.Status == "" {
				r.Status = enginetypes.ScreeningStatusStale
			}
			_, err = tx.ExecContext(ctx, `
				UPDATE screening_results
				SET file_name = ?, extension = ?, size = ?, modified_time = ?, category_id = ?, content_hash = ?, status = ?
				WHERE id = ?`,
				r.FileName, r.Extension, r.Size, r.ModifiedTime, nullable(r.CategoryID), nullable(r.ContentHash),
				string(r.Status), r.ID)
			if err != nil {
				return classifyErr("upsert_screening_result", err)
			}
			out = UpsertResult{Result: r, Changed: true}
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkDeleted flags a screening result as deleted (soft delete, so
// historical tag weights stay intact) for a path no longer seen by
// the scanner.
func (s *Store) MarkDeleted(ctx context.Context, filePath string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE screening_results SET status = 'deleted' WHERE file_path = ? AND status != 'deleted'`, filePath)
		return classifyErr("mark_deleted", err)
	})
}

// SetScreeningStatus transitions one screening result's status (e.g.
// new -> tagged -> vectorized) in place.
func (s *Store) SetScreeningStatus(ctx context.Context, id string, status enginetypes.ScreeningStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE screening_results SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return classifyErr("set_screening_status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return enginetypes.NewStoreError("set_screening_status", enginetypes.ErrNotFound, nil)
	}
	return nil
}

// GetScreeningResult fetches one screening result by ID.
func (s *Store) GetScreeningResult(ctx context.Context, id string) (*enginetypes.ScreeningResult, error) {
	r := &enginetypes.ScreeningResult{}
	var createdTime sql.NullTime
	var categoryID, contentHash sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, file_path, file_name, extension, size, created_time, modified_time, category_id, content_hash, status
		FROM screening_results WHERE id = ?`, id).
		Scan(&r.ID, &r.FilePath, &r.FileName, &r.Extension, &r.Size, &createdTime, &r.ModifiedTime,
			&categoryID, &contentHash, &r.Status)
	if err != nil {
		return nil, classifyErr("get_screening_result", err)
	}
	r.CategoryID, r.ContentHash = categoryID.String, contentHash.String
	if createdTime.Valid {
		t := createdTime.Time
		r.CreatedTime = &t
	}
	return r, nil
}

// ListScreeningResults lists non-deleted screening results, optionally
// filtered by status.
func (s *Store) ListScreeningResults(ctx context.Context, status enginetypes.ScreeningStatus) ([]*enginetypes.ScreeningResult, error) {
	query := `SELECT id, file_path, file_name, extension, size, created_time, modified_time, category_id, content_hash, status
		FROM screening_results WHERE status != 'deleted'`
	args := []interface{}{}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyErr("list_screening_results", err)
	}
	defer rows.Close()

	var out []*enginetypes.ScreeningResult
	for rows.Next() {
		r := &enginetypes.ScreeningResult{}
		var createdTime sql.NullTime
		var categoryID, contentHash sql.NullString
		if err := rows.Scan(&r.ID, &r.FilePath, &r.FileName, &r.Extension, &r.Size, &createdTime, &r.ModifiedTime,
			&categoryID, &contentHash, &r.Status); err != nil {
			return nil, classifyErr("list_screening_results", err)
		}
		r.CategoryID, r.ContentHash = categoryID.String, contentHash.String
		if createdTime.Valid {
			t := createdTime.Time
			r.CreatedTime = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SearchFilter narrows ListScreeningResults/SearchScreeningResults by
// the query axes spec.md §6 lists for the screening HTTP endpoint: by
// category, time range, tag set, or path substring. Zero-value fields
// are not applied.
type SearchFilter struct {
	CategoryID   string
	ModifiedFrom time.Time
	ModifiedTo   time.Time
	PathContains string
	FileIDs      []string // pre-resolved from a tag-name filter, e.g. via FilesByTag
}

// SearchScreeningResults is the lexical half of hybrid retrieval
// (spec.md §4.9) and the backing query for the HTTP API's screening
// search endpoint: substring/prefix match over file_path and file_name
// plus category/time-range/tag-set narrowing, all AND-combined.
func (s *Store) SearchScreeningResults(ctx context.Context, f SearchFilter) ([]*enginetypes.ScreeningResult, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT id, file_path, file_name, extension, size, created_time, modified_time, category_id, content_hash, status
		FROM screening_results WHERE status != 'deleted'`)
	var args []interface{}

	if f.CategoryID != "" {
		query.WriteString(" AND category_id = ?")
		args = append(args, f.CategoryID)
	}
	if !f.ModifiedFrom.IsZero() {
		query.WriteString(" AND modified_time >= ?")
		args = append(args, f.ModifiedFrom)
	}
	if !f.ModifiedTo.IsZero() {
		query.WriteString(" AND modified_time <= ?")
		args = append(args, f.ModifiedTo)
	}
	if f.PathContains != "" {
		query.WriteString(" AND (file_path LIKE ? OR file_name LIKE ?)")
		like := "%" + f.PathContains + "%"
		args = append(args, like, like)
	}
	if len(f.FileIDs) > 0 {
		placeholders := make([]string, len(f.FileIDs))
		for i, id := range f.FileIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		query.WriteString(" AND id IN (" + strings.Join(placeholders, ",") + ")")
	}
	query.WriteString(" ORDER BY modified_time DESC")

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, classifyErr("search_screening_results", err)
	}
	defer rows.Close()

	var out []*enginetypes.ScreeningResult
	for rows.Next() {
		r := &enginetypes.ScreeningResult{}
		var createdTime sql.NullTime
		var categoryID, contentHash sql.NullString
		if err := rows.Scan(&r.ID, &r.FilePath, &r.FileName, &r.Extension, &r.Size, &createdTime, &r.ModifiedTime,
			&categoryID, &contentHash, &r.Status); err != nil {
			return nil, classifyErr("search_screening_results", err)
		}
		r.CategoryID, r.ContentHash = categoryID.String, contentHash.String
		if createdTime.Valid {
			t := createdTime.Time
			r.CreatedTime = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
