package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"knowledge-engine/internal/enginetypes"
)

// AddFolder inserts a new monitored folder (whitelist or blacklist root).
func (s *Store) AddFolder(ctx context.Context, f *enginetypes.MonitoredFolder) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	f.CreatedAt, f.UpdatedAt = now, now
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO monitored_folders
				(id, path, alias, is_blacklist, parent_id, is_common_folder, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, f.Path, f.Alias, f.IsBlacklist, nullable(f.ParentID), f.IsCommonFolder, f.CreatedAt, f.UpdatedAt)
		if err != nil {
			return classifyErr("add_folder", err)
		}
		return nil
	})
}

// DeleteFolder removes a monitored folder and cascades to any children
// recorded with it as parent_id, per the blacklist-ancestry invariant.
// Within the same transaction it also marks every non-deleted
// ScreeningResult under each removed path as deleted, so no orphan
// screening rows survive the folder — spec.md §4.1's "cascading folder
// delete... single transaction" combined with §4.3 part (b): "removes
// the row; emits a targeted screening-result-stale covering file_path
// STARTS WITH folder_path for the screening pipeline to prune." The
// pruning itself happens here, transactionally; the returned paths let
// the caller publish that targeted event once the transaction commits.
func (s *Store) DeleteFolder(ctx context.Context, id string) ([]string, error) {
	var paths []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT path FROM monitored_folders WHERE id = ? OR parent_id = ?`, id, id)
		if err != nil {
			return classifyErr("delete_folder", err)
		}
		for rows.Next() {
			var p string
			if err := rows.Scan(&p); err != nil {
				rows.Close()
				return classifyErr("delete_folder", err)
			}
			paths = append(paths, p)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return classifyErr("delete_folder", err)
		}
		rows.Close()

		if _, err := tx.ExecContext(ctx, `DELETE FROM monitored_folders WHERE id = ? OR parent_id = ?`, id, id); err != nil {
			return classifyErr("delete_folder", err)
		}

		for _, p := range paths {
			if _, err := tx.ExecContext(ctx, `
				UPDATE screening_results SET status = 'deleted'
				WHERE status != 'deleted' AND (file_path = ? OR file_path LIKE ?)`,
				p, p+"/%"); err != nil {
				return classifyErr("delete_folder", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// ToggleFolder flips whether a folder is actively monitored. The engine
// models "disabled" as a blacklist row so scanning and pruning share
// one ancestry check; ToggleFolder simply flips IsBlacklist in place.
func (s *Store) ToggleFolder(ctx context.Context, id string, blacklist bool) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE monitored_folders SET is_blacklist = ?, updated_at = ? WHERE id = ?`,
			blacklist, time.Now().UTC(), id)
		if err != nil {
			return classifyErr("toggle_folder", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return enginetypes.NewStoreError("toggle_folder", enginetypes.ErrNotFound, nil)
		}
		return nil
	})
}

// ListFolders returns all monitored folders, whitelist and blacklist alike.
func (s *Store) ListFolders(ctx context.Context) ([]*enginetypes.MonitoredFolder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, alias, is_blacklist, parent_id, is_common_folder, created_at, updated_at
		FROM monitored_folders ORDER BY path`)
	if err != nil {
		return nil, classifyErr("list_folders", err)
	}
	defer rows.Close()

	var out []*enginetypes.MonitoredFolder
	for rows.Next() {
		f := &enginetypes.MonitoredFolder{}
		var alias, parentID sql.NullString
		if err := rows.Scan(&f.ID, &f.Path, &alias, &f.IsBlacklist, &parentID, &f.IsCommonFolder, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, classifyErr("list_folders", err)
		}
		f.Alias = alias.String
		f.ParentID = parentID.String
		out = append(out, f)
	}
	return out, rows.Err()
}

// Blacklisted reports whether path falls under any blacklist root,
// including inherited blacklist-child folders (ancestry check).
func (s *Store) Blacklisted(ctx context.Context, path string) (bool, error) {
	folders, err := s.ListFolders(ctx)
	if err != nil {
		return false, err
	}
	for _, f := range folders {
		if f.IsBlacklist && isUnder(f.Path, path) {
			return true, nil
		}
	}
	return false, nil
}

// isUnder reports whether candidate is root itself or nested under it.
func isUnder(root, candidate string) bool {
	if root == candidate {
		return true
	}
	rl := len(root)
	return len(candidate) > rl && candidate[:rl] == root && (candidate[rl] == '/' || candidate[rl] == '\\')
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
