package store

import "context"

// OrphanedFiles returns file paths that have vectorization tasks but
// whose screening result is gone or soft-deleted, grounded on the teacher's
// schema_validator.go validation-pass shape (adapted to this schema).
// Callers pass the result to the vector store so chunks can be pruned
// alongside the relational rows.
func (s *Store) OrphanedFiles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT v.file_path FROM vectorization_tasks v
		LEFT JOIN screening_results sr ON sr.file_path = v.file_path AND sr.status != 'deleted'
		WHERE sr.id IS NULL`)
	if err != nil {
		return nil, classifyErr("orphaned_files", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, classifyErr("orphaned_files", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
