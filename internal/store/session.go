package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"knowledge-engine/internal/enginetypes"
)

// CreateSession persists a new session in the Normal scenario.
func (s *Store) CreateSession(ctx context.Context) (*enginetypes.Session, error) {
	now := time.Now().UTC()
	sess := &enginetypes.Session{
		ID:         uuid.NewString(),
		ScenarioID: enginetypes.ScenarioNormal,
		Metadata:   map[string]string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	meta, _ := json.Marshal(sess.Metadata)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, scenario_id, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, string(sess.ScenarioID), string(meta), sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return nil, classifyErr("create_session", err)
	}
	return sess, nil
}

// GetSession loads a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*enginetypes.Session, error) {
	sess := &enginetypes.Session{ID: id}
	var meta string
	err := s.db.QueryRowContext(ctx, `SELECT scenario_id, metadata, created_at, updated_at FROM sessions WHERE id = ?`, id).
		Scan(&sess.ScenarioID, &meta, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, classifyErr("get_session", err)
	}
	sess.Metadata = map[string]string{}
	_ = json.Unmarshal([]byte(meta), &sess.Metadata)
	return sess, nil
}

// SaveSession persists an in-memory session's scenario/metadata back
// to the store — used after EnterCoReading/ExitCoReading transitions.
func (s *Store) SaveSession(ctx context.Context, sess *enginetypes.Session) error {
	meta, _ := json.Marshal(sess.Metadata)
	sess.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET scenario_id = ?, metadata = ?, updated_at = ? WHERE id = ?`,
		string(sess.ScenarioID), string(meta), sess.UpdatedAt, sess.ID)
	if err != nil {
		return classifyErr("save_session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return enginetypes.NewStoreError("save_session", enginetypes.ErrNotFound, nil)
	}
	return nil
}

// PinFile adds filePath to sessionID's pinned set.
func (s *Store) PinFile(ctx context.Context, sessionID, filePath string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO pinned_files (session_id, file_path, pinned_at) VALUES (?, ?, ?)`,
		sessionID, filePath, time.Now().UTC())
	return classifyErr("pin_file", err)
}

// UnpinFile removes filePath from sessionID's pinned set.
func (s *Store) UnpinFile(ctx context.Context, sessionID, filePath string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pinned_files WHERE session_id = ? AND file_path = ?`, sessionID, filePath)
	return classifyErr("unpin_file", err)
}

// PinnedFiles lists the files pinned to sessionID.
func (s *Store) PinnedFiles(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT file_path FROM pinned_files WHERE session_id = ? ORDER BY pinned_at`, sessionID)
	if err != nil {
		return nil, classifyErr("pinned_files", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, classifyErr("pinned_files", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetToolSelection enables or disables toolName for sessionID.
func (s *Store) SetToolSelection(ctx context.Context, sessionID, toolName string, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_tool_selections (session_id, tool_name, enabled, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, tool_name) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at`,
		sessionID, toolName, enabled, time.Now().UTC())
	return classifyErr("set_tool_selection", err)
}

// ToolSelections lists the enabled tools for sessionID.
func (s *Store) ToolSelections(ctx context.Context, sessionID string) ([]*enginetypes.SessionToolSelection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, tool_name, enabled, updated_at FROM session_tool_selections WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, classifyErr("tool_selections", err)
	}
	defer rows.Close()

	var out []*enginetypes.SessionToolSelection
	for rows.Next() {
		t := &enginetypes.SessionToolSelection{}
		if err := rows.Scan(&t.SessionID, &t.ToolName, &t.Enabled, &t.Updated); err != nil {
			return nil, classifyErr("tool_selections", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
