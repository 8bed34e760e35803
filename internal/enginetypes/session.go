package enginetypes

import "time"

// SessionScenario is the coarse mode a Session is operating in.
type SessionScenario string

const (
	ScenarioNormal    SessionScenario = "normal"
	ScenarioCoReading SessionScenario = "co_reading"
)

// Session is a host-assigned conversational context: a set of pinned
// files, a tool selection, and an optional co-reading focus.
type Session struct {
	ID         string            `json:"id"`
	ScenarioID SessionScenario   `json:"scenario_id"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// PDFPath returns the co-reading focus path, or "" when not co-reading.
func (s *Session) PDFPath() string {
	if s.ScenarioID != ScenarioCoReading {
		return ""
	}
	return s.Metadata["pdf_path"]
}

// EnterCoReading atomically moves the session into co-reading focused
// on pdfPath. Callers must already hold whatever lock guards s.
func (s *Session) EnterCoReading(pdfPath string) {
	if s.Metadata == nil {
		s.Metadata = make(map[string]string)
	}
	s.ScenarioID = ScenarioCoReading
	s.Metadata["pdf_path"] = pdfPath
}

// ExitCoReading atomically returns the session to normal scenario and
// clears the co-reading focus.
func (s *Session) ExitCoReading() {
	s.ScenarioID = ScenarioNormal
	delete(s.Metadata, "pdf_path")
}

// PinnedFile is one file a session has pinned into its working set,
// restricting retrieval to that set when non-empty.
type PinnedFile struct {
	SessionID string    `json:"session_id"`
	FilePath  string    `json:"file_path"`
	PinnedAt  time.Time `json:"pinned_at"`
}

// SessionToolSelection records which capability-backed tools a session
// has enabled, keyed by tool name.
type SessionToolSelection struct {
	SessionID string          `json:"session_id"`
	ToolName  string          `json:"tool_name"`
	Enabled   bool            `json:"enabled"`
	Updated   time.Time       `json:"updated_at"`
}
