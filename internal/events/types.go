// Package events is the engine's internal pub/sub bus: screening,
// tagging, vectorization, and capability-routing subsystems publish
// named events here; the bridge package subscribes to every event
// name and forwards every delivered event to the host over stdout.
package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Well-known event names. Subsystems publish these; the bridge and
// any other internal subscriber (e.g. the tag-cloud debouncer) match
// on them by exact name. Names are bit-exact with spec.md §6's event
// catalog since the host matches on these strings literally.
const (
	// Lifecycle.
	APIReady = "api-ready"
	APILog   = "api-log"
	APIError = "api-error"

	// Config/state.
	TagsUpdated            = "tags-updated"
	DatabaseUpdated        = "database-updated"
	SystemStatus           = "system-status"
	ScreeningResultUpdated = "screening-result-updated"

	// Pipeline progress.
	FileTaggingProgress  = "file-tagging-progress"
	MultivectorStarted   = "multivector-started"
	MultivectorProgress  = "multivector-progress"
	MultivectorCompleted = "multivector-completed"
	MultivectorFailed    = "multivector-failed"

	// Model lifecycle.
	ModelDownloadProgress  = "model-download-progress"
	ModelDownloadCompleted = "model-download-completed"
	ModelDownloadFailed    = "model-download-failed"
	ModelStatusChanged     = "model-status-changed"
	ModelValidationFailed  = "model-validation-failed"
	TaggingModelMissing    = "tagging-model-missing"

	// RAG.
	RAGProgress        = "rag-progress"
	RAGRetrievalResult = "rag-retrieval-result"
	RAGError           = "rag-error"

	// Tool channel.
	ToolCallRequest  = "tool-call-request"
	ToolCallResponse = "tool-call-response"
	ToolCallError    = "tool-call-error"

	// OAuth relay.
	OAuthCallbackSuccess = "oauth-callback-success"
	OAuthCallbackError   = "oauth-callback-error"

	// Internal-only, not part of the host-facing §6 catalog: consumed
	// by in-engine subscribers (scanner fallback, config queue) rather
	// than forwarded verbatim to the UI.
	ScanComplete       = "scan-complete"
	ConfigQueueDrained = "config-queue-drained"

	// ScreeningResultStale is named explicitly in spec.md §4.3 ("emits
	// a targeted screening-result-stale covering file_path STARTS WITH
	// folder_path for the screening pipeline to prune"), fired on
	// folder deletion. It is outside §6's bit-exact catalog but still
	// crosses the bridge like any other event, since the host benefits
	// from knowing which paths just went stale.
	ScreeningResultStale = "screening-result-stale"
)

// Event is one occurrence published on the bus. Payload carries the
// event-specific data (a ScreeningResult, a VectorizationTask, a tag
// cloud snapshot, ...) and is serialized as-is when the event crosses
// the bridge to the host.
type Event struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Payload   interface{} `json:"payload"`
	SessionID string      `json:"session_id,omitempty"`
	FilePath  string      `json:"file_path,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEvent stamps a fresh ID and timestamp.
func NewEvent(name string, payload interface{}) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Name:      name,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON renders the event as the single JSON line the bridge writes
// to the host's stdout-framed channel.
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventFilter narrows a subscription to a subset of published events.
// A nil or zero-value filter matches everything.
type EventFilter struct {
	Names      []string
	SessionIDs []string
	FilePaths  []string
}

// Matches reports whether e satisfies f. Each populated field is an
// OR-set; multiple populated fields combine with AND.
func (f *EventFilter) Matches(e *Event) bool {
	if f == nil {
		return true
	}
	if len(f.Names) > 0 && !containsFold(f.Names, e.Name) {
		return false
	}
	if len(f.SessionIDs) > 0 && !containsFold(f.SessionIDs, e.SessionID) {
		return false
	}
	if len(f.FilePaths) > 0 && !containsFold(f.FilePaths, e.FilePath) {
		return false
	}
	return true
}

func containsFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
