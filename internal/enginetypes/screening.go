package enginetypes

import "time"

// ScreeningStatus tracks a ScreeningResult through the pipeline.
type ScreeningStatus string

const (
	ScreeningStatusNew        ScreeningStatus = "new"
	ScreeningStatusTagged     ScreeningStatus = "tagged"
	ScreeningStatusVectorized ScreeningStatus = "vectorized"
	ScreeningStatusStale      ScreeningStatus = "stale"
	ScreeningStatusDeleted    ScreeningStatus = "deleted"
)

// ScreeningResult is the coarse, metadata-level record the screening
// pipeline writes for every included candidate file.
type ScreeningResult struct {
	ID           string          `json:"id"`
	FilePath     string          `json:"file_path"` // unique among non-deleted rows
	FileName     string          `json:"file_name"`
	Extension    string          `json:"extension,omitempty"`
	Size         int64           `json:"size"`
	CreatedTime  *time.Time      `json:"created_time,omitempty"`
	ModifiedTime time.Time       `json:"modified_time"`
	CategoryID   string          `json:"category_id,omitempty"`
	ContentHash  string          `json:"content_hash,omitempty"`
	Status       ScreeningStatus `json:"status"`
}

// Fingerprint is the (content_hash, modified_time) pair used to decide
// whether a file needs reprocessing.
type Fingerprint struct {
	ContentHash  string
	ModifiedTime time.Time
}

// Unchanged reports whether two fingerprints describe the same content
// revision. A missing content hash on either side means "not yet
// computed" and is never considered equal.
func (f Fingerprint) Unchanged(other Fingerprint) bool {
	if f.ContentHash == "" || other.ContentHash == "" {
		return false
	}
	return f.ContentHash == other.ContentHash && f.ModifiedTime.Equal(other.ModifiedTime)
}

// TagType distinguishes deterministic system tags from LLM-derived ones.
type TagType string

const (
	TagTypeSystem TagType = "SYSTEM"
	TagTypeLLM    TagType = "LLM"
)

// Tag is a named label with a usage-count weight.
type Tag struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Type   TagType `json:"type"`
	Weight int64   `json:"weight"`
}

// FileTag is the many-to-many join between screened files and tags.
type FileTag struct {
	FileID string `json:"file_id"`
	TagID  string `json:"tag_id"`
}
