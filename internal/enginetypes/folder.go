// Package enginetypes holds the domain entities shared across the
// engine's subsystems: monitored folders, screening results, tags,
// vector chunks, sessions, capability assignments and config changes.
package enginetypes

import "time"

// MonitoredFolder is a whitelist or blacklist root the scanner walks
// or prunes.
type MonitoredFolder struct {
	ID             string    `json:"id"`
	Path           string    `json:"path"` // absolute, canonical
	Alias          string    `json:"alias,omitempty"`
	IsBlacklist    bool      `json:"is_blacklist"`
	ParentID       string    `json:"parent_id,omitempty"`
	IsCommonFolder bool      `json:"is_common_folder"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// FileCategory groups files by kind (documents, images, code, ...).
type FileCategory struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon,omitempty"`
	Description string `json:"description,omitempty"`
}

// Priority breaks ties between competing rules; higher wins.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// rank gives Priority a total order for tie-break comparisons.
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// Less reports whether p is strictly lower priority than other.
func (p Priority) Less(other Priority) bool {
	return p.rank() < other.rank()
}

// ExtensionMapping binds a file extension to exactly one category.
type ExtensionMapping struct {
	ID         string   `json:"id"`
	Extension  string   `json:"extension"` // lowercase, no dot
	CategoryID string   `json:"category_id"`
	Priority   Priority `json:"priority"`
	CreatedAt  time.Time `json:"created_at"`
}

// RuleType names what a FilterRule matches against.
type RuleType string

const (
	RuleTypeExtension RuleType = "extension"
	RuleTypeFilename  RuleType = "filename"
	RuleTypePath      RuleType = "path"
	RuleTypeSize      RuleType = "size"
)

// PatternType names how FilterRule.Pattern is interpreted.
type PatternType string

const (
	PatternTypeRegex PatternType = "regex"
	PatternTypeGlob  PatternType = "glob"
	PatternTypeExact PatternType = "exact"
)

// RuleAction is the effect a matching FilterRule has on a candidate.
type RuleAction string

const (
	ActionInclude RuleAction = "include"
	ActionExclude RuleAction = "exclude"
)

// FilterRule includes or excludes candidates by extension, filename,
// path or size pattern. System rules are immutable in action/pattern.
type FilterRule struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	RuleType   RuleType    `json:"rule_type"`
	Pattern    string      `json:"pattern"`
	PatternType PatternType `json:"pattern_type"`
	Action     RuleAction  `json:"action"`
	Priority   Priority    `json:"priority"`
	Enabled    bool        `json:"enabled"`
	IsSystem   bool        `json:"is_system"`
	CategoryID string      `json:"category_id,omitempty"`
}

// BundleExtension marks a directory-name suffix that must be surfaced
// as a single opaque file instead of being descended into.
type BundleExtension struct {
	ID        string `json:"id"`
	Extension string `json:"extension"`
	IsActive  bool   `json:"is_active"`
}
