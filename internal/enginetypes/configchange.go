package enginetypes

import "time"

// ConfigChangeKind names the filesystem-topology mutation a
// ConfigChange represents.
type ConfigChangeKind string

const (
	ConfigChangeAddWhitelist ConfigChangeKind = "add_white"
	ConfigChangeAddBlacklist ConfigChangeKind = "add_black"
	ConfigChangeDeleteFolder ConfigChangeKind = "delete_folder"
	ConfigChangeToggleStatus ConfigChangeKind = "toggle_status"
)

// ConfigChange is one queued mutation awaiting the current scan's
// completion before it is applied, per the ScanPending/ScanComplete
// state machine.
type ConfigChange struct {
	ID        string           `json:"id"`
	Kind      ConfigChangeKind `json:"kind"`
	FolderID  string           `json:"folder_id,omitempty"`
	Path      string           `json:"path,omitempty"`
	Enabled   bool             `json:"enabled,omitempty"`
	QueuedAt  time.Time        `json:"queued_at"`
}

// ScanState is the two-state machine gating ConfigChange application.
type ScanState string

const (
	ScanPending  ScanState = "scan_pending"
	ScanComplete ScanState = "scan_complete"
)
