package enginetypes

import "time"

// Tier distinguishes large parent chunks from the smaller, embedded
// child chunks nested inside them.
type Tier string

const (
	TierParent Tier = "parent"
	TierChild  Tier = "child"
)

// Modality identifies what a chunk's embedding was computed over.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
)

// VectorChunk is one node of the hierarchical chunking tree. Parents
// have ParentID == "" (stored as null); children reference their
// parent by ID within the same file.
type VectorChunk struct {
	ID         string    `json:"id"`
	FilePath   string    `json:"file_path"`
	Tier       Tier      `json:"tier"`
	ParentID   string    `json:"parent_id,omitempty"`
	Ordinal    int       `json:"ordinal"`
	Text       string    `json:"text,omitempty"`
	Modality   Modality  `json:"modality"`
	Embedding  []float32 `json:"embedding"`
	TokenCount int       `json:"token_count"`
}

// TaskStatus is the lifecycle state of a VectorizationTask.
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Stage is the current step within a processing VectorizationTask.
type Stage string

const (
	StageQueued     Stage = "queued"
	StageParsing    Stage = "parsing"
	StageChunking   Stage = "chunking"
	StageVectorizing Stage = "vectorizing"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
)

// VectorizationTask tracks progress of turning one file into chunks
// and embeddings. At most one non-terminal task exists per file.
type VectorizationTask struct {
	ID          string     `json:"id"`
	FilePath    string     `json:"file_path"`
	Status      TaskStatus `json:"status"`
	Stage       Stage      `json:"stage"`
	Progress    int        `json:"progress"` // 0-100
	ParentCount int        `json:"parent_count,omitempty"`
	ChildCount  int        `json:"child_count,omitempty"`
	Error       string     `json:"error,omitempty"`
	HelpURL     string     `json:"help_url,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsTerminal reports whether the task has reached a final state.
func (t *VectorizationTask) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}
