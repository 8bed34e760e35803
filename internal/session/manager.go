// Package session is the per-session pinned-file, tool-selection, and
// co-reading state coordinator (spec.md §4.10). Session records persist
// through Store; this package layers the Normal/CoReading state
// machine and an in-memory cache on top, grounded on the teacher's
// Manager (map + RWMutex, access helpers) narrowed to one concern.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"knowledge-engine/internal/enginetypes"
	"knowledge-engine/internal/events"
	"knowledge-engine/internal/logging"
)

// Persister is the subset of store.Store the coordinator depends on.
type Persister interface {
	CreateSession(ctx context.Context) (*enginetypes.Session, error)
	GetSession(ctx context.Context, id string) (*enginetypes.Session, error)
	SaveSession(ctx context.Context, sess *enginetypes.Session) error
	PinFile(ctx context.Context, sessionID, filePath string) error
	UnpinFile(ctx context.Context, sessionID, filePath string) error
	PinnedFiles(ctx context.Context, sessionID string) ([]string, error)
	SetToolSelection(ctx context.Context, sessionID, toolName string, enabled bool) error
	ToolSelections(ctx context.Context, sessionID string) ([]*enginetypes.SessionToolSelection, error)
}

// TaskLookup resolves a file's vectorization status for the co-reading
// precondition check.
type TaskLookup interface {
	LatestTaskForFile(ctx context.Context, filePath string) (*enginetypes.VectorizationTask, error)
}

// ModalityLookup resolves a file's chunk modalities for the co-reading
// precondition check.
type ModalityLookup interface {
	FileModalities(ctx context.Context, filePath string) (map[enginetypes.Modality]bool, error)
}

// Publisher is the subset of the event bus the coordinator publishes
// through.
type Publisher interface {
	Publish(e *events.Event) error
}

// RejectReason is a precise, stable reason code surfaced to the host
// when a co-reading transition is rejected (spec.md §8 scenario 5:
// "rejects with reason not_ready").
type RejectReason string

const (
	ReasonNotReady            RejectReason = "not_ready"
	ReasonUnsupportedModality RejectReason = "unsupported_modality"
	ReasonNotFound            RejectReason = "not_found"
)

// RejectedError reports why a co-reading transition did not happen.
// Session state is left unchanged.
type RejectedError struct {
	Reason RejectReason
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("session: co-reading transition rejected: %s", e.Reason)
}

// Coordinator owns the in-memory session cache fronting Persister,
// grounded on the teacher's Manager (map + RWMutex) but replacing its
// project/session access-level semantics with pinned files, tool
// selection, and the Normal/CoReading scenario machine.
type Coordinator struct {
	persist  Persister
	tasks    TaskLookup
	modality ModalityLookup
	bus      Publisher
	logger   logging.Logger

	mu       sync.RWMutex
	sessions map[string]*enginetypes.Session
}

// New constructs a Coordinator. bus may be nil in tests that don't
// care about event emission.
func New(persist Persister, tasks TaskLookup, modality ModalityLookup, bus Publisher, logger logging.Logger) *Coordinator {
	return &Coordinator{
		persist:  persist,
		tasks:    tasks,
		modality: modality,
		bus:      bus,
		logger:   logger,
		sessions: make(map[string]*enginetypes.Session),
	}
}

// Create starts a new session in the Normal scenario.
func (c *Coordinator) Create(ctx context.Context) (*enginetypes.Session, error) {
	sess, err := c.persist.CreateSession(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.sessions[sess.ID] = sess
	c.mu.Unlock()
	return sess, nil
}

// Get returns a session, loading it from the store on cache miss.
func (c *Coordinator) Get(ctx context.Context, id string) (*enginetypes.Session, error) {
	c.mu.RLock()
	sess, ok := c.sessions[id]
	c.mu.RUnlock()
	if ok {
		return sess, nil
	}

	sess, err := c.persist.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.sessions[id] = sess
	c.mu.Unlock()
	return sess, nil
}

// PinFile adds filePath to sessionID's pinned set.
func (c *Coordinator) PinFile(ctx context.Context, sessionID, filePath string) error {
	if _, err := c.Get(ctx, sessionID); err != nil {
		return err
	}
	if err := c.persist.PinFile(ctx, sessionID, filePath); err != nil {
		return err
	}
	c.publishDatabaseUpdated(sessionID, "pinned_files")
	return nil
}

// UnpinFile removes filePath from sessionID's pinned set. Unpinning the
// active co-reading target does not itself exit co-reading mode; the
// host issues an explicit ExitCoReading for that.
func (c *Coordinator) UnpinFile(ctx context.Context, sessionID, filePath string) error {
	if _, err := c.Get(ctx, sessionID); err != nil {
		return err
	}
	if err := c.persist.UnpinFile(ctx, sessionID, filePath); err != nil {
		return err
	}
	c.publishDatabaseUpdated(sessionID, "pinned_files")
	return nil
}

// PinnedFiles lists sessionID's pinned-file working set.
func (c *Coordinator) PinnedFiles(ctx context.Context, sessionID string) ([]string, error) {
	return c.persist.PinnedFiles(ctx, sessionID)
}

// SetToolSelection enables or disables a tool for sessionID.
func (c *Coordinator) SetToolSelection(ctx context.Context, sessionID, toolName string, enabled bool) error {
	if _, err := c.Get(ctx, sessionID); err != nil {
		return err
	}
	return c.persist.SetToolSelection(ctx, sessionID, toolName, enabled)
}

// ToolSelections lists sessionID's tool selections.
func (c *Coordinator) ToolSelections(ctx context.Context, sessionID string) ([]*enginetypes.SessionToolSelection, error) {
	return c.persist.ToolSelections(ctx, sessionID)
}

// EnterCoReading atomically moves sessionID into co-reading focused on
// pdfPath. The transition requires pdfPath to carry a non-image-only
// chunk set and a completed vectorization task; otherwise it is
// rejected with a precise RejectReason and the session is left
// unchanged (spec.md §4.10, §8 scenario 5).
func (c *Coordinator) EnterCoReading(ctx context.Context, sessionID, pdfPath string) (*enginetypes.Session, error) {
	sess, err := c.Get(ctx, sessionID)
	if err != nil {
		return nil, &RejectedError{Reason: ReasonNotFound}
	}

	task, err := c.tasks.LatestTaskForFile(ctx, pdfPath)
	if err != nil || task == nil || task.Status != enginetypes.TaskStatusCompleted {
		return nil, &RejectedError{Reason: ReasonNotReady}
	}

	modalities, err := c.modality.FileModalities(ctx, pdfPath)
	if err != nil {
		return nil, &RejectedError{Reason: ReasonNotReady}
	}
	if !modalities[enginetypes.ModalityText] {
		return nil, &RejectedError{Reason: ReasonUnsupportedModality}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	sess.EnterCoReading(pdfPath)
	if err := c.persist.SaveSession(ctx, sess); err != nil {
		sess.ExitCoReading()
		return nil, err
	}
	c.sessions[sessionID] = sess
	c.publishSystemStatus(sessionID, "co_reading")
	return sess, nil
}

// ExitCoReading returns sessionID to the Normal scenario. Safe to call
// on a session that is already Normal.
func (c *Coordinator) ExitCoReading(ctx context.Context, sessionID string) (*enginetypes.Session, error) {
	sess, err := c.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	sess.ExitCoReading()
	if err := c.persist.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	c.sessions[sessionID] = sess
	c.publishSystemStatus(sessionID, "normal")
	return sess, nil
}

// Evict drops sessionID from the in-memory cache without touching the
// store — used when an external signal reports the co-read target is
// gone (spec.md §4.10 "exit... triggered by... an external signal").
func (c *Coordinator) Evict(sessionID string) {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
}

func (c *Coordinator) publishSystemStatus(sessionID, scenario string) {
	if c.bus == nil {
		return
	}
	e := events.NewEvent(events.SystemStatus, map[string]string{"scenario": scenario})
	e.SessionID = sessionID
	if err := c.bus.Publish(e); err != nil && c.logger != nil {
		c.logger.Warn("publish system-status failed", "error", err)
	}
}

func (c *Coordinator) publishDatabaseUpdated(sessionID, table string) {
	if c.bus == nil {
		return
	}
	e := events.NewEvent(events.DatabaseUpdated, map[string]interface{}{"table": table, "at": time.Now().UTC()})
	e.SessionID = sessionID
	if err := c.bus.Publish(e); err != nil && c.logger != nil {
		c.logger.Warn("publish database-updated failed", "error", err)
	}
}
