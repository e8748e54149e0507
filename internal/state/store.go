package state

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"

	"github.com/Iron-Ham/epicrun/internal/errors"
)

// SchemaVersion is the version of the state document this build reads and writes.
const SchemaVersion = 1

const stateFileSuffix = ".state.json"

// Store persists epic snapshots.
type Store interface {
	// Load returns the last saved snapshot. It fails with ErrStateNotFound
	// when nothing was saved yet.
	Load(ctx context.Context) (*Epic, error)

	// Save durably replaces the stored snapshot with a copy of epic.
	Save(ctx context.Context, epic *Epic) error

	// Exists reports whether a snapshot was saved.
	Exists() bool
}

// StatePath returns the state document path for an epic inside dir.
func StatePath(dir, epicID string) string {
	return filepath.Join(dir, epicID+stateFileSuffix)
}

// FileStore stores the epic as one JSON document. Every save writes a temp
// file next to the target and renames it into place, so readers observe
// either the previous document or the new one.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore backed by the document at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the document path.
func (s *FileStore) Path() string {
	return s.path
}

// Exists reports whether the document exists.
func (s *FileStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Save writes a snapshot of epic.
func (s *FileStore) Save(ctx context.Context, epic *Epic) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := epic.Clone()
	snapshot.SchemaVersion = SchemaVersion

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal epic state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

// Load reads and validates the document.
func (s *FileStore) Load(ctx context.Context) (*Epic, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewStateError("no state document", errors.ErrStateNotFound).WithPath(s.path)
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	return Decode(data, s.path)
}

// Decode parses a state document. path is only used for error context.
func Decode(data []byte, path string) (*Epic, error) {
	var header struct {
		SchemaVersion *int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, errors.NewStateError(err.Error(), errors.ErrStateCorrupted).WithPath(path)
	}
	if header.SchemaVersion == nil {
		return nil, errors.NewStateError("missing schema_version", errors.ErrSchemaMismatch).WithPath(path)
	}
	if *header.SchemaVersion != SchemaVersion {
		msg := fmt.Sprintf("schema version %d, want %d", *header.SchemaVersion, SchemaVersion)
		return nil, errors.NewStateError(msg, errors.ErrSchemaMismatch).WithPath(path)
	}

	var epic Epic
	if err := json.Unmarshal(data, &epic); err != nil {
		return nil, errors.NewStateError(err.Error(), errors.ErrStateCorrupted).WithPath(path)
	}
	if err := epic.check(); err != nil {
		return nil, errors.NewStateError(err.Error(), errors.ErrStateCorrupted).WithPath(path)
	}
	return &epic, nil
}

// check verifies the structural invariants a decoded document must hold.
func (e *Epic) check() error {
	if e.ID == "" {
		return fmt.Errorf("missing epic_id")
	}
	if e.State == "" {
		return fmt.Errorf("missing epic state")
	}
	if e.Tickets == nil {
		e.Tickets = make(map[string]*Ticket)
	}
	if len(e.TicketOrder) != len(e.Tickets) {
		return fmt.Errorf("ticket_order lists %d tickets, document has %d", len(e.TicketOrder), len(e.Tickets))
	}
	for _, id := range e.TicketOrder {
		t, ok := e.Tickets[id]
		if !ok || t == nil {
			return fmt.Errorf("ticket %q missing", id)
		}
		if t.ID != id {
			return fmt.Errorf("ticket key %q holds id %q", id, t.ID)
		}
		if t.State == "" {
			return fmt.Errorf("ticket %q has no state", id)
		}
		if t.State == TicketCompleted && t.FinalCommit() == "" {
			return fmt.Errorf("completed ticket %q has no final commit", id)
		}
	}
	return nil
}
