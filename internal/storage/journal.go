package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pulseboard/internal/models"
)

const defaultJournalCap = 2048

// journalFile is the on-disk shape of the journal.
type journalFile struct {
	Events      []models.Event       `json:"events"`
	Transitions []models.StateChange `json:"transitions"`
}

// Journal persists a bounded history of upstream events and link state
// transitions to disk.
type Journal struct {
	mu          sync.RWMutex
	path        string
	maxEntries  int
	events      []models.Event
	transitions []models.StateChange
}

// NewJournal initialises the journal and loads existing history if present.
// A non-positive cap falls back to the default.
func NewJournal(path string, maxEntries int) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure data directory: %w", err)
	}
	if maxEntries <= 0 {
		maxEntries = defaultJournalCap
	}

	j := &Journal{path: path, maxEntries: maxEntries}
	if err := j.load(); err != nil {
		return nil, err
	}
	return j, nil
}

// AppendEvent records an inbound event, trimming the oldest beyond the cap.
func (j *Journal) AppendEvent(ev models.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.events = append(j.events, ev)
	if len(j.events) > j.maxEntries {
		j.events = j.events[len(j.events)-j.maxEntries:]
	}
	return j.persistLocked()
}

// AppendTransition records a link state change, trimming beyond the cap.
func (j *Journal) AppendTransition(change models.StateChange) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.transitions = append(j.transitions, change)
	if len(j.transitions) > j.maxEntries {
		j.transitions = j.transitions[len(j.transitions)-j.maxEntries:]
	}
	return j.persistLocked()
}

// EventsN returns up to limit most recent events, oldest first.
func (j *Journal) EventsN(limit int) []models.Event {
	j.mu.RLock()
	defer j.mu.RUnlock()

	start := 0
	if limit > 0 && len(j.events) > limit {
		start = len(j.events) - limit
	}
	out := make([]models.Event, len(j.events)-start)
	copy(out, j.events[start:])
	return out
}

// TransitionsN returns up to limit most recent transitions, oldest first.
func (j *Journal) TransitionsN(limit int) []models.StateChange {
	j.mu.RLock()
	defer j.mu.RUnlock()

	start := 0
	if limit > 0 && len(j.transitions) > limit {
		start = len(j.transitions) - limit
	}
	out := make([]models.StateChange, len(j.transitions)-start)
	copy(out, j.transitions[start:])
	return out
}

func (j *Journal) load() error {
	data, err := os.ReadFile(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read journal: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var file journalFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse journal: %w", err)
	}
	j.events = file.Events
	j.transitions = file.Transitions
	return nil
}

func (j *Journal) persistLocked() error {
	bytes, err := json.MarshalIndent(journalFile{
		Events:      j.events,
		Transitions: j.transitions,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode journal: %w", err)
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", j.path, time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, bytes, 0o644); err != nil {
		return fmt.Errorf("write temp journal: %w", err)
	}
	if err := os.Rename(tmpPath, j.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace journal file: %w", err)
	}
	return nil
}
