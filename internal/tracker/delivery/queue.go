package delivery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/editwatch/session-server-go/internal/model"
)

// DiskQueue persists undeliverable events across restarts. Writes go
// through a temp file and an atomic rename, so a crash mid-write
// leaves the previous queue intact rather than a torn file.
type DiskQueue struct {
	path string

	mu     sync.Mutex
	events []model.TrackerEvent
}

func NewDiskQueue(path string) (*DiskQueue, error) {
	q := &DiskQueue{path: path}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *DiskQueue) load() error {
	data, err := os.ReadFile(q.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read event queue: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &q.events); err != nil {
		return fmt.Errorf("parse event queue: %w", err)
	}
	return nil
}

func (q *DiskQueue) Append(ev model.TrackerEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.events = append(q.events, ev)
	return q.persist()
}

// TakeAll removes and returns every queued event. Events that fail to
// send again go back via Requeue.
func (q *DiskQueue) TakeAll() ([]model.TrackerEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return nil, nil
	}
	taken := q.events
	q.events = nil
	if err := q.persist(); err != nil {
		q.events = taken
		return nil, err
	}
	return taken, nil
}

// Requeue puts unsent events back at the front, preserving order.
func (q *DiskQueue) Requeue(events []model.TrackerEvent) error {
	if len(events) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.events = append(append([]model.TrackerEvent{}, events...), q.events...)
	return q.persist()
}

func (q *DiskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// persist writes the queue atomically. Caller holds the lock.
func (q *DiskQueue) persist() error {
	data, err := json.MarshalIndent(q.events, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal event queue: %w", err)
	}

	dir := filepath.Dir(q.path)
	tmp, err := os.CreateTemp(dir, ".queue-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp queue file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp queue file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp queue file: %w", err)
	}
	if err := os.Rename(tmpName, q.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace queue file: %w", err)
	}
	return nil
}
