package optimization

import (
	"fmt"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// HistoryEntry is one completed optimization kept for reporting.
type HistoryEntry struct {
	JobID          string    `json:"job_id" msgpack:"job_id"`
	CompletedAt    time.Time `json:"completed_at" msgpack:"completed_at"`
	Bitstring      string    `json:"bitstring" msgpack:"bitstring"`
	Weights        []float64 `json:"weights" msgpack:"weights"`
	ObjectiveValue float64   `json:"objective_value" msgpack:"objective_value"`
	Eigenvalue     float64   `json:"eigenvalue" msgpack:"eigenvalue"`
	TotalCost      float64   `json:"total_cost" msgpack:"total_cost"`
}

// History is a bounded in-memory record of completed optimizations,
// newest last. Oldest entries are evicted beyond the cap.
type History struct {
	mu      sync.Mutex
	entries []HistoryEntry
	max     int
}

// NewHistory creates a history ring holding at most max entries.
func NewHistory(max int) *History {
	if max <= 0 {
		max = 100
	}
	return &History{max: max}
}

// Add records a completed optimization.
func (h *History) Add(entry HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
}

// List returns a copy of all retained entries, oldest first.
func (h *History) List() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Export serializes the retained entries as a msgpack blob.
func (h *History) Export() ([]byte, error) {
	data, err := msgpack.Marshal(h.List())
	if err != nil {
		return nil, fmt.Errorf("failed to encode history: %w", err)
	}
	return data, nil
}

// Import replaces the retained entries with a previously exported blob.
func (h *History) Import(data []byte) error {
	var entries []HistoryEntry
	if err := msgpack.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to decode history: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(entries) > h.max {
		entries = entries[len(entries)-h.max:]
	}
	h.entries = entries
	return nil
}
