package state

import (
	"encoding/json"
	"time"
)

// HistoryLimit bounds the history log: inserting beyond it evicts the
// oldest entry.
const HistoryLimit = 50

// Source tags where a content update arrived from.
type Source string

const (
	SourceDuplex  Source = "duplex"
	SourceRequest Source = "request"
)

// HistoryEntry is an immutable record of one accepted content update.
// Entries are deletable by id but never edited.
type HistoryEntry struct {
	ID     uint64          `json:"id"`
	At     time.Time       `json:"at"`
	Source Source          `json:"source"`
	Data   json.RawMessage `json:"data"`
}

// AppendHistory inserts a new entry at the head, assigning the next
// monotonic id, and evicts the tail beyond HistoryLimit.
func (s *Store) AppendHistory(source Source, data json.RawMessage) HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := HistoryEntry{
		ID:     s.nextID,
		At:     time.Now(),
		Source: source,
		Data:   data,
	}
	s.nextID++
	s.history = append([]HistoryEntry{e}, s.history...)
	if len(s.history) > HistoryLimit {
		s.history = s.history[:HistoryLimit]
	}
	return e
}

// History returns the log newest-first.
func (s *Store) History() []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// DeleteHistory removes the entry with the given id. It reports whether an
// entry existed.
func (s *Store) DeleteHistory(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.history {
		if e.ID == id {
			s.history = append(s.history[:i], s.history[i+1:]...)
			return true
		}
	}
	return false
}
