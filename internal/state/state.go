// Package state holds the relay's shared "latest document" slots and the
// bounded history log.
//
// Every slot holds exactly one current value, replaced wholesale on update
// (last-write-wins, never field-merged). Mutation is driven by the relay
// loop; the mutex makes reads from HTTP handler goroutines safe.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Slot names a single mutable "latest state" document.
type Slot string

const (
	SlotContent    Slot = "content"
	SlotGraph      Slot = "graph"
	SlotAlerts     Slot = "alerts"
	SlotStudio2027 Slot = "studio2027"
	SlotDashboard  Slot = "dashboard"
	SlotNowPlaying Slot = "nowplaying"
)

// ErrUnknownSlot is returned when a caller addresses a slot outside the
// fixed enumerated set.
var ErrUnknownSlot = errors.New("unknown slot")

// Slots returns the fixed enumerated slot set, in snapshot order.
func Slots() []Slot {
	return []Slot{SlotContent, SlotGraph, SlotAlerts, SlotStudio2027, SlotDashboard, SlotNowPlaying}
}

func (s Slot) Valid() bool {
	switch s {
	case SlotContent, SlotGraph, SlotAlerts, SlotStudio2027, SlotDashboard, SlotNowPlaying:
		return true
	}
	return false
}

// Persistent reports whether the slot is mirrored to external storage.
func (s Slot) Persistent() bool {
	switch s {
	case SlotAlerts, SlotStudio2027, SlotDashboard:
		return true
	}
	return false
}

// Store owns the document slots and the history log.
type Store struct {
	mu      sync.RWMutex
	slots   map[Slot]json.RawMessage
	history []HistoryEntry // newest first
	nextID  uint64
}

func NewStore() *Store {
	return &Store{
		slots:  defaultSlots(),
		nextID: 1,
	}
}

// defaultSlots builds the startup value of every slot. The content slot
// starts as the "waiting" overlay record (same shape the overlay renders),
// alerts as an empty list, the rest as empty objects.
func defaultSlots() map[Slot]json.RawMessage {
	m := map[Slot]json.RawMessage{
		SlotContent:    defaultContent(),
		SlotGraph:      json.RawMessage(`{}`),
		SlotAlerts:     json.RawMessage(`[]`),
		SlotStudio2027: json.RawMessage(`{}`),
		SlotDashboard:  json.RawMessage(`{}`),
		SlotNowPlaying: json.RawMessage(`{}`),
	}
	return m
}

func defaultContent() json.RawMessage {
	doc := map[string]string{
		"titre":     "En attente...",
		"sousTitre": "",
	}
	for i := 1; i <= 24; i++ {
		doc[fmt.Sprintf("ligne%d", i)] = ""
	}
	b, _ := json.Marshal(doc)
	return b
}

// Get returns the current value of a slot. It never fails: an unknown slot
// yields an empty object so readers always see a fully-formed value.
func (s *Store) Get(slot Slot) json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.slots[slot]; ok {
		return v
	}
	return json.RawMessage(`{}`)
}

// Set replaces a slot value wholesale and returns the previous value for
// auditing. Addressing an unknown slot is a caller error.
func (s *Store) Set(slot Slot, value json.RawMessage) (json.RawMessage, error) {
	if !slot.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSlot, slot)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.slots[slot]
	s.slots[slot] = value
	return prev, nil
}

// Snapshot returns the current value of every slot, keyed by name. Sent to
// new connections as the initial sync and used by the snapshot-to-disk job.
func (s *Store) Snapshot() map[Slot]json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Slot]json.RawMessage, len(s.slots))
	for k, v := range s.slots {
		out[k] = v
	}
	return out
}

// StampUpdatedAt returns value with its "updatedAt" field set to now,
// preserving all other fields. Used for graph settings updates. If value is
// not a JSON object it is returned unchanged.
func StampUpdatedAt(value json.RawMessage, now time.Time) json.RawMessage {
	var m map[string]any
	if err := json.Unmarshal(value, &m); err != nil {
		return value
	}
	if m == nil {
		m = map[string]any{}
	}
	m["updatedAt"] = now.Format(time.RFC3339)
	b, err := json.Marshal(m)
	if err != nil {
		return value
	}
	return b
}
