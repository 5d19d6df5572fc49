// Package fiche is the unbounded named-record store for guest fiches:
// the info cards a controller prepares per guest/segment, sent to hosts via
// the notification collaborator.
package fiche

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Fiche is one guest card. Times are stamped by the store.
type Fiche struct {
	ID        string    `json:"id"`
	Titre     string    `json:"titre,omitempty"`
	Invite    string    `json:"invite,omitempty"`
	Email     string    `json:"email,omitempty"`
	Date      string    `json:"date,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store keeps fiches ordered newest-first. Unlike the document slots it is
// unbounded, and records are addressed by id.
type Store struct {
	mu    sync.RWMutex
	items []Fiche
}

func NewStore() *Store { return &Store{} }

// Upsert inserts or replaces a fiche by id. A fiche without an id gets a
// fresh ULID and is prepended; an existing id is replaced in place with
// CreatedAt preserved. Reports whether the record was created.
func (s *Store) Upsert(f Fiche) (Fiche, bool) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ID != "" {
		for i, cur := range s.items {
			if cur.ID == f.ID {
				f.CreatedAt = cur.CreatedAt
				f.UpdatedAt = now
				s.items[i] = f
				return f, false
			}
		}
	}
	if f.ID == "" {
		f.ID = ulid.Make().String()
	}
	f.CreatedAt = now
	f.UpdatedAt = now
	s.items = append([]Fiche{f}, s.items...)
	return f, true
}

func (s *Store) Get(id string) (Fiche, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.items {
		if f.ID == id {
			return f, true
		}
	}
	return Fiche{}, false
}

// List returns all fiches, newest first.
func (s *Store) List() []Fiche {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Fiche, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, f := range s.items {
		if f.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return true
		}
	}
	return false
}

// Document serializes the whole store as one mirrored document.
func (s *Store) Document() json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.items
	if items == nil {
		items = []Fiche{}
	}
	b, _ := json.Marshal(items)
	return b
}

// Hydrate replaces the store content from a mirrored document.
func (s *Store) Hydrate(doc json.RawMessage) error {
	var items []Fiche
	if err := json.Unmarshal(doc, &items); err != nil {
		return err
	}
	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
	return nil
}
