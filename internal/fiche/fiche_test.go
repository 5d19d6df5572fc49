package fiche

import (
	"encoding/json"
	"testing"
)

func TestUpsertAssignsIDAndPrepends(t *testing.T) {
	s := NewStore()
	f1, created := s.Upsert(Fiche{Titre: "Segment 1"})
	if !created || f1.ID == "" {
		t.Fatalf("first upsert: created=%v id=%q", created, f1.ID)
	}
	f2, _ := s.Upsert(Fiche{Titre: "Segment 2"})

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("len = %d", len(list))
	}
	if list[0].ID != f2.ID {
		t.Error("newest fiche should be first")
	}
	if f1.CreatedAt.IsZero() || f1.UpdatedAt.IsZero() {
		t.Error("timestamps not stamped")
	}
}

func TestUpsertReplacesByIDPreservingCreatedAt(t *testing.T) {
	s := NewStore()
	f, _ := s.Upsert(Fiche{Titre: "v1"})

	upd, created := s.Upsert(Fiche{ID: f.ID, Titre: "v2"})
	if created {
		t.Error("replace reported as create")
	}
	if !upd.CreatedAt.Equal(f.CreatedAt) {
		t.Error("CreatedAt not preserved on replace")
	}
	got, ok := s.Get(f.ID)
	if !ok || got.Titre != "v2" {
		t.Fatalf("get = %+v ok=%v", got, ok)
	}
	if len(s.List()) != 1 {
		t.Error("replace must not grow the store")
	}
}

func TestDelete(t *testing.T) {
	s := NewStore()
	f, _ := s.Upsert(Fiche{Titre: "x"})
	if !s.Delete(f.ID) {
		t.Fatal("delete of present id failed")
	}
	if s.Delete(f.ID) {
		t.Fatal("delete of absent id must report false")
	}
	if _, ok := s.Get(f.ID); ok {
		t.Fatal("fiche still present after delete")
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	s := NewStore()
	s.Upsert(Fiche{Titre: "a"})
	s.Upsert(Fiche{Titre: "b"})

	doc := s.Document()
	if !json.Valid(doc) {
		t.Fatal("document is not valid JSON")
	}

	restored := NewStore()
	if err := restored.Hydrate(doc); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	got, want := restored.List(), s.List()
	if len(got) != len(want) {
		t.Fatalf("restored %d fiches, want %d", len(got), len(want))
	}
	if got[0].Titre != "b" {
		t.Errorf("order lost: %+v", got)
	}
}

func TestEmptyStoreDocumentIsArray(t *testing.T) {
	if got := string(NewStore().Document()); got != "[]" {
		t.Errorf("empty document = %s, want []", got)
	}
}
