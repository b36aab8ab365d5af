package store

import (
	"errors"
	"strings"
	"testing"
)

func setupNotes(t *testing.T) (*DB, *NoteStore) {
	t.Helper()
	db := setupDB(t)
	return db, NewNoteStore(db, testCipher(t))
}

func TestNoteSaveEncryptsContent(t *testing.T) {
	db, ns := setupNotes(t)

	n := &Note{Title: "Recovery Codes", Content: "aaaa-bbbb\ncccc-dddd"}
	if err := ns.Save(n); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	var stored string
	err := db.SQL().QueryRow("SELECT content FROM notes WHERE id = ?", n.ID).Scan(&stored)
	if err != nil {
		t.Fatalf("raw query failed: %v", err)
	}
	if stored == "aaaa-bbbb\ncccc-dddd" {
		t.Fatal("note content stored in plaintext")
	}

	got, err := ns.Get(n.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Content != "aaaa-bbbb\ncccc-dddd" {
		t.Errorf("decrypted content = %q, want original", got.Content)
	}
}

func TestNoteValidation(t *testing.T) {
	_, ns := setupNotes(t)

	tests := []struct {
		name    string
		n       *Note
		wantErr error
	}{
		{"missing title", &Note{Content: "c"}, ErrNoteTitleRequired},
		{"missing content", &Note{Title: "t"}, ErrNoteContentRequired},
		{"title too long", &Note{Title: strings.Repeat("a", MaxNoteTitleLength+1), Content: "c"}, ErrNoteTitleTooLong},
		{"content too large", &Note{Title: "t", Content: strings.Repeat("a", MaxNoteContentLength+1)}, ErrNoteContentTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ns.Save(tt.n); !errors.Is(err, tt.wantErr) {
				t.Errorf("Save() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNoteGroupAssignment(t *testing.T) {
	db, ns := setupNotes(t)
	gs := NewNoteGroupStore(db)

	g := &Group{Name: "Personal"}
	if err := gs.Save(g); err != nil {
		t.Fatalf("group Save() failed: %v", err)
	}

	n := &Note{Title: "Journal", Content: "entry", GroupID: &g.ID}
	if err := ns.Save(n); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	missing := int64(404)
	bad := &Note{Title: "Bad", Content: "c", GroupID: &missing}
	if err := ns.Save(bad); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("Save() with missing group error = %v, want %v", err, ErrGroupNotFound)
	}

	// Credential group ids live in a separate hierarchy. An id that only
	// exists there must not satisfy a note's group reference.
	cgs := NewCredentialGroupStore(db)
	for _, name := range []string{"CredOne", "CredTwo"} {
		if err := cgs.Save(&Group{Name: name}); err != nil {
			t.Fatalf("credential group Save(%s) failed: %v", name, err)
		}
	}
	credOnly := int64(2) // note_groups has a single row, id 2 exists only for credentials
	cross := &Note{Title: "Cross", Content: "c", GroupID: &credOnly}
	if err := ns.Save(cross); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("Save() with cross-family group error = %v, want %v", err, ErrGroupNotFound)
	}
}

func TestNoteListPinnedFirst(t *testing.T) {
	_, ns := setupNotes(t)

	plain := &Note{Title: "Plain", Content: "c"}
	if err := ns.Save(plain); err != nil {
		t.Fatalf("Save(plain) failed: %v", err)
	}
	pinned := &Note{Title: "Pinned", Content: "c", Pinned: true}
	if err := ns.Save(pinned); err != nil {
		t.Fatalf("Save(pinned) failed: %v", err)
	}
	newest := &Note{Title: "Newest", Content: "c"}
	if err := ns.Save(newest); err != nil {
		t.Fatalf("Save(newest) failed: %v", err)
	}

	got, err := ns.List(nil)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d notes, want 3", len(got))
	}
	if got[0].Title != "Pinned" {
		t.Errorf("first note = %q, want the pinned one", got[0].Title)
	}
	if got[1].Title != "Newest" {
		t.Errorf("second note = %q, want the newest unpinned one", got[1].Title)
	}
}

func TestNoteSearchByTitle(t *testing.T) {
	_, ns := setupNotes(t)

	for _, title := range []string{"Wifi Passwords", "Server Wiki", "Groceries"} {
		if err := ns.Save(&Note{Title: title, Content: "c"}); err != nil {
			t.Fatalf("Save(%s) failed: %v", title, err)
		}
	}

	got, err := ns.SearchByTitle("Wi")
	if err != nil {
		t.Fatalf("SearchByTitle() failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d matches, want 2", len(got))
	}
}

func TestNoteUpdateAndDelete(t *testing.T) {
	_, ns := setupNotes(t)

	n := &Note{Title: "Draft", Content: "v1"}
	if err := ns.Save(n); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	n.Content = "v2"
	n.Archived = true
	if err := ns.Save(n); err != nil {
		t.Fatalf("Save(update) failed: %v", err)
	}

	got, err := ns.Get(n.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Content != "v2" || !got.Archived {
		t.Errorf("updated note = %+v, want v2 archived", got)
	}

	if err := ns.Delete(n.ID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := ns.Delete(n.ID); !errors.Is(err, ErrNoteNotFound) {
		t.Errorf("second Delete() error = %v, want %v", err, ErrNoteNotFound)
	}
}
