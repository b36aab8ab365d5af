package store

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/keyhaven/keyhaven/pkg/crypto"
)

func setupCredentials(t *testing.T) (*DB, *CredentialStore) {
	t.Helper()
	db := setupDB(t)
	return db, NewCredentialStore(db, testCipher(t))
}

func TestCredentialSaveEncryptsAtRest(t *testing.T) {
	db, cs := setupCredentials(t)

	c := &Credential{Title: "GitHub", Username: "octocat", Password: "hunter2"}
	if err := cs.Save(c); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	var stored string
	err := db.SQL().QueryRow("SELECT password FROM credentials WHERE id = ?", c.ID).Scan(&stored)
	if err != nil {
		t.Fatalf("raw query failed: %v", err)
	}
	if stored == "hunter2" {
		t.Fatal("password stored in plaintext")
	}
	if !crypto.IsToken(stored) {
		t.Errorf("stored password %q is not a ciphertext token", stored)
	}

	got, err := cs.Get(c.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Password != "hunter2" {
		t.Errorf("decrypted password = %q, want hunter2", got.Password)
	}
}

func TestCredentialValidation(t *testing.T) {
	_, cs := setupCredentials(t)

	tests := []struct {
		name    string
		c       *Credential
		wantErr error
	}{
		{"missing title", &Credential{Username: "u", Password: "p"}, ErrTitleRequired},
		{"missing username", &Credential{Title: "t", Password: "p"}, ErrUsernameRequired},
		{"missing secret", &Credential{Title: "t", Username: "u"}, ErrSecretRequired},
		{"bad url", &Credential{Title: "t", Username: "u", Password: "p", URL: "not a url"}, ErrURLInvalid},
		{"oversized notes", &Credential{Title: "t", Username: "u", Password: "p",
			Notes: strings.Repeat("x", MaxCredentialNotes+1)}, ErrNotesTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := cs.Save(tt.c); !errors.Is(err, tt.wantErr) {
				t.Errorf("Save() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCredentialURLForms(t *testing.T) {
	_, cs := setupCredentials(t)

	valid := []string{
		"https://github.com/login",
		"http://localhost.lan",
		"intranet.local",
		"router.lan:8080",
	}
	for _, u := range valid {
		c := &Credential{Title: "t-" + u, Username: "u", Password: "p", URL: u}
		if err := cs.Save(c); err != nil {
			t.Errorf("Save() with url %q failed: %v", u, err)
		}
	}
}

func TestCredentialUpdateRecordsHistory(t *testing.T) {
	_, cs := setupCredentials(t)

	c := &Credential{Title: "Mail", Username: "me", Password: "old"}
	if err := cs.Save(c); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	updated, err := cs.Get(c.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	updated.Password = "new"
	if err := cs.UpdateWithHistory(updated, "rotation"); err != nil {
		t.Fatalf("UpdateWithHistory() failed: %v", err)
	}

	entries, err := cs.History(c.ID)
	if err != nil {
		t.Fatalf("History() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d history entries, want 1", len(entries))
	}
	e := entries[0]
	if e.OldPassword != "old" || e.NewPassword != "new" {
		t.Errorf("history = %q -> %q, want old -> new", e.OldPassword, e.NewPassword)
	}
	if e.Reason != "rotation" {
		t.Errorf("reason = %q, want rotation", e.Reason)
	}

	got, err := cs.Get(c.ID)
	if err != nil {
		t.Fatalf("Get() after update failed: %v", err)
	}
	if got.Password != "new" {
		t.Errorf("password after update = %q, want new", got.Password)
	}
}

func TestCredentialUpdateKeepsPasswordWhenOmitted(t *testing.T) {
	_, cs := setupCredentials(t)

	c := &Credential{Title: "Bank", Username: "me", Password: "secret"}
	if err := cs.Save(c); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	update := &Credential{ID: c.ID, Title: "Bank Renamed", Username: "me"}
	if err := cs.Save(update); err != nil {
		t.Fatalf("Save(update) failed: %v", err)
	}

	got, err := cs.Get(c.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Title != "Bank Renamed" {
		t.Errorf("title = %q, want Bank Renamed", got.Title)
	}
	if got.Password != "secret" {
		t.Errorf("password = %q, want the original kept", got.Password)
	}

	entries, err := cs.History(c.ID)
	if err != nil {
		t.Fatalf("History() failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d history entries, want 0 for an unchanged password", len(entries))
	}
}

func TestCredentialGroupAssignment(t *testing.T) {
	db, cs := setupCredentials(t)
	gs := NewCredentialGroupStore(db)

	g := &Group{Name: "Work"}
	if err := gs.Save(g); err != nil {
		t.Fatalf("group Save() failed: %v", err)
	}

	c := &Credential{Title: "VPN", Username: "me", Password: "p", GroupID: &g.ID}
	if err := cs.Save(c); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	missing := int64(999)
	bad := &Credential{Title: "Bad", Username: "me", Password: "p", GroupID: &missing}
	if err := cs.Save(bad); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("Save() with missing group error = %v, want %v", err, ErrGroupNotFound)
	}

	// Deleting the group detaches the credential.
	if err := gs.Delete(g.ID); err != nil {
		t.Fatalf("group Delete() failed: %v", err)
	}
	got, err := cs.Get(c.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.GroupID != nil {
		t.Error("credential kept a reference to the deleted group")
	}
}

func TestCredentialSearch(t *testing.T) {
	_, cs := setupCredentials(t)

	seed := []*Credential{
		{Title: "GitHub Account", Username: "octocat", Password: "p", URL: "https://github.com"},
		{Title: "GitLab", Username: "dev", Password: "p", URL: "https://gitlab.com"},
		{Title: "Bank Login", Username: "me", Password: "p", Notes: "main checking account"},
	}
	for _, c := range seed {
		if err := cs.Save(c); err != nil {
			t.Fatalf("Save(%s) failed: %v", c.Title, err)
		}
	}

	t.Run("single word prefix", func(t *testing.T) {
		got, err := cs.Search("git")
		if err != nil {
			t.Fatalf("Search() failed: %v", err)
		}
		if len(got) != 2 {
			t.Errorf("got %d results, want 2", len(got))
		}
	})

	t.Run("matches notes field", func(t *testing.T) {
		got, err := cs.Search("checking")
		if err != nil {
			t.Fatalf("Search() failed: %v", err)
		}
		if len(got) != 1 || got[0].Title != "Bank Login" {
			t.Errorf("got %v, want the bank entry", titles(got))
		}
	})

	t.Run("multi word phrase", func(t *testing.T) {
		got, err := cs.Search("github account")
		if err != nil {
			t.Fatalf("Search() failed: %v", err)
		}
		if len(got) != 1 || got[0].Title != "GitHub Account" {
			t.Errorf("got %v, want the github entry", titles(got))
		}
	})

	t.Run("no match", func(t *testing.T) {
		got, err := cs.Search("zzzznothing")
		if err != nil {
			t.Fatalf("Search() failed: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("got %d results, want 0", len(got))
		}
	})

	t.Run("empty keyword lists all", func(t *testing.T) {
		got, err := cs.Search("  ")
		if err != nil {
			t.Fatalf("Search() failed: %v", err)
		}
		if len(got) != 3 {
			t.Errorf("got %d results, want 3", len(got))
		}
	})
}

func TestCredentialDeleteDropsFromSearch(t *testing.T) {
	_, cs := setupCredentials(t)

	c := &Credential{Title: "Ephemeral", Username: "me", Password: "p"}
	if err := cs.Save(c); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	if err := cs.Delete(c.ID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	got, err := cs.Search("ephemeral")
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("deleted credential still indexed: %v", titles(got))
	}

	if _, err := cs.Get(c.ID); !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("Get() after delete error = %v, want %v", err, ErrCredentialNotFound)
	}
}

func TestAdvancedSearch(t *testing.T) {
	db, cs := setupCredentials(t)
	gs := NewCredentialGroupStore(db)

	g := &Group{Name: "Work"}
	if err := gs.Save(g); err != nil {
		t.Fatalf("group Save() failed: %v", err)
	}

	first := &Credential{Title: "Alpha", Username: "alice", Password: "p", GroupID: &g.ID}
	if err := cs.Save(first); err != nil {
		t.Fatalf("Save(first) failed: %v", err)
	}
	second := &Credential{Title: "Beta", Username: "alice", Password: "p", GroupID: &g.ID}
	if err := cs.Save(second); err != nil {
		t.Fatalf("Save(second) failed: %v", err)
	}
	outside := &Credential{Title: "Gamma", Username: "alice", Password: "p"}
	if err := cs.Save(outside); err != nil {
		t.Fatalf("Save(outside) failed: %v", err)
	}

	got, err := cs.AdvancedSearch(AdvancedQuery{Username: "alice", GroupID: &g.ID})
	if err != nil {
		t.Fatalf("AdvancedSearch() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2: %v", len(got), titles(got))
	}
	// Most recently updated first; both share a timestamp granularity, so
	// the id tiebreaker puts the later insert first.
	if got[0].Title != "Beta" {
		t.Errorf("first result = %q, want Beta", got[0].Title)
	}

	cutoff := time.Now().UTC().Add(time.Minute)
	got, err = cs.AdvancedSearch(AdvancedQuery{UpdatedBefore: &cutoff})
	if err != nil {
		t.Fatalf("AdvancedSearch() with date failed: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("got %d results, want 3", len(got))
	}
}

func TestMultiAccountRoundTrip(t *testing.T) {
	db, cs := setupCredentials(t)

	c := &Credential{Title: "Cloud", Username: "me", Password: "p"}
	if err := cs.Save(c); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	blob := `[{"label":"prod","username":"admin","password":"x"}]`
	if err := cs.SetMultiAccount(c.ID, blob); err != nil {
		t.Fatalf("SetMultiAccount() failed: %v", err)
	}

	var stored string
	err := db.SQL().QueryRow("SELECT multi_account_data FROM credentials WHERE id = ?", c.ID).Scan(&stored)
	if err != nil {
		t.Fatalf("raw query failed: %v", err)
	}
	if stored == blob {
		t.Fatal("multi-account data stored in plaintext")
	}

	got, err := cs.GetMultiAccount(c.ID)
	if err != nil {
		t.Fatalf("GetMultiAccount() failed: %v", err)
	}
	if got != blob {
		t.Errorf("GetMultiAccount() = %q, want original blob", got)
	}
}

func TestFindByIdentity(t *testing.T) {
	db, cs := setupCredentials(t)
	gs := NewCredentialGroupStore(db)

	g := &Group{Name: "Scope"}
	if err := gs.Save(g); err != nil {
		t.Fatalf("group Save() failed: %v", err)
	}

	rootCred := &Credential{Title: "Same", Username: "me", Password: "p"}
	if err := cs.Save(rootCred); err != nil {
		t.Fatalf("Save(root) failed: %v", err)
	}
	grouped := &Credential{Title: "Same", Username: "me", Password: "p", GroupID: &g.ID}
	if err := cs.Save(grouped); err != nil {
		t.Fatalf("Save(grouped) failed: %v", err)
	}

	found, err := cs.FindByIdentity("Same", "me", nil)
	if err != nil {
		t.Fatalf("FindByIdentity(root) failed: %v", err)
	}
	if found.ID != rootCred.ID {
		t.Errorf("root scope lookup found id %d, want %d", found.ID, rootCred.ID)
	}

	found, err = cs.FindByIdentity("Same", "me", &g.ID)
	if err != nil {
		t.Fatalf("FindByIdentity(grouped) failed: %v", err)
	}
	if found.ID != grouped.ID {
		t.Errorf("group scope lookup found id %d, want %d", found.ID, grouped.ID)
	}

	if _, err := cs.FindByIdentity("Missing", "me", nil); !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("missing lookup error = %v, want %v", err, ErrCredentialNotFound)
	}
}

func TestStaleSince(t *testing.T) {
	db, cs := setupCredentials(t)

	c := &Credential{Title: "Old", Username: "me", Password: "p"}
	if err := cs.Save(c); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	fresh := &Credential{Title: "Fresh", Username: "me", Password: "p"}
	if err := cs.Save(fresh); err != nil {
		t.Fatalf("Save(fresh) failed: %v", err)
	}

	// Age the first credential directly.
	aged := time.Now().UTC().Add(-120 * 24 * time.Hour)
	if _, err := db.SQL().Exec("UPDATE credentials SET updated_at = ? WHERE id = ?", aged, c.ID); err != nil {
		t.Fatalf("failed to age credential: %v", err)
	}

	got, err := cs.StaleSince(90 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("StaleSince() failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != c.ID {
		t.Errorf("StaleSince() = %v, want only the aged credential", titles(got))
	}
}

func titles(creds []*Credential) []string {
	out := make([]string, len(creds))
	for i, c := range creds {
		out[i] = c.Title
	}
	return out
}
