package importer

import (
	"strings"
	"testing"
)

func TestOnePasswordParseLogins(t *testing.T) {
	data := []byte(`Title,Website,Username,Password,OTPAuth,Favorite,Archived,Tags,Notes
GitHub,https://github.com,octocat,hunter2,,false,false,"work,dev",main account
`)

	p := &OnePasswordParser{}
	result, err := p.Parse(data)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if len(result.Credentials) != 1 {
		t.Fatalf("parsed %d credentials, want 1", len(result.Credentials))
	}

	c := result.Credentials[0]
	if c.Title != "GitHub" || c.Username != "octocat" || c.Password != "hunter2" {
		t.Errorf("credential = %+v", c)
	}
	if c.GroupPath != "work" {
		t.Errorf("GroupPath = %q, want the first tag", c.GroupPath)
	}
	if c.Notes != "main account" {
		t.Errorf("Notes = %q", c.Notes)
	}
}

func TestOnePasswordSkipsArchived(t *testing.T) {
	data := []byte(`Title,Website,Username,Password,OTPAuth,Favorite,Archived,Tags,Notes
Old Site,https://old.test,me,pw,,false,true,,
`)

	p := &OnePasswordParser{}
	result, err := p.Parse(data)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if len(result.Credentials) != 0 {
		t.Errorf("archived item imported: %+v", result.Credentials)
	}
	if len(result.Skipped) != 1 || result.Skipped[0].Reason != "archived" {
		t.Errorf("Skipped = %+v, want the archived item", result.Skipped)
	}
}

func TestOnePasswordNoteOnlyRow(t *testing.T) {
	data := []byte(`Title,Website,Username,Password,OTPAuth,Favorite,Archived,Tags,Notes
Wifi,,,,,false,false,home,The password is on the fridge
`)

	p := &OnePasswordParser{}
	result, err := p.Parse(data)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if len(result.Credentials) != 0 {
		t.Errorf("note-only row parsed as credential: %+v", result.Credentials)
	}
	if len(result.Notes) != 1 {
		t.Fatalf("parsed %d notes, want 1", len(result.Notes))
	}
	note := result.Notes[0]
	if note.Title != "Wifi" || note.GroupPath != "home" || !strings.Contains(note.Content, "fridge") {
		t.Errorf("note = %+v", note)
	}
}

func TestOnePasswordTOTPPreserved(t *testing.T) {
	data := []byte(`Title,Website,Username,Password,OTPAuth,Favorite,Archived,Tags,Notes
Mail,https://mail.test,me,pw,otpauth://totp/x?secret=ABC,false,false,,
`)

	p := &OnePasswordParser{}
	result, err := p.Parse(data)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if len(result.Credentials) != 1 {
		t.Fatalf("parsed %d credentials, want 1", len(result.Credentials))
	}
	if !strings.Contains(result.Credentials[0].Notes, "secret=ABC") {
		t.Errorf("TOTP not preserved: %q", result.Credentials[0].Notes)
	}
}

func TestOnePasswordMissingTitleColumn(t *testing.T) {
	p := &OnePasswordParser{}
	if _, err := p.Parse([]byte("Website,Username\nx,y\n")); err == nil {
		t.Error("Parse() accepted a CSV without the Title column")
	}
}

func TestGetParser(t *testing.T) {
	for _, source := range ValidSources() {
		p, err := GetParser(Source(source))
		if err != nil {
			t.Errorf("GetParser(%q) failed: %v", source, err)
			continue
		}
		if string(p.Source()) != source {
			t.Errorf("parser Source() = %q, want %q", p.Source(), source)
		}
	}

	if _, err := GetParser("keepass"); err == nil {
		t.Error("GetParser() accepted an unknown source")
	}
}
