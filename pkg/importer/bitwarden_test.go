package importer

import (
	"strings"
	"testing"
)

func TestBitwardenParseLogin(t *testing.T) {
	data := []byte(`{
		"folders": [{"id": "f1", "name": "Work"}],
		"items": [{
			"type": 1,
			"name": "GitHub",
			"folderId": "f1",
			"notes": "primary account",
			"login": {
				"uris": [{"uri": "https://github.com"}, {"uri": "https://gist.github.com"}],
				"username": "octocat",
				"password": "hunter2",
				"totp": "JBSWY3DP"
			}
		}]
	}`)

	p := &BitwardenParser{}
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
	if c.URL != "https://github.com" {
		t.Errorf("URL = %q, want the first URI", c.URL)
	}
	if c.GroupPath != "Work" {
		t.Errorf("GroupPath = %q, want the folder name", c.GroupPath)
	}
	if !strings.Contains(c.Notes, "TOTP: JBSWY3DP") {
		t.Errorf("TOTP seed not preserved in notes: %q", c.Notes)
	}
	if !strings.Contains(c.Notes, "URL: https://gist.github.com") {
		t.Errorf("secondary URI not preserved in notes: %q", c.Notes)
	}
}

func TestBitwardenParseSecureNote(t *testing.T) {
	data := []byte(`{
		"items": [{
			"type": 2,
			"name": "Recovery Codes",
			"notes": "code1 code2 code3"
		}]
	}`)

	p := &BitwardenParser{}
	result, err := p.Parse(data)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if len(result.Notes) != 1 {
		t.Fatalf("parsed %d notes, want 1", len(result.Notes))
	}
	note := result.Notes[0]
	if note.Title != "Recovery Codes" || note.Content != "code1 code2 code3" {
		t.Errorf("note = %+v", note)
	}
}

func TestBitwardenCardBecomesNote(t *testing.T) {
	data := []byte(`{
		"items": [{
			"type": 3,
			"name": "Visa",
			"card": {
				"cardholderName": "A Person",
				"number": "4111111111111111",
				"expMonth": "12",
				"expYear": "2030",
				"code": "123",
				"brand": "Visa"
			}
		}]
	}`)

	p := &BitwardenParser{}
	result, err := p.Parse(data)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if len(result.Notes) != 1 {
		t.Fatalf("parsed %d notes, want 1", len(result.Notes))
	}
	content := result.Notes[0].Content
	for _, want := range []string{"Cardholder: A Person", "Number: 4111111111111111", "Expires: 12/2030", "Code: 123"} {
		if !strings.Contains(content, want) {
			t.Errorf("card note missing %q:\n%s", want, content)
		}
	}
}

func TestBitwardenIdentityBecomesNote(t *testing.T) {
	data := []byte(`{
		"items": [{
			"type": 4,
			"name": "Passport",
			"identity": {
				"firstName": "Ada",
				"lastName": "Lovelace",
				"passportNumber": "X1234567"
			}
		}]
	}`)

	p := &BitwardenParser{}
	result, err := p.Parse(data)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if len(result.Notes) != 1 {
		t.Fatalf("parsed %d notes, want 1", len(result.Notes))
	}
	content := result.Notes[0].Content
	if !strings.Contains(content, "Name: Ada Lovelace") || !strings.Contains(content, "Passport: X1234567") {
		t.Errorf("identity note content:\n%s", content)
	}
}

func TestBitwardenCustomFields(t *testing.T) {
	data := []byte(`{
		"items": [{
			"type": 1,
			"name": "Server",
			"login": {"username": "root", "password": "pw"},
			"fields": [{"name": "port", "value": "2222"}]
		}]
	}`)

	p := &BitwardenParser{}
	result, err := p.Parse(data)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if len(result.Credentials) != 1 {
		t.Fatalf("parsed %d credentials, want 1", len(result.Credentials))
	}
	if !strings.Contains(result.Credentials[0].Notes, "port: 2222") {
		t.Errorf("custom field not preserved: %q", result.Credentials[0].Notes)
	}
}

func TestBitwardenUnsupportedType(t *testing.T) {
	data := []byte(`{"items": [{"type": 9, "name": "Mystery"}]}`)

	p := &BitwardenParser{}
	result, err := p.Parse(data)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if len(result.Skipped) != 1 || result.Skipped[0].Name != "Mystery" {
		t.Errorf("Skipped = %+v, want the unsupported item", result.Skipped)
	}
}

func TestBitwardenMalformedJSON(t *testing.T) {
	p := &BitwardenParser{}
	if _, err := p.Parse([]byte("{not json")); err == nil {
		t.Error("Parse() accepted malformed JSON")
	}
}
