// Package importer parses exports from other password managers into
// vault records. It understands 1Password CSV, Bitwarden JSON and
// LastPass CSV formats.
package importer

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/keyhaven/keyhaven/pkg/store"
)

// Source identifies the exporting password manager.
type Source string

const (
	Source1Password Source = "1password"
	SourceBitwarden Source = "bitwarden"
	SourceLastPass  Source = "lastpass"
)

// Credential is a parsed login item, ready to be stored.
type Credential struct {
	Title    string
	Username string
	Password string
	URL      string
	Notes    string
	// GroupPath is the source folder path, segments joined with "/".
	GroupPath string
}

// Note is a parsed secure note. Card and identity items flatten into
// notes because the vault has no dedicated record type for them.
type Note struct {
	Title     string
	Content   string
	GroupPath string
}

// SkippedItem records an item the parser left out, with the reason.
type SkippedItem struct {
	Name   string
	Reason string
}

// Result carries everything a parser extracted from one export file.
type Result struct {
	Credentials []Credential
	Notes       []Note
	Warnings    []string
	Skipped     []SkippedItem
}

// Parser converts one export format into a Result.
type Parser interface {
	Parse(data []byte) (*Result, error)
	Source() Source
}

// GetParser returns the parser for the given source.
func GetParser(source Source) (Parser, error) {
	switch source {
	case Source1Password:
		return &OnePasswordParser{}, nil
	case SourceBitwarden:
		return &BitwardenParser{}, nil
	case SourceLastPass:
		return &LastPassParser{}, nil
	default:
		return nil, fmt.Errorf("importer: unsupported source %q (valid: %s)",
			source, strings.Join(ValidSources(), ", "))
	}
}

// ValidSources lists the accepted source names.
func ValidSources() []string {
	return []string{
		string(Source1Password),
		string(SourceBitwarden),
		string(SourceLastPass),
	}
}

// cleanTitle normalizes a source item name into a storable title.
func cleanTitle(name string) string {
	name = strings.TrimSpace(norm.NFC.String(name))
	if len(name) > store.MaxTitleLength {
		name = name[:store.MaxTitleLength]
	}
	return name
}

// fallbackTitle derives a title from the item URL, or numbers the item
// when no usable hostname exists.
func fallbackTitle(url string, counter int) string {
	if host := hostname(url); host != "" {
		return host
	}
	return fmt.Sprintf("Imported item %d", counter)
}

func hostname(url string) string {
	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")
	if idx := strings.Index(url, "/"); idx != -1 {
		url = url[:idx]
	}
	if idx := strings.Index(url, ":"); idx != -1 {
		url = url[:idx]
	}
	return strings.TrimPrefix(url, "www.")
}

// decodeHTMLEntities reverses the HTML escaping some LastPass exports
// apply to special characters.
func decodeHTMLEntities(s string) string {
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", "\"")
	s = strings.ReplaceAll(s, "&#39;", "'")
	s = strings.ReplaceAll(s, "&apos;", "'")
	return s
}

// joinNotes concatenates note fragments, dropping empty ones.
func joinNotes(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}
