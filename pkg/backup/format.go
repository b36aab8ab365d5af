package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// FormatVersion is the current backup document version.
const FormatVersion = 2

// AppName tags exported documents.
const AppName = "keyhaven"

// sizeWarningThreshold is the per-array entry count above which the
// validator emits a size warning.
const sizeWarningThreshold = 10_000

// Document is the plain backup snapshot. Each entity array is present
// only if its include-flag was set on export. Password, multi-account
// and history values are ciphertext tokens, never plaintext.
type Document struct {
	Version    int       `json:"version"`
	SnapshotID string    `json:"snapshot_id"`
	ExportedAt time.Time `json:"exported_at"`
	AppName    string    `json:"app_name"`
	// Checksum is the SHA-256 of the canonical encoding with this
	// field empty. Older documents predate it and omit it.
	Checksum        string             `json:"checksum,omitempty"`
	Passwords       []CredentialRecord `json:"passwords,omitempty"`
	Groups          []GroupRecord      `json:"groups,omitempty"`
	NoteGroups      []GroupRecord      `json:"note_groups,omitempty"`
	Notes           []NoteRecord       `json:"notes,omitempty"`
	UserSettings    []SettingRecord    `json:"user_settings,omitempty"`
	PasswordHistory []HistoryRecord    `json:"password_history,omitempty"`
}

// CredentialRecord is one exported credential.
type CredentialRecord struct {
	ID               int64     `json:"id"`
	Title            string    `json:"title"`
	Username         string    `json:"username"`
	Password         string    `json:"password,omitempty"`
	MultiAccountData string    `json:"multi_account_data,omitempty"`
	URL              string    `json:"url,omitempty"`
	Notes            string    `json:"notes,omitempty"`
	GroupID          *int64    `json:"group_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// GroupRecord is one exported group (credential or note family).
type GroupRecord struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	ParentID  *int64    `json:"parent_id,omitempty"`
	Color     string    `json:"color,omitempty"`
	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NoteRecord is one exported secure note.
type NoteRecord struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	GroupID   *int64    `json:"group_id,omitempty"`
	Pinned    bool      `json:"pinned"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SettingRecord is one exported setting.
type SettingRecord struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Type        string `json:"type"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
}

// HistoryRecord is one exported password-history row.
type HistoryRecord struct {
	ID           int64     `json:"id"`
	CredentialID int64     `json:"credential_id"`
	OldPassword  string    `json:"old_password,omitempty"`
	NewPassword  string    `json:"new_password"`
	ChangedAt    time.Time `json:"changed_at"`
	Reason       string    `json:"reason,omitempty"`
}

// EncodeDocument serializes a document to the plain wire form.
func EncodeDocument(doc *Document) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("backup: failed to encode document: %w", err)
	}
	return data, nil
}

// DecodeDocument parses the plain wire form.
func DecodeDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("backup: failed to parse document: %w", err)
	}
	return &doc, nil
}

// sealDocument fills in the checksum, computed over the canonical
// encoding with the checksum field empty.
func sealDocument(doc *Document) error {
	doc.Checksum = ""
	data, err := EncodeDocument(doc)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(data)
	doc.Checksum = hex.EncodeToString(sum[:])
	return nil
}

// checksumMatches recomputes the checksum the way sealDocument wrote
// it. Documents without one predate the field and pass.
func checksumMatches(doc *Document) (bool, error) {
	if doc.Checksum == "" {
		return true, nil
	}
	clone := *doc
	clone.Checksum = ""
	data, err := EncodeDocument(&clone)
	if err != nil {
		return false, err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]) == doc.Checksum, nil
}

// validateDocument statically checks a document before any mutation.
// Errors abort the import; warnings do not.
func validateDocument(doc *Document) (errs, warnings []string) {
	if doc.Version < 1 || doc.Version > FormatVersion {
		errs = append(errs, fmt.Sprintf("unsupported document version %d (supported: 1-%d)", doc.Version, FormatVersion))
	}

	for i, c := range doc.Passwords {
		if c.Title == "" {
			errs = append(errs, fmt.Sprintf("passwords[%d]: missing title", i))
		}
		if c.Username == "" {
			errs = append(errs, fmt.Sprintf("passwords[%d]: missing username", i))
		}
	}
	for i, g := range doc.Groups {
		if g.Name == "" {
			errs = append(errs, fmt.Sprintf("groups[%d]: missing name", i))
		}
	}
	for i, g := range doc.NoteGroups {
		if g.Name == "" {
			errs = append(errs, fmt.Sprintf("note_groups[%d]: missing name", i))
		}
	}
	for i, n := range doc.Notes {
		if n.Title == "" {
			errs = append(errs, fmt.Sprintf("notes[%d]: missing title", i))
		}
	}

	counts := map[string]int{
		"passwords":        len(doc.Passwords),
		"groups":           len(doc.Groups),
		"note_groups":      len(doc.NoteGroups),
		"notes":            len(doc.Notes),
		"user_settings":    len(doc.UserSettings),
		"password_history": len(doc.PasswordHistory),
	}
	for name, n := range counts {
		if n > sizeWarningThreshold {
			warnings = append(warnings, fmt.Sprintf("%s: %d entries, import may be slow", name, n))
		}
	}

	return errs, warnings
}
