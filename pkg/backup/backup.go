// Package backup provides vault snapshot export and import.
//
// Export assembles a versioned document of all vault entities with
// secret fields kept in their encrypted token form, either as plain
// bytes or wrapped in a password-protected compressed archive.
//
// Import merges a snapshot into the current vault. Groups are resolved
// with a worklist algorithm: each pass imports every group whose
// remapped parent is already available, and a pass with no progress
// reports all remaining groups as unresolvable. Foreign keys of notes,
// credentials and history are rewritten through the resolved id remap
// tables before insert.
//
// The import sequence is deliberately not one atomic transaction: a
// failure partway leaves already-imported entities committed, and
// per-item failures accumulate without aborting the rest of the batch.
package backup

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/keyhaven/keyhaven/pkg/crypto"
	"github.com/keyhaven/keyhaven/pkg/store"
)

// Strategy governs how an imported entity interacts with an existing
// one of the same identity.
type Strategy string

const (
	// StrategyMerge overwrites existing rows matched by natural key.
	StrategyMerge Strategy = "merge"
	// StrategySkip leaves existing rows untouched and counts them.
	StrategySkip Strategy = "skip"
	// StrategyReplace clears all existing data before importing.
	StrategyReplace Strategy = "replace"
)

// ErrValidationFailed indicates the document failed static validation;
// nothing was mutated.
var ErrValidationFailed = errors.New("backup: snapshot failed validation")

// ErrChecksumMismatch indicates the document content no longer matches
// its recorded checksum; nothing was mutated.
var ErrChecksumMismatch = errors.New("backup: snapshot checksum mismatch")

// ExportOptions configures an export. Credentials are always included.
type ExportOptions struct {
	IncludeGroups     bool
	IncludeNoteGroups bool
	IncludeNotes      bool
	IncludeSettings   bool
	IncludeHistory    bool

	// ArchivePassword selects the encrypted archive format when set.
	// Must be at least 4 characters.
	ArchivePassword string
}

// ImportOptions configures an import.
type ImportOptions struct {
	// ArchivePassword decrypts an archive-format snapshot.
	ArchivePassword string
	// Strategy is merge (default), skip or replace.
	Strategy Strategy
	// ValidateIntegrity statically checks the document and aborts
	// before any mutation if it is invalid.
	ValidateIntegrity bool
	// DryRun returns the validation result without mutating.
	DryRun bool
}

// Result summarizes an import.
type Result struct {
	Imported int
	Skipped  int
	Errors   []string
	Warnings []string
}

// Engine serializes and restores the full vault through the stores.
type Engine struct {
	db          *store.DB
	cipher      *crypto.Cipher
	credentials *store.CredentialStore
	groups      *store.GroupStore
	noteGroups  *store.GroupStore
	notes       *store.NoteStore
	settings    *store.SettingsStore
}

// New returns a backup engine over the shared handle.
func New(db *store.DB, cipher *crypto.Cipher) *Engine {
	return &Engine{
		db:          db,
		cipher:      cipher,
		credentials: store.NewCredentialStore(db, cipher),
		groups:      store.NewCredentialGroupStore(db),
		noteGroups:  store.NewNoteGroupStore(db),
		notes:       store.NewNoteStore(db, cipher),
		settings:    store.NewSettingsStore(db),
	}
}

// Export assembles a snapshot. Secret values stay encrypted; the export
// never writes plaintext secrets.
func (e *Engine) Export(opts ExportOptions) ([]byte, error) {
	doc := &Document{
		Version:    FormatVersion,
		SnapshotID: uuid.NewString(),
		ExportedAt: time.Now().UTC(),
		AppName:    AppName,
	}

	creds, err := e.credentials.All()
	if err != nil {
		return nil, fmt.Errorf("backup: failed to collect credentials: %w", err)
	}
	for _, c := range creds {
		doc.Passwords = append(doc.Passwords, CredentialRecord{
			ID: c.ID, Title: c.Title, Username: c.Username,
			Password: c.Password, MultiAccountData: c.MultiAccountData,
			URL: c.URL, Notes: c.Notes, GroupID: c.GroupID,
			CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt,
		})
	}

	if opts.IncludeGroups {
		doc.Groups, err = exportGroups(e.groups)
		if err != nil {
			return nil, err
		}
	}
	if opts.IncludeNoteGroups {
		doc.NoteGroups, err = exportGroups(e.noteGroups)
		if err != nil {
			return nil, err
		}
	}
	if opts.IncludeNotes {
		notes, err := e.notes.All()
		if err != nil {
			return nil, fmt.Errorf("backup: failed to collect notes: %w", err)
		}
		for _, n := range notes {
			doc.Notes = append(doc.Notes, NoteRecord{
				ID: n.ID, Title: n.Title, Content: n.Content, GroupID: n.GroupID,
				Pinned: n.Pinned, Archived: n.Archived,
				CreatedAt: n.CreatedAt, UpdatedAt: n.UpdatedAt,
			})
		}
	}
	if opts.IncludeSettings {
		settings, err := e.settings.Export("")
		if err != nil {
			return nil, fmt.Errorf("backup: failed to collect settings: %w", err)
		}
		for _, st := range settings {
			doc.UserSettings = append(doc.UserSettings, SettingRecord{
				Key: st.Key, Value: st.Value, Type: st.Type,
				Category: st.Category, Description: st.Description,
			})
		}
	}
	if opts.IncludeHistory {
		history, err := e.credentials.AllHistory()
		if err != nil {
			return nil, fmt.Errorf("backup: failed to collect history: %w", err)
		}
		for _, h := range history {
			doc.PasswordHistory = append(doc.PasswordHistory, HistoryRecord{
				ID: h.ID, CredentialID: h.CredentialID,
				OldPassword: h.OldPassword, NewPassword: h.NewPassword,
				ChangedAt: h.ChangedAt, Reason: h.Reason,
			})
		}
	}

	if err := sealDocument(doc); err != nil {
		return nil, err
	}
	data, err := EncodeDocument(doc)
	if err != nil {
		return nil, err
	}

	if opts.ArchivePassword != "" {
		return wrapArchive(data, opts.ArchivePassword)
	}
	return data, nil
}

func exportGroups(gs *store.GroupStore) ([]GroupRecord, error) {
	groups, err := gs.List()
	if err != nil {
		return nil, fmt.Errorf("backup: failed to collect %s: %w", gs.Table(), err)
	}
	records := make([]GroupRecord, 0, len(groups))
	for _, g := range groups {
		records = append(records, GroupRecord{
			ID: g.ID, Name: g.Name, ParentID: g.ParentID,
			Color: g.Color, SortOrder: g.SortOrder,
			CreatedAt: g.CreatedAt, UpdatedAt: g.UpdatedAt,
		})
	}
	return records, nil
}

// Import parses and merges a snapshot. Entity families are imported in
// dependency order; per-item failures land in Result.Errors without
// aborting the remaining batch.
func (e *Engine) Import(blob []byte, opts ImportOptions) (*Result, error) {
	if opts.Strategy == "" {
		opts.Strategy = StrategyMerge
	}

	if isArchive(blob) {
		document, err := unwrapArchive(blob, opts.ArchivePassword)
		if err != nil {
			return nil, err
		}
		blob = document
	}

	doc, err := DecodeDocument(blob)
	if err != nil {
		return nil, err
	}

	ok, err := checksumMatches(doc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrChecksumMismatch
	}

	result := &Result{}

	if opts.ValidateIntegrity || opts.DryRun {
		errs, warnings := validateDocument(doc)
		result.Warnings = append(result.Warnings, warnings...)
		if len(errs) > 0 {
			result.Errors = errs
			return result, ErrValidationFailed
		}
	}
	if opts.DryRun {
		return result, nil
	}

	if opts.Strategy == StrategyReplace {
		if err := e.clearAll(); err != nil {
			return nil, err
		}
	}

	entityStrategy := opts.Strategy
	if entityStrategy == StrategyReplace {
		// After the clear, replace behaves like a plain merge.
		entityStrategy = StrategyMerge
	}

	groupRemap := e.importGroups(e.groups, doc.Groups, entityStrategy, result)
	noteGroupRemap := e.importGroups(e.noteGroups, doc.NoteGroups, entityStrategy, result)
	e.importNotes(doc.Notes, noteGroupRemap, entityStrategy, result)
	credRemap := e.importCredentials(doc.Passwords, groupRemap, entityStrategy, result)
	e.importSettings(doc.UserSettings, entityStrategy, result)
	e.importHistory(doc.PasswordHistory, credRemap, entityStrategy, result)

	return result, nil
}

// clearAll deletes every vault entity, children before parents.
func (e *Engine) clearAll() error {
	stmts := []string{
		"DELETE FROM password_history",
		"DELETE FROM credentials",
		"DELETE FROM credentials_fts",
		"DELETE FROM notes",
		"DELETE FROM credential_groups",
		"DELETE FROM note_groups",
		"DELETE FROM settings",
	}
	for _, stmt := range stmts {
		if _, err := e.db.SQL().Exec(stmt); err != nil {
			return fmt.Errorf("backup: failed to clear existing data: %w", err)
		}
	}
	return nil
}

// importGroups runs the worklist: repeatedly scan the pending list and
// import every group whose remapped parent is null or already resolved.
// A full pass without progress reports every remaining group as an
// error. Converges in at most N passes for N groups.
func (e *Engine) importGroups(gs *store.GroupStore, records []GroupRecord, strategy Strategy, result *Result) map[int64]int64 {
	remap := make(map[int64]int64, len(records))
	pending := records

	for len(pending) > 0 {
		progress := false
		var next []GroupRecord

		for _, rec := range pending {
			var parent *int64
			if rec.ParentID != nil {
				newID, ok := remap[*rec.ParentID]
				if !ok {
					next = append(next, rec)
					continue
				}
				parent = &newID
			}

			progress = true

			existing, err := gs.GetByName(rec.Name, parent)
			switch {
			case err == nil && strategy == StrategySkip:
				remap[rec.ID] = existing.ID
				result.Skipped++
				continue
			case err == nil:
				existing.Color = rec.Color
				existing.SortOrder = rec.SortOrder
				if saveErr := gs.Save(existing); saveErr != nil {
					result.Errors = append(result.Errors,
						fmt.Sprintf("%s %q: %v", gs.Table(), rec.Name, saveErr))
					continue
				}
				remap[rec.ID] = existing.ID
				result.Imported++
				continue
			case !errors.Is(err, store.ErrGroupNotFound):
				result.Errors = append(result.Errors,
					fmt.Sprintf("%s %q: %v", gs.Table(), rec.Name, err))
				continue
			}

			g := &store.Group{
				Name:      rec.Name,
				ParentID:  parent,
				Color:     rec.Color,
				SortOrder: rec.SortOrder,
			}
			if err := gs.Save(g); err != nil {
				result.Errors = append(result.Errors,
					fmt.Sprintf("%s %q: %v", gs.Table(), rec.Name, err))
				continue
			}
			remap[rec.ID] = g.ID
			result.Imported++
		}

		pending = next
		if !progress {
			for _, rec := range pending {
				result.Errors = append(result.Errors,
					fmt.Sprintf("%s %q (id %d): unresolvable parent (missing or cyclic)", gs.Table(), rec.Name, rec.ID))
			}
			break
		}
	}

	return remap
}

// remapGroupRef rewrites a snapshot group reference through the remap
// table. Unresolvable references become null with a warning.
func remapGroupRef(id *int64, remap map[int64]int64, result *Result, what string) *int64 {
	if id == nil {
		return nil
	}
	newID, ok := remap[*id]
	if !ok {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("%s: group %d not in snapshot, reference cleared", what, *id))
		return nil
	}
	return &newID
}

func (e *Engine) importCredentials(records []CredentialRecord, groupRemap map[int64]int64, strategy Strategy, result *Result) map[int64]int64 {
	remap := make(map[int64]int64, len(records))

	for _, rec := range records {
		groupID := remapGroupRef(rec.GroupID, groupRemap, result, fmt.Sprintf("credential %q", rec.Title))

		existing, err := e.credentials.FindByIdentity(rec.Title, rec.Username, groupID)
		if err != nil && !errors.Is(err, store.ErrCredentialNotFound) {
			result.Errors = append(result.Errors, fmt.Sprintf("credential %q: %v", rec.Title, err))
			continue
		}

		if existing != nil && strategy == StrategySkip {
			remap[rec.ID] = existing.ID
			result.Skipped++
			continue
		}

		c := &store.Credential{
			Title:            rec.Title,
			Username:         rec.Username,
			Password:         rec.Password,
			MultiAccountData: rec.MultiAccountData,
			URL:              rec.URL,
			Notes:            rec.Notes,
			GroupID:          groupID,
		}
		if existing != nil {
			c.ID = existing.ID
		}

		// Save encrypts values lacking the token separator, so plaintext
		// legacy snapshots are upgraded on the way in and tokens pass
		// through untouched.
		if err := e.credentials.Save(c); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("credential %q: %v", rec.Title, err))
			continue
		}
		remap[rec.ID] = c.ID
		result.Imported++
	}

	return remap
}

func (e *Engine) importNotes(records []NoteRecord, groupRemap map[int64]int64, strategy Strategy, result *Result) {
	for _, rec := range records {
		groupID := remapGroupRef(rec.GroupID, groupRemap, result, fmt.Sprintf("note %q", rec.Title))

		existing, err := e.notes.FindByIdentity(rec.Title, groupID)
		if err != nil && !errors.Is(err, store.ErrNoteNotFound) {
			result.Errors = append(result.Errors, fmt.Sprintf("note %q: %v", rec.Title, err))
			continue
		}

		if existing != nil && strategy == StrategySkip {
			result.Skipped++
			continue
		}

		n := &store.Note{
			Title:    rec.Title,
			Content:  rec.Content,
			GroupID:  groupID,
			Pinned:   rec.Pinned,
			Archived: rec.Archived,
		}
		if existing != nil {
			n.ID = existing.ID
		}

		if err := e.notes.Save(n); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("note %q: %v", rec.Title, err))
			continue
		}
		result.Imported++
	}
}

func (e *Engine) importSettings(records []SettingRecord, strategy Strategy, result *Result) {
	for _, rec := range records {
		if strategy == StrategySkip {
			if _, err := e.settings.Get(rec.Key); err == nil {
				result.Skipped++
				continue
			}
		}

		st := &store.Setting{
			Key:         rec.Key,
			Value:       rec.Value,
			Type:        rec.Type,
			Category:    rec.Category,
			Description: rec.Description,
		}
		if st.Type == "" {
			st.Type = store.SettingTypeString
		}
		if st.Category == "" {
			st.Category = "general"
		}

		if err := e.settings.Put(st); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("setting %q: %v", rec.Key, err))
			continue
		}
		result.Imported++
	}
}

func (e *Engine) importHistory(records []HistoryRecord, credRemap map[int64]int64, strategy Strategy, result *Result) {
	for _, rec := range records {
		credID, ok := credRemap[rec.CredentialID]
		if !ok {
			result.Errors = append(result.Errors,
				fmt.Sprintf("history %d: references credential %d missing from snapshot", rec.ID, rec.CredentialID))
			continue
		}

		if strategy == StrategySkip {
			var exists int
			err := e.db.SQL().QueryRow(
				"SELECT COUNT(*) FROM password_history WHERE credential_id = ? AND changed_at = ?",
				credID, rec.ChangedAt.UTC()).Scan(&exists)
			if err == nil && exists > 0 {
				result.Skipped++
				continue
			}
		}

		oldPassword, err := e.tokenize(rec.OldPassword)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("history %d: %v", rec.ID, err))
			continue
		}
		newPassword, err := e.tokenize(rec.NewPassword)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("history %d: %v", rec.ID, err))
			continue
		}

		entry := &store.PasswordHistoryEntry{
			CredentialID: credID,
			OldPassword:  oldPassword,
			NewPassword:  newPassword,
			ChangedAt:    rec.ChangedAt,
			Reason:       rec.Reason,
		}
		if err := e.credentials.AppendHistory(entry); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("history %d: %v", rec.ID, err))
			continue
		}
		result.Imported++
	}
}

// tokenize encrypts a value unless it is empty or already a token.
// The separator check gates re-encryption, so applying this to an
// already-imported snapshot never double-encrypts.
func (e *Engine) tokenize(value string) (string, error) {
	if value == "" || crypto.IsToken(value) {
		return value, nil
	}
	token, err := e.cipher.Encrypt(value)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt legacy value: %w", err)
	}
	return token, nil
}
