package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keyhaven/keyhaven/pkg/crypto"
)

// Note validation limits
const (
	MaxNoteTitleLength   = 255
	MaxNoteContentLength = 100_000
)

// Note errors
var (
	ErrNoteNotFound        = errors.New("store: note not found")
	ErrNoteTitleRequired   = errors.New("store: note title is required")
	ErrNoteTitleTooLong    = errors.New("store: note title is too long")
	ErrNoteContentRequired = errors.New("store: note content is required")
	ErrNoteContentTooLarge = errors.New("store: note content is too large")
)

// Note is a free-text secure note. Content is a ciphertext token at
// rest; Get returns it decrypted.
type Note struct {
	ID        int64
	Title     string
	Content   string
	GroupID   *int64
	Pinned    bool
	Archived  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NoteStore implements CRUD for secure notes under the note-group
// hierarchy. No history, no search index; titles are searched by
// substring only.
type NoteStore struct {
	db     *sql.DB
	cipher *crypto.Cipher
}

// NewNoteStore returns a note store over the shared handle.
func NewNoteStore(db *DB, cipher *crypto.Cipher) *NoteStore {
	return &NoteStore{db: db.SQL(), cipher: cipher}
}

func (s *NoteStore) validate(n *Note) error {
	if strings.TrimSpace(n.Title) == "" {
		return ErrNoteTitleRequired
	}
	if len(n.Title) > MaxNoteTitleLength {
		return ErrNoteTitleTooLong
	}
	if n.Content == "" {
		return ErrNoteContentRequired
	}
	if len(n.Content) > MaxNoteContentLength {
		return ErrNoteContentTooLarge
	}
	return nil
}

// Save inserts the note when ID is zero, otherwise updates it.
func (s *NoteStore) Save(n *Note) error {
	if err := s.validate(n); err != nil {
		return err
	}

	if n.GroupID != nil {
		var exists int
		err := s.db.QueryRow("SELECT COUNT(*) FROM note_groups WHERE id = ?", *n.GroupID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("store: failed to check note group: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("%w: id %d", ErrGroupNotFound, *n.GroupID)
		}
	}

	content := n.Content
	if !crypto.IsToken(content) {
		token, err := s.cipher.Encrypt(content)
		if err != nil {
			return fmt.Errorf("store: failed to encrypt note content: %w", err)
		}
		content = token
	}

	now := time.Now().UTC()

	if n.ID == 0 {
		res, err := s.db.Exec(`
			INSERT INTO notes (title, content, group_id, pinned, archived, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			n.Title, content, nullableID(n.GroupID), n.Pinned, n.Archived, now, now)
		if err != nil {
			return fmt.Errorf("store: failed to insert note: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("store: failed to get note id: %w", err)
		}
		n.ID = id
		n.CreatedAt = now
	} else {
		res, err := s.db.Exec(`
			UPDATE notes SET title = ?, content = ?, group_id = ?, pinned = ?, archived = ?, updated_at = ?
			WHERE id = ?`,
			n.Title, content, nullableID(n.GroupID), n.Pinned, n.Archived, now, n.ID)
		if err != nil {
			return fmt.Errorf("store: failed to update note: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("store: failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return ErrNoteNotFound
		}
	}

	n.Content = content
	n.UpdatedAt = now
	return nil
}

// Get retrieves a note by id with decrypted content.
func (s *NoteStore) Get(id int64) (*Note, error) {
	row := s.db.QueryRow(`
		SELECT id, title, content, group_id, pinned, archived, created_at, updated_at
		FROM notes WHERE id = ?`, id)

	n, err := scanNote(row)
	if err != nil {
		return nil, err
	}
	n.Content = s.cipher.Decrypt(n.Content)
	return n, nil
}

func scanNote(row rowScanner) (*Note, error) {
	n := &Note{}
	var groupID sql.NullInt64
	err := row.Scan(&n.ID, &n.Title, &n.Content, &groupID, &n.Pinned, &n.Archived, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to scan note: %w", err)
	}
	if groupID.Valid {
		n.GroupID = &groupID.Int64
	}
	return n, nil
}

func (s *NoteStore) queryNotes(query string, args ...any) ([]*Note, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query notes: %w", err)
	}
	defer rows.Close()

	var notes []*Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: error iterating notes: %w", err)
	}
	return notes, nil
}

const noteColumns = "id, title, content, group_id, pinned, archived, created_at, updated_at"

// List returns notes newest-first, optionally filtered by group.
// Content stays in its at-rest token form; use Get to decrypt.
func (s *NoteStore) List(groupID *int64) ([]*Note, error) {
	if groupID == nil {
		return s.queryNotes(fmt.Sprintf(
			"SELECT %s FROM notes ORDER BY pinned DESC, created_at DESC, id DESC", noteColumns))
	}
	return s.queryNotes(fmt.Sprintf(
		"SELECT %s FROM notes WHERE group_id = ? ORDER BY pinned DESC, created_at DESC, id DESC", noteColumns), *groupID)
}

// All returns every note row as persisted, for the backup engine.
func (s *NoteStore) All() ([]*Note, error) {
	return s.queryNotes(fmt.Sprintf("SELECT %s FROM notes ORDER BY id", noteColumns))
}

// SearchByTitle finds notes whose title contains the query substring.
func (s *NoteStore) SearchByTitle(q string) ([]*Note, error) {
	return s.queryNotes(fmt.Sprintf(
		"SELECT %s FROM notes WHERE title LIKE ? ORDER BY updated_at DESC, id DESC", noteColumns),
		"%"+q+"%")
}

// FindByIdentity locates a note by title within a group scope, for the
// backup importer's merge/skip decisions.
func (s *NoteStore) FindByIdentity(title string, groupID *int64) (*Note, error) {
	query := fmt.Sprintf("SELECT %s FROM notes WHERE title = ?", noteColumns)
	args := []any{title}
	if groupID == nil {
		query += " AND group_id IS NULL"
	} else {
		query += " AND group_id = ?"
		args = append(args, *groupID)
	}
	row := s.db.QueryRow(query, args...)
	return scanNote(row)
}

// Delete removes a note.
func (s *NoteStore) Delete(id int64) error {
	res, err := s.db.Exec("DELETE FROM notes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("store: failed to delete note: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNoteNotFound
	}
	return nil
}
