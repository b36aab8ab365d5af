package store

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/keyhaven/keyhaven/pkg/crypto"
)

// Credential validation limits
const (
	MaxTitleLength        = 255
	MaxUsernameLength     = 255
	MaxURLLength          = 2048
	MaxCredentialNotes    = 10_000
	MaxMultiAccountLength = 100_000
)

// Credential errors
var (
	ErrCredentialNotFound   = errors.New("store: credential not found")
	ErrTitleRequired        = errors.New("store: title is required")
	ErrTitleTooLong         = errors.New("store: title is too long")
	ErrUsernameRequired     = errors.New("store: username is required")
	ErrUsernameTooLong      = errors.New("store: username is too long")
	ErrSecretRequired       = errors.New("store: a password or multi-account data is required")
	ErrURLTooLong           = errors.New("store: url is too long")
	ErrURLInvalid           = errors.New("store: invalid url format")
	ErrNotesTooLarge        = errors.New("store: notes are too large")
	ErrMultiAccountTooLarge = errors.New("store: multi-account data is too large")
)

// bareHostRegex is the relaxed fallback for URLs without a scheme, e.g.
// "intranet.local" or "router.lan:8080".
var bareHostRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?)*(:\d{1,5})?(/\S*)?$`)

// Credential is a password-type secret. Password and MultiAccountData
// are ciphertext tokens at rest; Get returns them decrypted.
type Credential struct {
	ID               int64
	Title            string
	Username         string
	Password         string
	MultiAccountData string
	URL              string
	Notes            string
	GroupID          *int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PasswordHistoryEntry records one password change. Entries are
// append-only and never mutated.
type PasswordHistoryEntry struct {
	ID           int64
	CredentialID int64
	OldPassword  string
	NewPassword  string
	ChangedAt    time.Time
	Reason       string
}

// AdvancedQuery describes an advanced credential search. Zero-valued
// fields are ignored. Results are ordered most-recently-updated first.
type AdvancedQuery struct {
	Keyword       string
	Title         string
	Username      string
	URL           string
	GroupID       *int64
	UpdatedAfter  *time.Time
	UpdatedBefore *time.Time
}

// CredentialStore implements CRUD, versioned history and search for
// password-type secrets.
type CredentialStore struct {
	db     *sql.DB
	cipher *crypto.Cipher
}

// NewCredentialStore returns a credential store over the shared handle.
func NewCredentialStore(db *DB, cipher *crypto.Cipher) *CredentialStore {
	return &CredentialStore{db: db.SQL(), cipher: cipher}
}

func (s *CredentialStore) validate(c *Credential, isUpdate bool) error {
	if strings.TrimSpace(c.Title) == "" {
		return ErrTitleRequired
	}
	if len(c.Title) > MaxTitleLength {
		return ErrTitleTooLong
	}
	if strings.TrimSpace(c.Username) == "" {
		return ErrUsernameRequired
	}
	if len(c.Username) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	if len(c.URL) > MaxURLLength {
		return ErrURLTooLong
	}
	if c.URL != "" {
		if err := validateCredentialURL(c.URL); err != nil {
			return err
		}
	}
	if len(c.Notes) > MaxCredentialNotes {
		return ErrNotesTooLarge
	}
	if len(c.MultiAccountData) > MaxMultiAccountLength {
		return ErrMultiAccountTooLarge
	}
	if !isUpdate && c.Password == "" && c.MultiAccountData == "" {
		return ErrSecretRequired
	}
	return nil
}

func validateCredentialURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err == nil && (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != "" {
		return nil
	}
	// Relaxed fallback: bare hostnames without a scheme are accepted.
	if bareHostRegex.MatchString(raw) && strings.Contains(raw, ".") {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrURLInvalid, raw)
}

// Save inserts the credential when ID is zero, otherwise updates it.
// Plaintext password/multi-account values are encrypted; values already
// in token form are stored as-is. On update, an omitted password keeps
// the stored one, and a changed password appends a history row.
func (s *CredentialStore) Save(c *Credential) error {
	return s.save(c, "")
}

// UpdateWithHistory is Save with an explicit reason recorded on the
// history row if the password changes.
func (s *CredentialStore) UpdateWithHistory(c *Credential, reason string) error {
	if c.ID == 0 {
		return ErrCredentialNotFound
	}
	return s.save(c, reason)
}

func (s *CredentialStore) save(c *Credential, reason string) error {
	isUpdate := c.ID != 0
	if err := s.validate(c, isUpdate); err != nil {
		return err
	}

	if c.GroupID != nil {
		var exists int
		err := s.db.QueryRow("SELECT COUNT(*) FROM credential_groups WHERE id = ?", *c.GroupID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("store: failed to check group: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("%w: id %d", ErrGroupNotFound, *c.GroupID)
		}
	}

	password, err := s.encryptIfPlain(c.Password)
	if err != nil {
		return err
	}
	multiAccount, err := s.encryptIfPlain(c.MultiAccountData)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if !isUpdate {
		res, err := tx.Exec(`
			INSERT INTO credentials (title, username, password, multi_account_data, url, notes, group_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.Title, c.Username, password, multiAccount, c.URL, c.Notes, nullableID(c.GroupID), now, now)
		if err != nil {
			return fmt.Errorf("store: failed to insert credential: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("store: failed to get credential id: %w", err)
		}
		c.ID = id
		c.CreatedAt = now
	} else {
		var oldPassword, oldMulti string
		err := tx.QueryRow("SELECT password, multi_account_data FROM credentials WHERE id = ?", c.ID).
			Scan(&oldPassword, &oldMulti)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrCredentialNotFound
		}
		if err != nil {
			return fmt.Errorf("store: failed to read credential: %w", err)
		}

		// An empty incoming value keeps the stored ciphertext.
		if password == "" {
			password = oldPassword
		}
		if multiAccount == "" {
			multiAccount = oldMulti
		}
		if password == "" && multiAccount == "" {
			return ErrSecretRequired
		}

		_, err = tx.Exec(`
			UPDATE credentials
			SET title = ?, username = ?, password = ?, multi_account_data = ?, url = ?, notes = ?, group_id = ?, updated_at = ?
			WHERE id = ?`,
			c.Title, c.Username, password, multiAccount, c.URL, c.Notes, nullableID(c.GroupID), now, c.ID)
		if err != nil {
			return fmt.Errorf("store: failed to update credential: %w", err)
		}

		// Changed ciphertext means a changed password: append exactly
		// one immutable history row capturing old and new.
		if oldPassword != password {
			_, err = tx.Exec(`
				INSERT INTO password_history (credential_id, old_password, new_password, changed_at, reason)
				VALUES (?, ?, ?, ?, ?)`,
				c.ID, oldPassword, password, now, reason)
			if err != nil {
				return fmt.Errorf("store: failed to append password history: %w", err)
			}
		}
	}

	if err := indexUpsert(tx, c.ID, c.Title, c.Username, c.URL, c.Notes); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: failed to commit transaction: %w", err)
	}

	c.Password = password
	c.MultiAccountData = multiAccount
	c.UpdatedAt = now
	return nil
}

func (s *CredentialStore) encryptIfPlain(value string) (string, error) {
	if value == "" || crypto.IsToken(value) {
		return value, nil
	}
	token, err := s.cipher.Encrypt(value)
	if err != nil {
		return "", fmt.Errorf("store: failed to encrypt secret: %w", err)
	}
	return token, nil
}

// indexUpsert replaces a credential's row in the search index inside the
// caller's transaction. Every write path goes through here; the index
// has no independent invalidation.
func indexUpsert(tx *sql.Tx, id int64, title, username, urlStr, notes string) error {
	if _, err := tx.Exec("DELETE FROM credentials_fts WHERE credential_id = ?", id); err != nil {
		return fmt.Errorf("store: failed to clear search index row: %w", err)
	}
	_, err := tx.Exec(`
		INSERT INTO credentials_fts (title, username, url, notes, credential_id)
		VALUES (?, ?, ?, ?, ?)`,
		norm.NFC.String(title), norm.NFC.String(username), norm.NFC.String(urlStr), norm.NFC.String(notes), id)
	if err != nil {
		return fmt.Errorf("store: failed to update search index: %w", err)
	}
	return nil
}

func indexRemove(tx *sql.Tx, id int64) error {
	if _, err := tx.Exec("DELETE FROM credentials_fts WHERE credential_id = ?", id); err != nil {
		return fmt.Errorf("store: failed to remove search index row: %w", err)
	}
	return nil
}

// Get retrieves a credential by id with decrypted secret fields.
func (s *CredentialStore) Get(id int64) (*Credential, error) {
	row := s.db.QueryRow(`
		SELECT id, title, username, password, multi_account_data, url, notes, group_id, created_at, updated_at
		FROM credentials WHERE id = ?`, id)

	c, err := scanCredential(row)
	if err != nil {
		return nil, err
	}
	c.Password = s.cipher.Decrypt(c.Password)
	c.MultiAccountData = s.cipher.Decrypt(c.MultiAccountData)
	return c, nil
}

func scanCredential(row rowScanner) (*Credential, error) {
	c := &Credential{}
	var groupID sql.NullInt64
	err := row.Scan(&c.ID, &c.Title, &c.Username, &c.Password, &c.MultiAccountData,
		&c.URL, &c.Notes, &groupID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to scan credential: %w", err)
	}
	if groupID.Valid {
		c.GroupID = &groupID.Int64
	}
	return c, nil
}

func (s *CredentialStore) queryCredentials(query string, args ...any) ([]*Credential, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query credentials: %w", err)
	}
	defer rows.Close()

	var creds []*Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: error iterating credentials: %w", err)
	}
	return creds, nil
}

const credentialColumns = "id, title, username, password, multi_account_data, url, notes, group_id, created_at, updated_at"

// List returns credentials newest-first, optionally filtered by group.
// Secret fields stay in their at-rest token form; use Get to decrypt.
func (s *CredentialStore) List(groupID *int64) ([]*Credential, error) {
	if groupID == nil {
		return s.queryCredentials(fmt.Sprintf(
			"SELECT %s FROM credentials ORDER BY created_at DESC, id DESC", credentialColumns))
	}
	return s.queryCredentials(fmt.Sprintf(
		"SELECT %s FROM credentials WHERE group_id = ? ORDER BY created_at DESC, id DESC", credentialColumns), *groupID)
}

// All returns every credential row as persisted, for the backup engine.
// Secret fields keep their ciphertext tokens.
func (s *CredentialStore) All() ([]*Credential, error) {
	return s.queryCredentials(fmt.Sprintf(
		"SELECT %s FROM credentials ORDER BY id", credentialColumns))
}

// Delete removes a credential and its search index row. History rows are
// left behind on purpose; the integrity auditor cleans orphans en masse.
func (s *CredentialStore) Delete(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM credentials WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("store: failed to delete credential: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrCredentialNotFound
	}

	if err := indexRemove(tx, id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: failed to commit transaction: %w", err)
	}
	return nil
}

// ftsQuery builds the MATCH expression: a multi-word keyword is an exact
// phrase, a single word is an open prefix term.
func ftsQuery(keyword string) string {
	keyword = norm.NFC.String(strings.TrimSpace(keyword))
	keyword = strings.ReplaceAll(keyword, `"`, `""`)
	if strings.ContainsAny(keyword, " \t") {
		return `"` + keyword + `"`
	}
	return `"` + keyword + `"*`
}

// Search finds credentials whose indexed text matches the keyword,
// most-recently-updated first.
func (s *CredentialStore) Search(keyword string) ([]*Credential, error) {
	if strings.TrimSpace(keyword) == "" {
		return s.List(nil)
	}
	return s.queryCredentials(fmt.Sprintf(`
		SELECT %s FROM credentials
		WHERE id IN (SELECT credential_id FROM credentials_fts WHERE credentials_fts MATCH ?)
		ORDER BY updated_at DESC, id DESC`, credentialColumns), ftsQuery(keyword))
}

// AdvancedSearch combines field filters, keyword, date range and group.
func (s *CredentialStore) AdvancedSearch(q AdvancedQuery) ([]*Credential, error) {
	var conds []string
	var args []any

	if strings.TrimSpace(q.Keyword) != "" {
		conds = append(conds, "id IN (SELECT credential_id FROM credentials_fts WHERE credentials_fts MATCH ?)")
		args = append(args, ftsQuery(q.Keyword))
	}
	if q.Title != "" {
		conds = append(conds, "title LIKE ?")
		args = append(args, "%"+q.Title+"%")
	}
	if q.Username != "" {
		conds = append(conds, "username LIKE ?")
		args = append(args, "%"+q.Username+"%")
	}
	if q.URL != "" {
		conds = append(conds, "url LIKE ?")
		args = append(args, "%"+q.URL+"%")
	}
	if q.GroupID != nil {
		conds = append(conds, "group_id = ?")
		args = append(args, *q.GroupID)
	}
	if q.UpdatedAfter != nil {
		conds = append(conds, "updated_at >= ?")
		args = append(args, q.UpdatedAfter.UTC())
	}
	if q.UpdatedBefore != nil {
		conds = append(conds, "updated_at <= ?")
		args = append(args, q.UpdatedBefore.UTC())
	}

	query := fmt.Sprintf("SELECT %s FROM credentials", credentialColumns)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY updated_at DESC, id DESC"

	return s.queryCredentials(query, args...)
}

// StaleSince returns credentials not updated for at least age, oldest
// first, for password-rotation reminders.
func (s *CredentialStore) StaleSince(age time.Duration) ([]*Credential, error) {
	cutoff := time.Now().UTC().Add(-age)
	return s.queryCredentials(fmt.Sprintf(
		"SELECT %s FROM credentials WHERE updated_at <= ? ORDER BY updated_at, id", credentialColumns), cutoff)
}

// GetMultiAccount returns the decrypted multi-account blob.
func (s *CredentialStore) GetMultiAccount(id int64) (string, error) {
	var stored string
	err := s.db.QueryRow("SELECT multi_account_data FROM credentials WHERE id = ?", id).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrCredentialNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: failed to read multi-account data: %w", err)
	}
	return s.cipher.Decrypt(stored), nil
}

// SetMultiAccount replaces the multi-account blob.
func (s *CredentialStore) SetMultiAccount(id int64, data string) error {
	if len(data) > MaxMultiAccountLength {
		return ErrMultiAccountTooLarge
	}
	token, err := s.encryptIfPlain(data)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(
		"UPDATE credentials SET multi_account_data = ?, updated_at = ? WHERE id = ?",
		token, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("store: failed to update multi-account data: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// History returns a credential's password history newest-first with
// old/new values decrypted. At rest they stay encrypted.
func (s *CredentialStore) History(credentialID int64) ([]*PasswordHistoryEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, credential_id, old_password, new_password, changed_at, reason
		FROM password_history WHERE credential_id = ?
		ORDER BY changed_at DESC, id DESC`, credentialID)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query password history: %w", err)
	}
	defer rows.Close()

	var entries []*PasswordHistoryEntry
	for rows.Next() {
		e := &PasswordHistoryEntry{}
		if err := rows.Scan(&e.ID, &e.CredentialID, &e.OldPassword, &e.NewPassword, &e.ChangedAt, &e.Reason); err != nil {
			return nil, fmt.Errorf("store: failed to scan history entry: %w", err)
		}
		e.OldPassword = s.cipher.Decrypt(e.OldPassword)
		e.NewPassword = s.cipher.Decrypt(e.NewPassword)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: error iterating history: %w", err)
	}
	return entries, nil
}

// AllHistory returns every history row as persisted (ciphertext kept),
// for the backup engine.
func (s *CredentialStore) AllHistory() ([]*PasswordHistoryEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, credential_id, old_password, new_password, changed_at, reason
		FROM password_history ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query password history: %w", err)
	}
	defer rows.Close()

	var entries []*PasswordHistoryEntry
	for rows.Next() {
		e := &PasswordHistoryEntry{}
		if err := rows.Scan(&e.ID, &e.CredentialID, &e.OldPassword, &e.NewPassword, &e.ChangedAt, &e.Reason); err != nil {
			return nil, fmt.Errorf("store: failed to scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: error iterating history: %w", err)
	}
	return entries, nil
}

// AppendHistory writes one history row directly. The backup importer
// uses this to restore exported history; values must already be tokens.
func (s *CredentialStore) AppendHistory(e *PasswordHistoryEntry) error {
	if e.CredentialID == 0 || e.NewPassword == "" {
		return errors.New("store: history entry requires credential id and new password")
	}
	changedAt := e.ChangedAt
	if changedAt.IsZero() {
		changedAt = time.Now().UTC()
	}
	res, err := s.db.Exec(`
		INSERT INTO password_history (credential_id, old_password, new_password, changed_at, reason)
		VALUES (?, ?, ?, ?, ?)`,
		e.CredentialID, e.OldPassword, e.NewPassword, changedAt, e.Reason)
	if err != nil {
		return fmt.Errorf("store: failed to append password history: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: failed to get history id: %w", err)
	}
	e.ID = id
	e.ChangedAt = changedAt
	return nil
}

// FindByIdentity locates a credential by its natural key (title +
// username within a group scope). The backup importer uses this for
// merge/skip decisions.
func (s *CredentialStore) FindByIdentity(title, username string, groupID *int64) (*Credential, error) {
	query := fmt.Sprintf("SELECT %s FROM credentials WHERE title = ? AND username = ?", credentialColumns)
	args := []any{title, username}
	if groupID == nil {
		query += " AND group_id IS NULL"
	} else {
		query += " AND group_id = ?"
		args = append(args, *groupID)
	}

	row := s.db.QueryRow(query, args...)
	return scanCredential(row)
}
