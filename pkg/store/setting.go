package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Setting value types
const (
	SettingTypeString  = "string"
	SettingTypeNumber  = "number"
	SettingTypeBoolean = "boolean"
	SettingTypeJSON    = "json"
)

// SettingCategories is the closed category enum.
var SettingCategories = []string{"general", "security", "backup", "appearance"}

// Setting errors
var (
	ErrSettingNotFound        = errors.New("store: setting not found")
	ErrSettingKeyInvalid      = errors.New("store: setting key must be a dotted lowercase identifier")
	ErrSettingTypeInvalid     = errors.New("store: setting type is invalid")
	ErrSettingCategoryInvalid = errors.New("store: setting category is invalid")
	ErrSettingValueInvalid    = errors.New("store: setting value does not match its type")
	ErrSettingNoDefault       = errors.New("store: setting has no registered default")
)

// settingKeyRegex: dotted lowercase identifiers, e.g. security.auto_lock_timeout.
var settingKeyRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)+$`)

// Setting is one typed key/value configuration entry. Keys are globally
// unique; the registry is flat, not hierarchical.
type Setting struct {
	ID          int64
	Key         string
	Value       string
	Type        string
	Category    string
	Description string
	UpdatedAt   time.Time
}

// defaultSettings is seeded idempotently on first initialization.
var defaultSettings = []Setting{
	{Key: "security.auto_lock_timeout", Value: "300", Type: SettingTypeNumber, Category: "security",
		Description: "Seconds of inactivity before the vault locks"},
	{Key: "security.clipboard_clear_seconds", Value: "30", Type: SettingTypeNumber, Category: "security",
		Description: "Seconds before copied secrets are cleared from the clipboard"},
	{Key: "security.password_stale_days", Value: "180", Type: SettingTypeNumber, Category: "security",
		Description: "Days after which a password counts as stale"},
	{Key: "backup.auto_enabled", Value: "false", Type: SettingTypeBoolean, Category: "backup",
		Description: "Run automatic backups"},
	{Key: "backup.include_history", Value: "true", Type: SettingTypeBoolean, Category: "backup",
		Description: "Include password history in backups"},
	{Key: "backup.last_run", Value: "", Type: SettingTypeString, Category: "backup",
		Description: "Timestamp of the last completed backup"},
	{Key: "ui.theme", Value: "system", Type: SettingTypeString, Category: "appearance",
		Description: "Color theme: system, light or dark"},
	{Key: "ui.group_colors", Value: "{}", Type: SettingTypeJSON, Category: "appearance",
		Description: "Per-group color overrides"},
	{Key: "general.default_group", Value: "", Type: SettingTypeString, Category: "general",
		Description: "Group preselected for new credentials"},
}

// SettingsStore is the flat typed key/value registry.
type SettingsStore struct {
	db *sql.DB
}

// NewSettingsStore returns a settings store over the shared handle.
func NewSettingsStore(db *DB) *SettingsStore {
	return &SettingsStore{db: db.SQL()}
}

func validateSetting(s *Setting) error {
	if !settingKeyRegex.MatchString(s.Key) {
		return fmt.Errorf("%w: %q", ErrSettingKeyInvalid, s.Key)
	}
	switch s.Type {
	case SettingTypeString, SettingTypeNumber, SettingTypeBoolean, SettingTypeJSON:
	default:
		return fmt.Errorf("%w: %q", ErrSettingTypeInvalid, s.Type)
	}
	valid := false
	for _, c := range SettingCategories {
		if c == s.Category {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: %q", ErrSettingCategoryInvalid, s.Category)
	}
	return nil
}

func checkSettingValue(typ, value string) error {
	switch typ {
	case SettingTypeNumber:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return fmt.Errorf("%w: %q is not a number", ErrSettingValueInvalid, value)
		}
	case SettingTypeBoolean:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("%w: %q is not a boolean", ErrSettingValueInvalid, value)
		}
	case SettingTypeJSON:
		if !json.Valid([]byte(value)) {
			return fmt.Errorf("%w: invalid json", ErrSettingValueInvalid)
		}
	}
	return nil
}

// Seed inserts every default setting that is not already present.
// Safe to call on every startup.
func (s *SettingsStore) Seed() error {
	for i := range defaultSettings {
		def := defaultSettings[i]
		var exists int
		err := s.db.QueryRow("SELECT COUNT(*) FROM settings WHERE key = ?", def.Key).Scan(&exists)
		if err != nil {
			return fmt.Errorf("store: failed to check setting %q: %w", def.Key, err)
		}
		if exists > 0 {
			continue
		}
		_, err = s.db.Exec(`
			INSERT INTO settings (key, value, type, category, description, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			def.Key, def.Value, def.Type, def.Category, def.Description, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("store: failed to seed setting %q: %w", def.Key, err)
		}
	}
	return nil
}

// Get retrieves a setting by key.
func (s *SettingsStore) Get(key string) (*Setting, error) {
	row := s.db.QueryRow(`
		SELECT id, key, value, type, category, description, updated_at
		FROM settings WHERE key = ? ORDER BY updated_at DESC, id DESC LIMIT 1`, key)
	return scanSetting(row)
}

func scanSetting(row rowScanner) (*Setting, error) {
	st := &Setting{}
	err := row.Scan(&st.ID, &st.Key, &st.Value, &st.Type, &st.Category, &st.Description, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSettingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to scan setting: %w", err)
	}
	return st, nil
}

// Set updates the value of an existing setting, validating it against
// the stored type tag.
func (s *SettingsStore) Set(key, value string) error {
	existing, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := checkSettingValue(existing.Type, value); err != nil {
		return err
	}
	_, err = s.db.Exec("UPDATE settings SET value = ?, updated_at = ? WHERE key = ?",
		value, time.Now().UTC(), key)
	if err != nil {
		return fmt.Errorf("store: failed to set %q: %w", key, err)
	}
	return nil
}

// Put upserts a full setting row by key. Used by the backup importer.
func (s *SettingsStore) Put(st *Setting) error {
	if err := validateSetting(st); err != nil {
		return err
	}
	if err := checkSettingValue(st.Type, st.Value); err != nil {
		return err
	}

	now := time.Now().UTC()
	existing, err := s.Get(st.Key)
	if err != nil && !errors.Is(err, ErrSettingNotFound) {
		return err
	}
	if existing != nil {
		_, err = s.db.Exec(`
			UPDATE settings SET value = ?, type = ?, category = ?, description = ?, updated_at = ?
			WHERE id = ?`,
			st.Value, st.Type, st.Category, st.Description, now, existing.ID)
		if err != nil {
			return fmt.Errorf("store: failed to update setting %q: %w", st.Key, err)
		}
		st.ID = existing.ID
		st.UpdatedAt = now
		return nil
	}

	res, err := s.db.Exec(`
		INSERT INTO settings (key, value, type, category, description, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		st.Key, st.Value, st.Type, st.Category, st.Description, now)
	if err != nil {
		return fmt.Errorf("store: failed to insert setting %q: %w", st.Key, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: failed to get setting id: %w", err)
	}
	st.ID = id
	st.UpdatedAt = now
	return nil
}

// GetString returns the string value, or def on any failure.
func (s *SettingsStore) GetString(key, def string) string {
	st, err := s.Get(key)
	if err != nil || st.Type != SettingTypeString {
		return def
	}
	return st.Value
}

// GetNumber returns the numeric value, or def on any failure.
func (s *SettingsStore) GetNumber(key string, def float64) float64 {
	st, err := s.Get(key)
	if err != nil || st.Type != SettingTypeNumber {
		return def
	}
	v, err := strconv.ParseFloat(st.Value, 64)
	if err != nil {
		return def
	}
	return v
}

// GetBool returns the boolean value, or def on any failure.
func (s *SettingsStore) GetBool(key string, def bool) bool {
	st, err := s.Get(key)
	if err != nil || st.Type != SettingTypeBoolean {
		return def
	}
	v, err := strconv.ParseBool(st.Value)
	if err != nil {
		return def
	}
	return v
}

// GetJSON unmarshals the value into out and reports success.
// Never raises; a false return means out was not touched reliably.
func (s *SettingsStore) GetJSON(key string, out any) bool {
	st, err := s.Get(key)
	if err != nil || st.Type != SettingTypeJSON {
		return false
	}
	return json.Unmarshal([]byte(st.Value), out) == nil
}

// ResetKey restores a single setting to its registered default.
func (s *SettingsStore) ResetKey(key string) error {
	for i := range defaultSettings {
		if defaultSettings[i].Key == key {
			def := defaultSettings[i]
			return s.Put(&def)
		}
	}
	return fmt.Errorf("%w: %q", ErrSettingNoDefault, key)
}

// ResetAll restores every registered default.
func (s *SettingsStore) ResetAll() error {
	for i := range defaultSettings {
		def := defaultSettings[i]
		if err := s.Put(&def); err != nil {
			return err
		}
	}
	return nil
}

// Export returns settings, optionally filtered by category, for the
// backup engine.
func (s *SettingsStore) Export(category string) ([]*Setting, error) {
	query := "SELECT id, key, value, type, category, description, updated_at FROM settings"
	var args []any
	if category != "" {
		query += " WHERE category = ?"
		args = append(args, category)
	}
	query += " ORDER BY key"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: failed to export settings: %w", err)
	}
	defer rows.Close()

	var settings []*Setting
	for rows.Next() {
		st, err := scanSetting(rows)
		if err != nil {
			return nil, err
		}
		settings = append(settings, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: error iterating settings: %w", err)
	}
	return settings, nil
}

// Import upserts a batch of settings. Invalid entries fail individually;
// the first failure is returned after the batch completes.
func (s *SettingsStore) Import(settings []*Setting) error {
	var firstErr error
	for _, st := range settings {
		if err := s.Put(st); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
