// Package integrity checks and repairs vault data consistency.
//
// Check scans the raw tables for referential breakage, duplicates and
// malformed values without mutating anything. Repair applies a fixed
// set of independent fixes; each fix that fails is reported and the
// rest still run.
package integrity

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/keyhaven/keyhaven/pkg/store"
)

// staleHistoryAge is the age past which history entries are flagged as
// candidates for pruning.
const staleHistoryAge = 365 * 24 * time.Hour

// timestampLayouts are the formats a stored timestamp may legitimately
// carry, covering driver-written values and hand-migrated text.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// CheckResult reports the findings of a consistency scan. Errors are
// conditions Repair can act on or that break invariants; warnings are
// advisory.
type CheckResult struct {
	IsValid  bool
	Errors   []string
	Warnings []string
}

// RepairResult reports what Repair changed.
type RepairResult struct {
	Repaired []string
	Failed   []string
}

// Auditor inspects the vault database directly, below the store layer,
// so it can observe rows the stores would refuse to produce.
type Auditor struct {
	db *sql.DB
}

// New returns an auditor over the shared handle.
func New(db *store.DB) *Auditor {
	return &Auditor{db: db.SQL()}
}

// Check runs every consistency check and aggregates the findings.
// The database is not modified.
func (a *Auditor) Check() (*CheckResult, error) {
	r := &CheckResult{}

	checks := []func(*CheckResult) error{
		a.checkDanglingGroupRefs,
		a.checkDanglingHistory,
		a.checkDuplicateSettings,
		a.checkDuplicateSiblings,
		a.checkBlankFields,
		a.checkOversizedFields,
		a.checkTimestamps,
		a.checkGroupCycles,
		a.checkEmptyGroups,
		a.checkStaleHistory,
	}
	for _, check := range checks {
		if err := check(r); err != nil {
			return nil, err
		}
	}

	r.IsValid = len(r.Errors) == 0
	return r, nil
}

func (a *Auditor) checkDanglingGroupRefs(r *CheckResult) error {
	type target struct {
		table, label, groupTable string
	}
	targets := []target{
		{"credentials", "credential", "credential_groups"},
		{"notes", "note", "note_groups"},
	}

	for _, t := range targets {
		query := fmt.Sprintf(`
			SELECT e.id, e.title FROM %s e
			WHERE e.group_id IS NOT NULL
			  AND NOT EXISTS (SELECT 1 FROM %s g WHERE g.id = e.group_id)
			ORDER BY e.id`, t.table, t.groupTable)
		rows, err := a.db.Query(query)
		if err != nil {
			return fmt.Errorf("integrity: failed to scan %s group refs: %w", t.label, err)
		}
		for rows.Next() {
			var id int64
			var title string
			if err := rows.Scan(&id, &title); err != nil {
				rows.Close()
				return fmt.Errorf("integrity: failed to scan %s row: %w", t.label, err)
			}
			r.Errors = append(r.Errors,
				fmt.Sprintf("%s %d (%q) references a missing group", t.label, id, title))
		}
		if err := closeRows(rows); err != nil {
			return fmt.Errorf("integrity: error iterating %s rows: %w", t.label, err)
		}
	}
	return nil
}

func (a *Auditor) checkDanglingHistory(r *CheckResult) error {
	rows, err := a.db.Query(`
		SELECT h.id, h.credential_id FROM password_history h
		WHERE NOT EXISTS (SELECT 1 FROM credentials c WHERE c.id = h.credential_id)
		ORDER BY h.id`)
	if err != nil {
		return fmt.Errorf("integrity: failed to scan password history: %w", err)
	}
	for rows.Next() {
		var id, credID int64
		if err := rows.Scan(&id, &credID); err != nil {
			rows.Close()
			return fmt.Errorf("integrity: failed to scan history row: %w", err)
		}
		r.Errors = append(r.Errors,
			fmt.Sprintf("history entry %d references deleted credential %d", id, credID))
	}
	return closeRowsWrap(rows, "history rows")
}

func (a *Auditor) checkDuplicateSettings(r *CheckResult) error {
	rows, err := a.db.Query(`
		SELECT key, COUNT(*) FROM settings GROUP BY key HAVING COUNT(*) > 1 ORDER BY key`)
	if err != nil {
		return fmt.Errorf("integrity: failed to scan settings: %w", err)
	}
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			rows.Close()
			return fmt.Errorf("integrity: failed to scan settings row: %w", err)
		}
		r.Errors = append(r.Errors,
			fmt.Sprintf("setting key %q has %d rows", key, count))
	}
	return closeRowsWrap(rows, "settings rows")
}

func (a *Auditor) checkDuplicateSiblings(r *CheckResult) error {
	for _, table := range []string{"credential_groups", "note_groups"} {
		query := fmt.Sprintf(`
			SELECT name, COUNT(*) FROM %s
			GROUP BY parent_id, name HAVING COUNT(*) > 1
			ORDER BY name`, table)
		rows, err := a.db.Query(query)
		if err != nil {
			return fmt.Errorf("integrity: failed to scan %s: %w", table, err)
		}
		for rows.Next() {
			var name string
			var count int
			if err := rows.Scan(&name, &count); err != nil {
				rows.Close()
				return fmt.Errorf("integrity: failed to scan %s row: %w", table, err)
			}
			r.Errors = append(r.Errors,
				fmt.Sprintf("%s has %d siblings named %q", table, count, name))
		}
		if err := closeRowsWrap(rows, table); err != nil {
			return err
		}
	}
	return nil
}

func (a *Auditor) checkBlankFields(r *CheckResult) error {
	type blankCheck struct {
		query, format string
	}
	checks := []blankCheck{
		{"SELECT id FROM credentials WHERE TRIM(title) = '' ORDER BY id",
			"credential %d has a blank title"},
		{"SELECT id FROM credentials WHERE TRIM(username) = '' ORDER BY id",
			"credential %d has a blank username"},
		{"SELECT id FROM notes WHERE TRIM(title) = '' ORDER BY id",
			"note %d has a blank title"},
		{"SELECT id FROM credential_groups WHERE TRIM(name) = '' ORDER BY id",
			"credential group %d has a blank name"},
		{"SELECT id FROM note_groups WHERE TRIM(name) = '' ORDER BY id",
			"note group %d has a blank name"},
	}
	for _, c := range checks {
		rows, err := a.db.Query(c.query)
		if err != nil {
			return fmt.Errorf("integrity: failed to scan blank fields: %w", err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("integrity: failed to scan blank field row: %w", err)
			}
			r.Errors = append(r.Errors, fmt.Sprintf(c.format, id))
		}
		if err := closeRowsWrap(rows, "blank field rows"); err != nil {
			return err
		}
	}
	return nil
}

func (a *Auditor) checkOversizedFields(r *CheckResult) error {
	type sizeCheck struct {
		query, format string
	}
	checks := []sizeCheck{
		{fmt.Sprintf("SELECT id FROM credentials WHERE LENGTH(title) > %d ORDER BY id", store.MaxTitleLength),
			"credential %d has an oversized title"},
		{fmt.Sprintf("SELECT id FROM credentials WHERE LENGTH(url) > %d ORDER BY id", store.MaxURLLength),
			"credential %d has an oversized url"},
		{fmt.Sprintf("SELECT id FROM credentials WHERE LENGTH(notes) > %d ORDER BY id", store.MaxCredentialNotes),
			"credential %d has oversized notes"},
		{fmt.Sprintf("SELECT id FROM notes WHERE LENGTH(content) > %d ORDER BY id", store.MaxNoteContentLength),
			"note %d has oversized content"},
	}
	for _, c := range checks {
		rows, err := a.db.Query(c.query)
		if err != nil {
			return fmt.Errorf("integrity: failed to scan field sizes: %w", err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("integrity: failed to scan size row: %w", err)
			}
			r.Warnings = append(r.Warnings, fmt.Sprintf(c.format, id))
		}
		if err := closeRowsWrap(rows, "size rows"); err != nil {
			return err
		}
	}
	return nil
}

func (a *Auditor) checkTimestamps(r *CheckResult) error {
	tables := []string{"credentials", "credential_groups", "note_groups", "notes"}
	for _, table := range tables {
		query := fmt.Sprintf("SELECT id, created_at, updated_at FROM %s ORDER BY id", table)
		rows, err := a.db.Query(query)
		if err != nil {
			return fmt.Errorf("integrity: failed to scan %s timestamps: %w", table, err)
		}
		for rows.Next() {
			var id int64
			var created, updated any
			if err := rows.Scan(&id, &created, &updated); err != nil {
				rows.Close()
				return fmt.Errorf("integrity: failed to scan timestamp row: %w", err)
			}
			if !validTimestamp(created) {
				r.Errors = append(r.Errors,
					fmt.Sprintf("%s %d has a malformed created_at", table, id))
			}
			if !validTimestamp(updated) {
				r.Errors = append(r.Errors,
					fmt.Sprintf("%s %d has a malformed updated_at", table, id))
			}
		}
		if err := closeRowsWrap(rows, table+" timestamps"); err != nil {
			return err
		}
	}
	return nil
}

// validTimestamp accepts driver-decoded times and any text value in a
// known layout.
func validTimestamp(v any) bool {
	switch t := v.(type) {
	case time.Time:
		return !t.IsZero()
	case string:
		return parseTimestamp(t)
	case []byte:
		return parseTimestamp(string(t))
	default:
		return false
	}
}

func parseTimestamp(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for _, layout := range timestampLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func (a *Auditor) checkGroupCycles(r *CheckResult) error {
	for _, table := range []string{"credential_groups", "note_groups"} {
		parents, err := a.loadParents(table)
		if err != nil {
			return err
		}

		// DFS with a recursion stack. A back edge to a node on the
		// current path is a cycle.
		const (
			unvisited = 0
			inStack   = 1
			done      = 2
		)
		state := make(map[int64]int, len(parents))

		var walk func(id int64) bool
		walk = func(id int64) bool {
			state[id] = inStack
			if parent, ok := parents[id]; ok && parent != 0 {
				switch state[parent] {
				case inStack:
					state[id] = done
					return true
				case unvisited:
					if _, exists := parents[parent]; exists {
						if walk(parent) {
							state[id] = done
							return true
						}
					}
				}
			}
			state[id] = done
			return false
		}

		for id := range parents {
			if state[id] != unvisited {
				continue
			}
			if walk(id) {
				r.Errors = append(r.Errors,
					fmt.Sprintf("%s contains a parent cycle through group %d", table, id))
			}
		}
	}
	return nil
}

// loadParents maps group id to parent id, with 0 meaning a root.
func (a *Auditor) loadParents(table string) (map[int64]int64, error) {
	rows, err := a.db.Query(fmt.Sprintf("SELECT id, parent_id FROM %s", table))
	if err != nil {
		return nil, fmt.Errorf("integrity: failed to scan %s parents: %w", table, err)
	}
	parents := make(map[int64]int64)
	for rows.Next() {
		var id int64
		var parent sql.NullInt64
		if err := rows.Scan(&id, &parent); err != nil {
			rows.Close()
			return nil, fmt.Errorf("integrity: failed to scan %s parent row: %w", table, err)
		}
		if parent.Valid {
			parents[id] = parent.Int64
		} else {
			parents[id] = 0
		}
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("integrity: error iterating %s parents: %w", table, err)
	}
	return parents, nil
}

func (a *Auditor) checkEmptyGroups(r *CheckResult) error {
	type target struct {
		table, label, entityTable string
	}
	targets := []target{
		{"credential_groups", "credential group", "credentials"},
		{"note_groups", "note group", "notes"},
	}
	for _, t := range targets {
		query := fmt.Sprintf(`
			SELECT g.id, g.name FROM %s g
			WHERE NOT EXISTS (SELECT 1 FROM %s e WHERE e.group_id = g.id)
			  AND NOT EXISTS (SELECT 1 FROM %s c WHERE c.parent_id = g.id)
			ORDER BY g.id`, t.table, t.entityTable, t.table)
		rows, err := a.db.Query(query)
		if err != nil {
			return fmt.Errorf("integrity: failed to scan empty groups: %w", err)
		}
		for rows.Next() {
			var id int64
			var name string
			if err := rows.Scan(&id, &name); err != nil {
				rows.Close()
				return fmt.Errorf("integrity: failed to scan empty group row: %w", err)
			}
			r.Warnings = append(r.Warnings,
				fmt.Sprintf("%s %d (%q) is empty", t.label, id, name))
		}
		if err := closeRowsWrap(rows, "empty groups"); err != nil {
			return err
		}
	}
	return nil
}

func (a *Auditor) checkStaleHistory(r *CheckResult) error {
	cutoff := time.Now().UTC().Add(-staleHistoryAge)
	var count int
	err := a.db.QueryRow(
		"SELECT COUNT(*) FROM password_history WHERE changed_at < ?", cutoff).Scan(&count)
	if err != nil {
		return fmt.Errorf("integrity: failed to count stale history: %w", err)
	}
	if count > 0 {
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("%d history entries are older than one year and can be pruned", count))
	}
	return nil
}

// Repair applies the automatic fixes. Each fix is independent; a
// failure is recorded and the remaining fixes still run.
func (a *Auditor) Repair() (*RepairResult, error) {
	r := &RepairResult{}

	a.repairDanglingGroupRefs(r)
	a.repairDanglingHistory(r)
	a.repairDuplicateSettings(r)
	a.repairDuplicateSiblings(r)

	return r, nil
}

func (a *Auditor) repairDanglingGroupRefs(r *RepairResult) {
	type target struct {
		table, label, groupTable string
	}
	targets := []target{
		{"credentials", "credentials", "credential_groups"},
		{"notes", "notes", "note_groups"},
	}
	for _, t := range targets {
		stmt := fmt.Sprintf(`
			UPDATE %s SET group_id = NULL
			WHERE group_id IS NOT NULL
			  AND NOT EXISTS (SELECT 1 FROM %s g WHERE g.id = %s.group_id)`,
			t.table, t.groupTable, t.table)
		res, err := a.db.Exec(stmt)
		if err != nil {
			r.Failed = append(r.Failed,
				fmt.Sprintf("clear dangling %s group refs: %v", t.label, err))
			continue
		}
		if n, _ := res.RowsAffected(); n > 0 {
			r.Repaired = append(r.Repaired,
				fmt.Sprintf("cleared %d dangling group references on %s", n, t.label))
		}
	}
}

func (a *Auditor) repairDanglingHistory(r *RepairResult) {
	res, err := a.db.Exec(`
		DELETE FROM password_history
		WHERE NOT EXISTS (SELECT 1 FROM credentials c WHERE c.id = password_history.credential_id)`)
	if err != nil {
		r.Failed = append(r.Failed, fmt.Sprintf("delete orphaned history: %v", err))
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		r.Repaired = append(r.Repaired,
			fmt.Sprintf("deleted %d orphaned history entries", n))
	}
}

// repairDuplicateSettings keeps the most recently updated row per key,
// highest id winning ties.
func (a *Auditor) repairDuplicateSettings(r *RepairResult) {
	rows, err := a.db.Query(
		"SELECT key FROM settings GROUP BY key HAVING COUNT(*) > 1 ORDER BY key")
	if err != nil {
		r.Failed = append(r.Failed, fmt.Sprintf("scan duplicate settings: %v", err))
		return
	}
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			r.Failed = append(r.Failed, fmt.Sprintf("scan duplicate settings: %v", err))
			return
		}
		keys = append(keys, key)
	}
	if err := closeRows(rows); err != nil {
		r.Failed = append(r.Failed, fmt.Sprintf("scan duplicate settings: %v", err))
		return
	}

	for _, key := range keys {
		res, err := a.db.Exec(`
			DELETE FROM settings WHERE key = ? AND id NOT IN (
				SELECT id FROM settings WHERE key = ?
				ORDER BY updated_at DESC, id DESC LIMIT 1
			)`, key, key)
		if err != nil {
			r.Failed = append(r.Failed,
				fmt.Sprintf("deduplicate setting %q: %v", key, err))
			continue
		}
		if n, _ := res.RowsAffected(); n > 0 {
			r.Repaired = append(r.Repaired,
				fmt.Sprintf("removed %d duplicate rows for setting %q", n, key))
		}
	}
}

// repairDuplicateSiblings renames later duplicates in id order, so the
// oldest sibling keeps the original name and the rest become Name_1,
// Name_2 and so on, skipping suffixes already taken in the scope.
func (a *Auditor) repairDuplicateSiblings(r *RepairResult) {
	for _, table := range []string{"credential_groups", "note_groups"} {
		query := fmt.Sprintf(`
			SELECT g.id, g.name, g.parent_id FROM %s g
			JOIN (
				SELECT parent_id, name FROM %s
				GROUP BY parent_id, name HAVING COUNT(*) > 1
			) d ON d.name = g.name AND (d.parent_id IS g.parent_id)
			ORDER BY g.name, g.id`, table, table)
		rows, err := a.db.Query(query)
		if err != nil {
			r.Failed = append(r.Failed,
				fmt.Sprintf("scan duplicate %s names: %v", table, err))
			continue
		}

		type dup struct {
			id     int64
			name   string
			parent sql.NullInt64
		}
		var dups []dup
		for rows.Next() {
			var d dup
			if err := rows.Scan(&d.id, &d.name, &d.parent); err != nil {
				rows.Close()
				r.Failed = append(r.Failed,
					fmt.Sprintf("scan duplicate %s names: %v", table, err))
				dups = nil
				break
			}
			dups = append(dups, d)
		}
		if dups == nil {
			continue
		}
		if err := closeRows(rows); err != nil {
			r.Failed = append(r.Failed,
				fmt.Sprintf("scan duplicate %s names: %v", table, err))
			continue
		}

		seen := make(map[string]bool)
		for _, d := range dups {
			scope := fmt.Sprintf("%v/%s", d.parent, d.name)
			if !seen[scope] {
				// First occurrence keeps its name.
				seen[scope] = true
				continue
			}
			newName, err := a.freeSiblingName(table, d.name, d.parent)
			if err != nil {
				r.Failed = append(r.Failed,
					fmt.Sprintf("rename duplicate %s %d: %v", table, d.id, err))
				continue
			}
			stmt := fmt.Sprintf("UPDATE %s SET name = ?, updated_at = ? WHERE id = ?", table)
			if _, err := a.db.Exec(stmt, newName, time.Now().UTC(), d.id); err != nil {
				r.Failed = append(r.Failed,
					fmt.Sprintf("rename duplicate %s %d: %v", table, d.id, err))
				continue
			}
			r.Repaired = append(r.Repaired,
				fmt.Sprintf("renamed %s %d from %q to %q", table, d.id, d.name, newName))
		}
	}
}

// freeSiblingName finds the first Name_N not taken in the scope.
func (a *Auditor) freeSiblingName(table, base string, parent sql.NullInt64) (string, error) {
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s_%d", base, n)
		query := fmt.Sprintf(
			"SELECT COUNT(*) FROM %s WHERE name = ? AND (parent_id IS ?)", table)
		var count int
		if err := a.db.QueryRow(query, candidate, parent).Scan(&count); err != nil {
			return "", err
		}
		if count == 0 {
			return candidate, nil
		}
	}
}

func closeRows(rows *sql.Rows) error {
	defer rows.Close()
	return rows.Err()
}

func closeRowsWrap(rows *sql.Rows, what string) error {
	if err := closeRows(rows); err != nil {
		return fmt.Errorf("integrity: error iterating %s: %w", what, err)
	}
	return nil
}
