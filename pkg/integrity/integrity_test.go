package integrity

import (
	"strings"
	"testing"
	"time"

	"github.com/keyhaven/keyhaven/pkg/crypto"
	"github.com/keyhaven/keyhaven/pkg/store"
)

func setupAuditor(t *testing.T) (*store.DB, *Auditor) {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, New(db)
}

// corrupt runs a statement with foreign key enforcement suspended, to
// fabricate the broken states the auditor exists for.
func corrupt(t *testing.T, db *store.DB, stmt string, args ...any) {
	t.Helper()
	if _, err := db.SQL().Exec("PRAGMA foreign_keys=OFF"); err != nil {
		t.Fatalf("disabling foreign keys failed: %v", err)
	}
	defer db.SQL().Exec("PRAGMA foreign_keys=ON")
	if _, err := db.SQL().Exec(stmt, args...); err != nil {
		t.Fatalf("corruption statement failed: %v", err)
	}
}

func hasFinding(findings []string, substr string) bool {
	for _, f := range findings {
		if strings.Contains(f, substr) {
			return true
		}
	}
	return false
}

func TestCheckCleanVault(t *testing.T) {
	db, auditor := setupAuditor(t)

	cipher, err := crypto.New("integrity-test-secret")
	if err != nil {
		t.Fatalf("crypto.New() failed: %v", err)
	}
	creds := store.NewCredentialStore(db, cipher)
	groups := store.NewCredentialGroupStore(db)

	g := &store.Group{Name: "Work"}
	if err := groups.Save(g); err != nil {
		t.Fatalf("group Save() failed: %v", err)
	}
	c := &store.Credential{Title: "VPN", Username: "me", Password: "p", GroupID: &g.ID}
	if err := creds.Save(c); err != nil {
		t.Fatalf("credential Save() failed: %v", err)
	}

	result, err := auditor.Check()
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if !result.IsValid {
		t.Errorf("clean vault reported errors: %v", result.Errors)
	}
}

func TestCheckDanglingGroupRef(t *testing.T) {
	db, auditor := setupAuditor(t)

	corrupt(t, db, `
		INSERT INTO credentials (title, username, password, group_id, created_at, updated_at)
		VALUES ('Ghost', 'me', 'tok', 999, ?, ?)`, time.Now().UTC(), time.Now().UTC())

	result, err := auditor.Check()
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if result.IsValid || !hasFinding(result.Errors, "references a missing group") {
		t.Errorf("dangling group ref not detected: %v", result.Errors)
	}

	repair, err := auditor.Repair()
	if err != nil {
		t.Fatalf("Repair() failed: %v", err)
	}
	if !hasFinding(repair.Repaired, "dangling group references") {
		t.Errorf("repair did not clear the reference: %+v", repair)
	}

	result, err = auditor.Check()
	if err != nil {
		t.Fatalf("second Check() failed: %v", err)
	}
	if hasFinding(result.Errors, "references a missing group") {
		t.Error("dangling reference survived repair")
	}
}

func TestCheckOrphanedHistory(t *testing.T) {
	db, auditor := setupAuditor(t)

	corrupt(t, db, `
		INSERT INTO password_history (credential_id, new_password, changed_at)
		VALUES (404, 'tok', ?)`, time.Now().UTC())

	result, err := auditor.Check()
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if !hasFinding(result.Errors, "references deleted credential") {
		t.Errorf("orphaned history not detected: %v", result.Errors)
	}

	repair, err := auditor.Repair()
	if err != nil {
		t.Fatalf("Repair() failed: %v", err)
	}
	if !hasFinding(repair.Repaired, "orphaned history") {
		t.Errorf("repair did not delete orphans: %+v", repair)
	}

	var count int
	if err := db.SQL().QueryRow("SELECT COUNT(*) FROM password_history").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("history rows after repair = %d, want 0", count)
	}
}

func TestHistorySurvivesCredentialDeleteUntilRepair(t *testing.T) {
	db, auditor := setupAuditor(t)

	cipher, err := crypto.New("integrity-test-secret")
	if err != nil {
		t.Fatalf("crypto.New() failed: %v", err)
	}
	creds := store.NewCredentialStore(db, cipher)

	c := &store.Credential{Title: "Doomed", Username: "me", Password: "v1"}
	if err := creds.Save(c); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	got, err := creds.Get(c.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	got.Password = "v2"
	if err := creds.UpdateWithHistory(got, "test"); err != nil {
		t.Fatalf("UpdateWithHistory() failed: %v", err)
	}
	if err := creds.Delete(c.ID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	// The history row outlives the credential and is the auditor's to
	// collect.
	result, err := auditor.Check()
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if !hasFinding(result.Errors, "references deleted credential") {
		t.Errorf("orphan left by delete not detected: %v", result.Errors)
	}
}

func TestCheckAndRepairDuplicateSettings(t *testing.T) {
	db, auditor := setupAuditor(t)

	older := time.Now().UTC().Add(-time.Hour)
	corrupt(t, db, `
		INSERT INTO settings (key, value, type, category, updated_at)
		VALUES ('ui.theme', 'light', 'string', 'appearance', ?)`, older)
	corrupt(t, db, `
		INSERT INTO settings (key, value, type, category, updated_at)
		VALUES ('ui.theme', 'dark', 'string', 'appearance', ?)`, time.Now().UTC())

	result, err := auditor.Check()
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if !hasFinding(result.Errors, "ui.theme") {
		t.Errorf("duplicate setting not detected: %v", result.Errors)
	}

	if _, err := auditor.Repair(); err != nil {
		t.Fatalf("Repair() failed: %v", err)
	}

	var value string
	err = db.SQL().QueryRow("SELECT value FROM settings WHERE key = 'ui.theme'").Scan(&value)
	if err != nil {
		t.Fatalf("query after repair failed: %v", err)
	}
	if value != "dark" {
		t.Errorf("surviving value = %q, want the newest row", value)
	}
}

func TestRepairDuplicateSiblingNames(t *testing.T) {
	db, auditor := setupAuditor(t)

	now := time.Now().UTC()
	corrupt(t, db, `
		INSERT INTO credential_groups (name, created_at, updated_at) VALUES ('Work', ?, ?)`, now, now)
	corrupt(t, db, `
		INSERT INTO credential_groups (name, created_at, updated_at) VALUES ('Work', ?, ?)`, now, now)

	result, err := auditor.Check()
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if !hasFinding(result.Errors, "siblings named") {
		t.Errorf("duplicate siblings not detected: %v", result.Errors)
	}

	repair, err := auditor.Repair()
	if err != nil {
		t.Fatalf("Repair() failed: %v", err)
	}
	if !hasFinding(repair.Repaired, "renamed") {
		t.Errorf("repair did not rename: %+v", repair)
	}

	rows, err := db.SQL().Query("SELECT name FROM credential_groups ORDER BY id")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		names = append(names, name)
	}
	if len(names) != 2 || names[0] != "Work" || names[1] != "Work_1" {
		t.Errorf("names after repair = %v, want [Work Work_1]", names)
	}
}

func TestCheckGroupCycle(t *testing.T) {
	db, auditor := setupAuditor(t)

	now := time.Now().UTC()
	corrupt(t, db, `
		INSERT INTO note_groups (id, name, parent_id, created_at, updated_at)
		VALUES (1, 'A', 2, ?, ?)`, now, now)
	corrupt(t, db, `
		INSERT INTO note_groups (id, name, parent_id, created_at, updated_at)
		VALUES (2, 'B', 1, ?, ?)`, now, now)

	result, err := auditor.Check()
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if !hasFinding(result.Errors, "parent cycle") {
		t.Errorf("cycle not detected: %v", result.Errors)
	}
}

func TestCheckMalformedTimestamp(t *testing.T) {
	db, auditor := setupAuditor(t)

	corrupt(t, db, `
		INSERT INTO notes (title, content, created_at, updated_at)
		VALUES ('Bad', 'tok', 'yesterday-ish', ?)`, time.Now().UTC())

	result, err := auditor.Check()
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if !hasFinding(result.Errors, "malformed created_at") {
		t.Errorf("malformed timestamp not detected: %v", result.Errors)
	}
}

func TestCheckBlankRequiredFields(t *testing.T) {
	db, auditor := setupAuditor(t)

	corrupt(t, db, `
		INSERT INTO credentials (title, username, password, created_at, updated_at)
		VALUES ('  ', '', 'tok', ?, ?)`, time.Now().UTC(), time.Now().UTC())

	result, err := auditor.Check()
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if !hasFinding(result.Errors, "blank title") || !hasFinding(result.Errors, "blank username") {
		t.Errorf("blank fields not detected: %v", result.Errors)
	}
}

func TestCheckWarnings(t *testing.T) {
	db, auditor := setupAuditor(t)

	groups := store.NewCredentialGroupStore(db)
	if err := groups.Save(&store.Group{Name: "Hollow"}); err != nil {
		t.Fatalf("group Save() failed: %v", err)
	}

	old := time.Now().UTC().Add(-400 * 24 * time.Hour)
	corrupt(t, db, `
		INSERT INTO credentials (id, title, username, password, created_at, updated_at)
		VALUES (1, 'Old', 'me', 'tok', ?, ?)`, old, old)
	corrupt(t, db, `
		INSERT INTO password_history (credential_id, new_password, changed_at)
		VALUES (1, 'tok', ?)`, old)

	result, err := auditor.Check()
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if !hasFinding(result.Warnings, "is empty") {
		t.Errorf("empty group warning missing: %v", result.Warnings)
	}
	if !hasFinding(result.Warnings, "older than one year") {
		t.Errorf("stale history warning missing: %v", result.Warnings)
	}
	// Warnings alone leave the vault valid.
	if !result.IsValid {
		t.Errorf("warnings flipped validity: %v", result.Errors)
	}
}

func TestRepairOnCleanVaultIsNoop(t *testing.T) {
	_, auditor := setupAuditor(t)

	repair, err := auditor.Repair()
	if err != nil {
		t.Fatalf("Repair() failed: %v", err)
	}
	if len(repair.Repaired) != 0 || len(repair.Failed) != 0 {
		t.Errorf("repair on a clean vault reported work: %+v", repair)
	}
}
