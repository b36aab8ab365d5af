package security

import (
	"testing"
	"time"

	"github.com/keyhaven/keyhaven/pkg/crypto"
	"github.com/keyhaven/keyhaven/pkg/store"
)

func setupAnalyzer(t *testing.T) (*store.CredentialStore, *Analyzer) {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cipher, err := crypto.New("security-test-secret")
	if err != nil {
		t.Fatalf("crypto.New() failed: %v", err)
	}
	creds := store.NewCredentialStore(db, cipher)
	return creds, NewAnalyzer(creds, cipher)
}

func saveCredential(t *testing.T, creds *store.CredentialStore, title, password, url string) {
	t.Helper()
	c := &store.Credential{Title: title, Username: "me", Password: password, URL: url}
	if err := creds.Save(c); err != nil {
		t.Fatalf("Save(%q) failed: %v", title, err)
	}
}

func TestAnalyzeEmptyVault(t *testing.T) {
	_, analyzer := setupAnalyzer(t)

	report, err := analyzer.Analyze()
	if err != nil {
		t.Fatalf("Analyze() failed: %v", err)
	}
	if report.Overall != 100 {
		t.Errorf("empty vault Overall = %d, want 100", report.Overall)
	}
	if len(report.Issues) != 0 {
		t.Errorf("empty vault reported issues: %v", report.Issues)
	}
}

func TestAnalyzeHealthyVault(t *testing.T) {
	creds, analyzer := setupAnalyzer(t)

	saveCredential(t, creds, "GitHub", "correct-horse-battery-staple", "https://github.com")
	saveCredential(t, creds, "GitLab", "another-long-unique-phrase!", "https://gitlab.com")

	report, err := analyzer.Analyze()
	if err != nil {
		t.Fatalf("Analyze() failed: %v", err)
	}
	if report.Overall != 100 {
		t.Errorf("Overall = %d, want 100 (components %+v)", report.Overall, report.Components)
	}
	if len(report.Issues) != 0 {
		t.Errorf("healthy vault reported issues: %v", report.Issues)
	}
}

func TestAnalyzeFlagsWeakPasswords(t *testing.T) {
	creds, analyzer := setupAnalyzer(t)

	saveCredential(t, creds, "Router", "admin", "")

	report, err := analyzer.Analyze()
	if err != nil {
		t.Fatalf("Analyze() failed: %v", err)
	}
	if report.Components.Strength != 0 {
		t.Errorf("Strength = %d, want 0", report.Components.Strength)
	}

	found := false
	for _, issue := range report.Issues {
		if issue.Type == IssueWeakPassword && issue.Title == "Router" {
			found = true
		}
	}
	if !found {
		t.Errorf("weak password issue missing: %v", report.Issues)
	}
	if len(report.Suggestions) == 0 {
		t.Error("expected a suggestion for the weak password")
	}
}

func TestAnalyzeFlagsDuplicates(t *testing.T) {
	creds, analyzer := setupAnalyzer(t)

	saveCredential(t, creds, "Site A", "shared-password-here", "")
	saveCredential(t, creds, "Site B", "shared-password-here", "")
	saveCredential(t, creds, "Site C", "its-own-password-xyz", "")

	report, err := analyzer.Analyze()
	if err != nil {
		t.Fatalf("Analyze() failed: %v", err)
	}

	var dup *Issue
	for i := range report.Issues {
		if report.Issues[i].Type == IssueDuplicatePassword {
			dup = &report.Issues[i]
		}
	}
	if dup == nil {
		t.Fatalf("duplicate issue missing: %v", report.Issues)
	}
	if len(dup.Titles) != 2 || dup.Titles[0] != "Site A" || dup.Titles[1] != "Site B" {
		t.Errorf("duplicate titles = %v, want [Site A Site B]", dup.Titles)
	}

	// 2 unique values across 3 passwords, truncated to 16 of 25.
	ratio := 2.0 / 3.0
	if want := int(ratio * 25); report.Components.Uniqueness != want {
		t.Errorf("Uniqueness = %d, want %d", report.Components.Uniqueness, want)
	}
}

func TestFindDuplicatesIgnoresUnique(t *testing.T) {
	creds, analyzer := setupAnalyzer(t)

	saveCredential(t, creds, "Only", "one-of-a-kind-password", "")

	all, err := creds.All()
	if err != nil {
		t.Fatalf("All() failed: %v", err)
	}
	groups, err := analyzer.FindDuplicates(all)
	if err != nil {
		t.Fatalf("FindDuplicates() failed: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("unique password reported as duplicate: %v", groups)
	}
}

func TestAnalyzeFlagsStalePasswords(t *testing.T) {
	creds, analyzer := setupAnalyzer(t)
	analyzer.WithStaleAfter(time.Nanosecond)

	saveCredential(t, creds, "Ancient", "perfectly-long-password", "")
	time.Sleep(2 * time.Millisecond)

	report, err := analyzer.Analyze()
	if err != nil {
		t.Fatalf("Analyze() failed: %v", err)
	}
	if report.Components.Freshness != 0 {
		t.Errorf("Freshness = %d, want 0", report.Components.Freshness)
	}

	found := false
	for _, issue := range report.Issues {
		if issue.Type == IssueStalePassword && issue.Title == "Ancient" {
			found = true
		}
	}
	if !found {
		t.Errorf("stale password issue missing: %v", report.Issues)
	}
}

func TestAnalyzeCoverage(t *testing.T) {
	creds, analyzer := setupAnalyzer(t)

	saveCredential(t, creds, "With URL", "perfectly-long-password-1", "https://example.com")
	saveCredential(t, creds, "Without URL", "perfectly-long-password-2", "")

	report, err := analyzer.Analyze()
	if err != nil {
		t.Fatalf("Analyze() failed: %v", err)
	}
	if want := 12; report.Components.Coverage != want {
		t.Errorf("Coverage = %d, want %d", report.Components.Coverage, want)
	}
}
