package security

import (
	"fmt"
	"time"

	"github.com/keyhaven/keyhaven/pkg/crypto"
	"github.com/keyhaven/keyhaven/pkg/store"
)

// Report is the overall password health assessment of a vault.
type Report struct {
	// Overall is the total score from 0 to 100.
	Overall int `json:"overall"`
	// Components breaks the score into its four categories.
	Components Components `json:"components"`
	// Issues lists the problems the analysis found.
	Issues []Issue `json:"issues"`
	// Suggestions are actionable follow-ups derived from the issues.
	Suggestions []string `json:"suggestions"`
}

// Components splits the score into categories of up to 25 points each.
type Components struct {
	// Strength reflects average password strength.
	Strength int `json:"strength"`
	// Uniqueness reflects the share of passwords used only once.
	Uniqueness int `json:"uniqueness"`
	// Freshness reflects the share of passwords rotated recently.
	Freshness int `json:"freshness"`
	// Coverage reflects how many credentials carry a URL.
	Coverage int `json:"coverage"`
}

// IssueType identifies the category of a detected problem.
type IssueType string

const (
	IssueWeakPassword      IssueType = "weak"
	IssueDuplicatePassword IssueType = "duplicate"
	IssueStalePassword     IssueType = "stale"
)

// Severity ranks how urgently an issue needs attention.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue is a single detected password health problem.
type Issue struct {
	Type     IssueType `json:"type"`
	Severity Severity  `json:"severity"`
	// Title names the affected credential. Duplicate issues carry the
	// whole sharing group in Titles instead.
	Title       string   `json:"title,omitempty"`
	Titles      []string `json:"titles,omitempty"`
	Description string   `json:"description"`
	Suggestion  string   `json:"suggestion,omitempty"`
}

// Analyzer computes password health reports over the credential store.
type Analyzer struct {
	credentials *store.CredentialStore
	cipher      *crypto.Cipher
	hmacKey     []byte
	staleAfter  time.Duration
}

// NewAnalyzer returns an analyzer with a 90 day rotation window.
func NewAnalyzer(credentials *store.CredentialStore, cipher *crypto.Cipher) *Analyzer {
	return &Analyzer{
		credentials: credentials,
		cipher:      cipher,
		staleAfter:  90 * 24 * time.Hour,
	}
}

// WithStaleAfter overrides the rotation window.
func (a *Analyzer) WithStaleAfter(d time.Duration) *Analyzer {
	a.staleAfter = d
	return a
}

// Analyze scores the whole vault. An empty vault scores 100.
func (a *Analyzer) Analyze() (*Report, error) {
	creds, err := a.credentials.All()
	if err != nil {
		return nil, fmt.Errorf("security: failed to load credentials: %w", err)
	}

	if len(creds) == 0 {
		return &Report{
			Overall:     100,
			Components:  Components{Strength: 25, Uniqueness: 25, Freshness: 25, Coverage: 25},
			Issues:      []Issue{},
			Suggestions: []string{},
		}, nil
	}

	strength, weakIssues := a.scoreStrength(creds)
	uniqueness, dupIssues, err := a.scoreUniqueness(creds)
	if err != nil {
		return nil, err
	}
	freshness, staleIssues := a.scoreFreshness(creds)
	coverage := scoreCoverage(creds)

	issues := make([]Issue, 0, len(weakIssues)+len(dupIssues)+len(staleIssues))
	issues = append(issues, weakIssues...)
	issues = append(issues, dupIssues...)
	issues = append(issues, staleIssues...)

	return &Report{
		Overall: strength + uniqueness + freshness + coverage,
		Components: Components{
			Strength:   strength,
			Uniqueness: uniqueness,
			Freshness:  freshness,
			Coverage:   coverage,
		},
		Issues:      issues,
		Suggestions: suggestions(issues),
	}, nil
}

// scoreStrength averages per-password strength points and scales the
// result to 0-25.
func (a *Analyzer) scoreStrength(creds []*store.Credential) (int, []Issue) {
	var issues []Issue
	total := 0
	counted := 0

	for _, c := range creds {
		password := a.cipher.Decrypt(c.Password)
		if password == "" {
			continue
		}
		counted++
		level := Classify(password)
		total += level.points()

		if level == StrengthWeak {
			issues = append(issues, Issue{
				Type:        IssueWeakPassword,
				Severity:    SeverityWarning,
				Title:       c.Title,
				Description: fmt.Sprintf("password is only %d characters", len(password)),
				Suggestion:  "use at least 14 characters",
			})
		}
	}

	if counted == 0 {
		return 25, issues
	}
	score := total / counted
	if score > 25 {
		score = 25
	}
	return score, issues
}

// scoreUniqueness scales the unique-password ratio to 0-25.
func (a *Analyzer) scoreUniqueness(creds []*store.Credential) (int, []Issue, error) {
	groups, err := a.FindDuplicates(creds)
	if err != nil {
		return 0, nil, err
	}

	unique := make(map[string]bool)
	counted := 0
	for _, c := range creds {
		value := a.cipher.Decrypt(c.Password)
		if value == "" {
			continue
		}
		counted++
		unique[hashValue(value, a.hmacKey)] = true
	}
	if counted == 0 {
		return 25, nil, nil
	}

	var issues []Issue
	for _, g := range groups {
		issues = append(issues, Issue{
			Type:        IssueDuplicatePassword,
			Severity:    SeverityWarning,
			Titles:      g.Titles,
			Description: fmt.Sprintf("%d credentials share the same password", g.Count),
			Suggestion:  "give each credential its own password",
		})
	}

	return int(float64(len(unique)) / float64(counted) * 25), issues, nil
}

// scoreFreshness scales the recently-rotated ratio to 0-25. A password
// counts as fresh when the credential was updated inside the window.
func (a *Analyzer) scoreFreshness(creds []*store.Credential) (int, []Issue) {
	var issues []Issue
	cutoff := time.Now().Add(-a.staleAfter)
	fresh := 0

	for _, c := range creds {
		if c.UpdatedAt.After(cutoff) {
			fresh++
			continue
		}
		age := int(time.Since(c.UpdatedAt).Hours() / 24)
		issues = append(issues, Issue{
			Type:        IssueStalePassword,
			Severity:    SeverityInfo,
			Title:       c.Title,
			Description: fmt.Sprintf("password unchanged for %d days", age),
			Suggestion:  "rotate long-lived passwords",
		})
	}

	return int(float64(fresh) / float64(len(creds)) * 25), issues
}

// scoreCoverage scales the has-URL ratio to 0-25.
func scoreCoverage(creds []*store.Credential) int {
	withURL := 0
	for _, c := range creds {
		if c.URL != "" {
			withURL++
		}
	}
	return int(float64(withURL) / float64(len(creds)) * 25)
}

func suggestions(issues []Issue) []string {
	seen := make(map[IssueType]bool)
	for _, issue := range issues {
		seen[issue.Type] = true
	}

	var out []string
	if seen[IssueWeakPassword] {
		out = append(out, "Replace weak passwords with longer ones (14+ characters)")
	}
	if seen[IssueDuplicatePassword] {
		out = append(out, "Replace reused passwords with unique values")
	}
	if seen[IssueStalePassword] {
		out = append(out, "Rotate passwords that have not changed in months")
	}
	return out
}
