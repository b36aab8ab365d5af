package cli

import (
	"testing"
)

func TestExpandKeyPattern(t *testing.T) {
	keys := []string{
		"ui.theme",
		"ui.language",
		"security.auto_lock_minutes",
		"security.clipboard_clear_seconds",
		"backup.auto_backup",
	}

	tests := []struct {
		name     string
		pattern  string
		expected []string
		wantErr  bool
	}{
		{
			name:     "exact match",
			pattern:  "ui.theme",
			expected: []string{"ui.theme"},
		},
		{
			name:     "prefix glob",
			pattern:  "ui.*",
			expected: []string{"ui.theme", "ui.language"},
		},
		{
			name:     "suffix glob",
			pattern:  "*.auto_backup",
			expected: []string{"backup.auto_backup"},
		},
		{
			name:     "match all",
			pattern:  "*",
			expected: keys,
		},
		{
			name:    "glob without matches",
			pattern: "sync.*",
			wantErr: true,
		},
		{
			name:    "unknown exact key",
			pattern: "ui.font",
			wantErr: true,
		},
		{
			name:    "malformed pattern",
			pattern: "[oops",
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := ExpandKeyPattern(tc.pattern, keys)

			if tc.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if len(result) != len(tc.expected) {
				t.Fatalf("got %v, want %v", result, tc.expected)
			}
			for i, key := range tc.expected {
				if result[i] != key {
					t.Errorf("position %d: got %s, want %s", i, result[i], key)
				}
			}
		})
	}
}

func TestExpandKeyPatterns(t *testing.T) {
	keys := []string{"ui.theme", "ui.language", "backup.auto_backup"}

	result, err := ExpandKeyPatterns([]string{"ui.*", "ui.theme", "backup.auto_backup"}, keys)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"ui.theme", "ui.language", "backup.auto_backup"}
	if len(result) != len(expected) {
		t.Fatalf("got %v, want %v", result, expected)
	}
	for i, key := range expected {
		if result[i] != key {
			t.Errorf("position %d: got %s, want %s", i, result[i], key)
		}
	}
}

func TestExpandKeyPatternsPropagatesErrors(t *testing.T) {
	if _, err := ExpandKeyPatterns([]string{"ui.*", "nope.*"}, []string{"ui.theme"}); err == nil {
		t.Error("expected error for pattern without matches")
	}
}
