// Package cli has helpers shared by keyhaven's commands.
package cli

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ExpandKeyPattern matches a setting key pattern against the known keys.
// Patterns with glob characters (*?[) use filepath.Match semantics, any
// other pattern must name an existing key exactly.
func ExpandKeyPattern(pattern string, keys []string) ([]string, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	if !strings.ContainsAny(pattern, "*?[") {
		for _, key := range keys {
			if key == pattern {
				return []string{pattern}, nil
			}
		}
		return nil, fmt.Errorf("unknown setting: %s", pattern)
	}

	var matches []string
	for _, key := range keys {
		matched, err := filepath.Match(pattern, key)
		if err != nil {
			return nil, err
		}
		if matched {
			matches = append(matches, key)
		}
	}

	if len(matches) == 0 {
		return nil, fmt.Errorf("no settings match %q", pattern)
	}
	return matches, nil
}

// ExpandKeyPatterns expands several patterns, deduplicating the result
// while keeping the order keys first matched in.
func ExpandKeyPatterns(patterns, keys []string) ([]string, error) {
	seen := make(map[string]bool)
	var result []string

	for _, pattern := range patterns {
		matches, err := ExpandKeyPattern(pattern, keys)
		if err != nil {
			return nil, err
		}
		for _, key := range matches {
			if !seen[key] {
				seen[key] = true
				result = append(result, key)
			}
		}
	}
	return result, nil
}
