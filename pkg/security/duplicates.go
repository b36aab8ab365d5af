package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/keyhaven/keyhaven/pkg/store"
)

// DuplicateGroup is a set of credentials sharing the same password.
type DuplicateGroup struct {
	Titles []string `json:"titles,omitempty"`
	Count  int      `json:"count"`
}

// FindDuplicates scans decrypted passwords for reuse across credentials.
// Comparison uses HMAC-SHA256 with a session-local key, so raw passwords
// never appear in maps or output. Groups come back most-duplicated first.
func (a *Analyzer) FindDuplicates(creds []*store.Credential) ([]DuplicateGroup, error) {
	if err := a.ensureHMACKey(); err != nil {
		return nil, err
	}

	byHash := make(map[string][]string)
	for _, c := range creds {
		value := strings.TrimSpace(a.cipher.Decrypt(c.Password))
		if value == "" {
			continue
		}
		hash := hashValue(value, a.hmacKey)
		byHash[hash] = append(byHash[hash], c.Title)
	}

	var groups []DuplicateGroup
	for _, titles := range byHash {
		if len(titles) <= 1 {
			continue
		}
		sort.Strings(titles)
		groups = append(groups, DuplicateGroup{Titles: titles, Count: len(titles)})
	}

	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Count != groups[j].Count {
			return groups[i].Count > groups[j].Count
		}
		return groups[i].Titles[0] < groups[j].Titles[0]
	})
	return groups, nil
}

func (a *Analyzer) ensureHMACKey() error {
	if a.hmacKey != nil {
		return nil
	}
	a.hmacKey = make([]byte, 32)
	if _, err := rand.Read(a.hmacKey); err != nil {
		a.hmacKey = nil
		return fmt.Errorf("security: failed to generate comparison key: %w", err)
	}
	return nil
}

func hashValue(value string, key []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}
