// Package activity records vault operations in an append-only log with
// an HMAC chain, so missing or edited entries are detectable.
package activity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// Operation names for recorded events.
const (
	OpCredentialAdd    = "credential.add"
	OpCredentialUpdate = "credential.update"
	OpCredentialDelete = "credential.delete"
	OpNoteAdd          = "note.add"
	OpNoteDelete       = "note.delete"
	OpVaultExport      = "vault.export"
	OpVaultImport      = "vault.import"
	OpVaultRepair      = "vault.repair"
	OpVaultMigrate     = "vault.migrate"
)

// Result values for recorded events.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// chainGenesis seeds the HMAC chain before the first event.
const chainGenesis = "genesis"

// Event is one recorded vault operation.
type Event struct {
	Version   int    `json:"v"`
	ID        string `json:"id"`
	Timestamp string `json:"ts"`
	Operation string `json:"op"`
	// Item is the HMAC of the affected record's title. The raw title
	// never reaches the log.
	Item   string `json:"item,omitempty"`
	Result string `json:"result"`
	Detail string `json:"detail,omitempty"`
	Chain  Chain  `json:"chain"`
}

// Chain links an event to its predecessor for tamper detection.
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

// VerifyResult reports the outcome of a chain verification pass.
type VerifyResult struct {
	Valid   bool     `json:"valid"`
	Records int      `json:"records"`
	Errors  []string `json:"errors,omitempty"`
}

// Logger appends events to monthly JSONL files in dir. Safe for
// concurrent use.
type Logger struct {
	dir      string
	hmacKey  []byte
	mu       sync.Mutex
	sequence int64
	prevHash string
}

// NewLogger creates a logger writing under dir, with the signing key
// derived from the encryption secret via HKDF-SHA256.
func NewLogger(dir, secret string) (*Logger, error) {
	key := make([]byte, 32)
	reader := hkdf.New(sha256.New, []byte(secret), nil, []byte("keyhaven:activity:v1"))
	if _, err := reader.Read(key); err != nil {
		return nil, fmt.Errorf("activity: failed to derive signing key: %w", err)
	}

	l := &Logger{
		dir:      dir,
		hmacKey:  key,
		prevHash: chainGenesis,
	}
	if err := l.loadState(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return l, nil
}

// Record appends one event to the log.
func (l *Logger) Record(op, item, result, detail string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0700); err != nil {
		return fmt.Errorf("activity: failed to create log directory: %w", err)
	}

	event := Event{
		Version:   1,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Operation: op,
		Result:    result,
		Detail:    detail,
	}
	if item != "" {
		event.Item = l.sign([]byte(item))
	}

	l.sequence++
	event.Chain.Sequence = l.sequence
	event.Chain.PrevHash = l.prevHash
	event.Chain.HMAC = l.sign(recordData(&event))
	l.prevHash = event.Chain.HMAC

	if err := l.append(&event); err != nil {
		return err
	}
	return l.saveState()
}

func (l *Logger) sign(data []byte) string {
	mac := hmac.New(sha256.New, l.hmacKey)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// recordData serializes the fields covered by the chain HMAC.
func recordData(e *Event) []byte {
	return []byte(fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%d|%s",
		e.Version, e.ID, e.Timestamp, e.Operation, e.Item, e.Result, e.Detail,
		e.Chain.Sequence, e.Chain.PrevHash))
}

func (l *Logger) append(event *Event) error {
	name := time.Now().UTC().Format("2006-01") + ".jsonl"
	path := filepath.Join(l.dir, name)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("activity: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("activity: failed to encode event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("activity: failed to write event: %w", err)
	}
	return nil
}

// chainState persists the tail of the chain between runs.
type chainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

func (l *Logger) statePath() string {
	return filepath.Join(l.dir, "chain.meta")
}

func (l *Logger) loadState() error {
	data, err := os.ReadFile(l.statePath())
	if err != nil {
		return err
	}
	var state chainState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("activity: failed to parse chain state: %w", err)
	}
	l.sequence = state.Sequence
	l.prevHash = state.PrevHash
	return nil
}

func (l *Logger) saveState() error {
	data, err := json.Marshal(chainState{Sequence: l.sequence, PrevHash: l.prevHash})
	if err != nil {
		return fmt.Errorf("activity: failed to encode chain state: %w", err)
	}
	if err := os.WriteFile(l.statePath(), data, 0600); err != nil {
		return fmt.Errorf("activity: failed to save chain state: %w", err)
	}
	return nil
}

// logFiles returns the monthly files in chronological order.
func (l *Logger) logFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(l.dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("activity: failed to list log files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func (l *Logger) readFile(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("activity: failed to read %s: %w", path, err)
	}

	var events []Event
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return nil, fmt.Errorf("activity: failed to parse %s: %w", path, err)
		}
		events = append(events, event)
	}
	return events, nil
}

// List returns events oldest-first, keeping only the newest limit
// entries when limit is positive.
func (l *Logger) List(limit int) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	files, err := l.logFiles()
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, file := range files {
		batch, err := l.readFile(file)
		if err != nil {
			return nil, err
		}
		events = append(events, batch...)
	}

	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// Verify walks the whole chain and checks sequence numbers, links and
// per-record HMACs.
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	files, err := l.logFiles()
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Valid: true}
	expectedPrev := chainGenesis
	var expectedSeq int64 = 1

	for _, file := range files {
		events, err := l.readFile(file)
		if err != nil {
			return nil, err
		}
		for i := range events {
			event := &events[i]
			result.Records++

			if event.Chain.Sequence != expectedSeq {
				result.Valid = false
				result.Errors = append(result.Errors, fmt.Sprintf(
					"sequence gap at %s: expected %d, got %d",
					event.ID, expectedSeq, event.Chain.Sequence))
			}
			if event.Chain.PrevHash != expectedPrev {
				result.Valid = false
				result.Errors = append(result.Errors, fmt.Sprintf(
					"chain broken at %s", event.ID))
			}
			if event.Chain.HMAC != l.sign(recordData(event)) {
				result.Valid = false
				result.Errors = append(result.Errors, fmt.Sprintf(
					"signature mismatch at %s", event.ID))
			}

			expectedPrev = event.Chain.HMAC
			expectedSeq++
		}
	}
	return result, nil
}

// Prune deletes events older than the cutoff and returns how many were
// removed. Whole months are unlinked; partial months are rewritten.
func (l *Logger) Prune(olderThan time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	files, err := l.logFiles()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, file := range files {
		events, err := l.readFile(file)
		if err != nil {
			return deleted, err
		}

		var remaining []Event
		for _, event := range events {
			ts, err := time.Parse(time.RFC3339Nano, event.Timestamp)
			if err == nil && ts.Before(cutoff) {
				deleted++
				continue
			}
			remaining = append(remaining, event)
		}
		if len(remaining) == len(events) {
			continue
		}

		if len(remaining) == 0 {
			if err := os.Remove(file); err != nil {
				return deleted, fmt.Errorf("activity: failed to delete %s: %w", file, err)
			}
			continue
		}
		if err := l.rewrite(file, remaining); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

func (l *Logger) rewrite(path string, events []Event) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("activity: failed to rewrite %s: %w", path, err)
	}
	for i := range events {
		data, err := json.Marshal(&events[i])
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("activity: failed to encode event: %w", err)
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("activity: failed to rewrite %s: %w", path, err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("activity: failed to rewrite %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}
