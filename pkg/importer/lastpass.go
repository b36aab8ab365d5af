package importer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// LastPassParser parses LastPass CSV export files. The export columns
// are url,username,password,totp,extra,name,grouping,fav; secure notes
// carry the sentinel url "http://sn" with the body in extra.
type LastPassParser struct{}

const (
	lpColURL      = "url"
	lpColUsername = "username"
	lpColPassword = "password"
	lpColTOTP     = "totp"
	lpColExtra    = "extra"
	lpColName     = "name"
	lpColGrouping = "grouping"
)

// lpSecureNoteURL marks secure note rows in LastPass exports.
const lpSecureNoteURL = "http://sn"

func (p *LastPassParser) Source() Source {
	return SourceLastPass
}

// Parse parses LastPass CSV data.
func (p *LastPassParser) Parse(data []byte) (*Result, error) {
	result := &Result{}

	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	reader := csv.NewReader(bytes.NewReader(data))
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("importer: failed to read CSV header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(col)] = i
	}
	if _, ok := colIndex[lpColName]; !ok {
		return nil, fmt.Errorf("importer: missing required column %q", lpColName)
	}

	itemCounter := 1
	rowNum := 1
	for {
		rowNum++
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("row %d: failed to parse: %v", rowNum, err))
			continue
		}
		if len(row) != len(header) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("row %d: column count mismatch (expected %d, got %d)",
					rowNum, len(header), len(row)))
			continue
		}
		p.parseRow(row, colIndex, result, &itemCounter)
	}

	return result, nil
}

func (p *LastPassParser) parseRow(row []string, colIndex map[string]int, result *Result, itemCounter *int) {
	getValue := func(col string) string {
		if idx, ok := colIndex[col]; ok && idx < len(row) {
			return decodeHTMLEntities(strings.TrimSpace(row[idx]))
		}
		return ""
	}

	name := getValue(lpColName)
	url := getValue(lpColURL)
	username := getValue(lpColUsername)
	password := getValue(lpColPassword)
	totp := getValue(lpColTOTP)
	extra := getValue(lpColExtra)
	grouping := getValue(lpColGrouping)

	title := cleanTitle(name)
	if title == "" {
		title = cleanTitle(fallbackTitle(url, *itemCounter))
		*itemCounter++
	}

	if username == "" && password == "" && totp == "" && extra == "" {
		result.Skipped = append(result.Skipped, SkippedItem{Name: name, Reason: "no useful data"})
		return
	}

	if url == lpSecureNoteURL {
		result.Notes = append(result.Notes, Note{
			Title:     title,
			Content:   extra,
			GroupPath: grouping,
		})
		return
	}

	notes := extra
	if totp != "" {
		notes = joinNotes(notes, "TOTP: "+totp)
	}

	result.Credentials = append(result.Credentials, Credential{
		Title:     title,
		Username:  username,
		Password:  password,
		URL:       url,
		Notes:     notes,
		GroupPath: grouping,
	})
}
