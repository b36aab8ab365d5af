package importer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// OnePasswordParser parses 1Password CSV export files with the columns
// Title,Website,Username,Password,OTPAuth,Favorite,Archived,Tags,Notes.
type OnePasswordParser struct{}

const (
	opColTitle    = "Title"
	opColWebsite  = "Website"
	opColUsername = "Username"
	opColPassword = "Password"
	opColOTPAuth  = "OTPAuth"
	opColArchived = "Archived"
	opColTags     = "Tags"
	opColNotes    = "Notes"
)

func (p *OnePasswordParser) Source() Source {
	return Source1Password
}

// Parse parses 1Password CSV data. Archived items are skipped.
func (p *OnePasswordParser) Parse(data []byte) (*Result, error) {
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
		colIndex[col] = i
	}
	if _, ok := colIndex[opColTitle]; !ok {
		return nil, fmt.Errorf("importer: missing required column %q", opColTitle)
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

func (p *OnePasswordParser) parseRow(row []string, colIndex map[string]int, result *Result, itemCounter *int) {
	getValue := func(col string) string {
		if idx, ok := colIndex[col]; ok && idx < len(row) {
			return strings.TrimSpace(row[idx])
		}
		return ""
	}

	name := getValue(opColTitle)
	website := getValue(opColWebsite)
	username := getValue(opColUsername)
	password := getValue(opColPassword)
	otpAuth := getValue(opColOTPAuth)
	notes := getValue(opColNotes)

	if strings.EqualFold(getValue(opColArchived), "true") {
		result.Skipped = append(result.Skipped, SkippedItem{Name: name, Reason: "archived"})
		return
	}

	title := cleanTitle(name)
	if title == "" {
		title = cleanTitle(fallbackTitle(website, *itemCounter))
		*itemCounter++
	}

	// The first tag maps to a group; 1Password tags have no hierarchy.
	groupPath := ""
	if tags := getValue(opColTags); tags != "" {
		groupPath = strings.TrimSpace(strings.Split(tags, ",")[0])
	}

	if username == "" && password == "" && otpAuth == "" {
		if notes == "" {
			result.Skipped = append(result.Skipped, SkippedItem{Name: name, Reason: "no useful data"})
			return
		}
		result.Notes = append(result.Notes, Note{
			Title:     title,
			Content:   notes,
			GroupPath: groupPath,
		})
		return
	}

	if otpAuth != "" {
		notes = joinNotes(notes, "TOTP: "+otpAuth)
	}

	result.Credentials = append(result.Credentials, Credential{
		Title:     title,
		Username:  username,
		Password:  password,
		URL:       website,
		Notes:     notes,
		GroupPath: groupPath,
	})
}
