package importer

import (
	"encoding/json"
	"fmt"
	"strings"
)

// BitwardenParser parses Bitwarden JSON export files. Logins become
// credentials; secure notes, cards and identities become notes.
type BitwardenParser struct{}

// Bitwarden item type codes.
const (
	bitwardenTypeLogin      = 1
	bitwardenTypeSecureNote = 2
	bitwardenTypeCard       = 3
	bitwardenTypeIdentity   = 4
)

type bitwardenExport struct {
	Items   []bitwardenItem   `json:"items"`
	Folders []bitwardenFolder `json:"folders"`
}

type bitwardenFolder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type bitwardenItem struct {
	Type     int                    `json:"type"`
	Name     string                 `json:"name"`
	Notes    string                 `json:"notes"`
	FolderID *string                `json:"folderId"`
	Login    *bitwardenLogin        `json:"login"`
	Card     *bitwardenCard         `json:"card"`
	Identity *bitwardenIdentity     `json:"identity"`
	Fields   []bitwardenCustomField `json:"fields"`
}

type bitwardenLogin struct {
	URIs     []bitwardenURI `json:"uris"`
	Username string         `json:"username"`
	Password string         `json:"password"`
	TOTP     string         `json:"totp"`
}

type bitwardenURI struct {
	URI string `json:"uri"`
}

type bitwardenCard struct {
	CardholderName string `json:"cardholderName"`
	Number         string `json:"number"`
	ExpMonth       string `json:"expMonth"`
	ExpYear        string `json:"expYear"`
	Code           string `json:"code"`
	Brand          string `json:"brand"`
}

type bitwardenIdentity struct {
	Title          string `json:"title"`
	FirstName      string `json:"firstName"`
	MiddleName     string `json:"middleName"`
	LastName       string `json:"lastName"`
	Username       string `json:"username"`
	Company        string `json:"company"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Address1       string `json:"address1"`
	Address2       string `json:"address2"`
	City           string `json:"city"`
	State          string `json:"state"`
	PostalCode     string `json:"postalCode"`
	Country        string `json:"country"`
	SSN            string `json:"ssn"`
	PassportNumber string `json:"passportNumber"`
	LicenseNumber  string `json:"licenseNumber"`
}

type bitwardenCustomField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (p *BitwardenParser) Source() Source {
	return SourceBitwarden
}

// Parse parses Bitwarden JSON data.
func (p *BitwardenParser) Parse(data []byte) (*Result, error) {
	var export bitwardenExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("importer: failed to parse Bitwarden JSON: %w", err)
	}

	folders := make(map[string]string)
	for _, f := range export.Folders {
		folders[f.ID] = f.Name
	}

	result := &Result{}
	itemCounter := 1
	for i := range export.Items {
		p.parseItem(&export.Items[i], folders, result, &itemCounter)
	}
	return result, nil
}

func (p *BitwardenParser) parseItem(item *bitwardenItem, folders map[string]string, result *Result, itemCounter *int) {
	groupPath := ""
	if item.FolderID != nil {
		groupPath = folders[*item.FolderID]
	}

	switch item.Type {
	case bitwardenTypeLogin:
		p.parseLogin(item, groupPath, result, itemCounter)
	case bitwardenTypeSecureNote:
		p.parseNoteItem(item, groupPath, item.Notes, result)
	case bitwardenTypeCard:
		p.parseNoteItem(item, groupPath, cardText(item), result)
	case bitwardenTypeIdentity:
		p.parseNoteItem(item, groupPath, identityText(item), result)
	default:
		result.Skipped = append(result.Skipped, SkippedItem{
			Name:   item.Name,
			Reason: fmt.Sprintf("unsupported item type %d", item.Type),
		})
	}
}

func (p *BitwardenParser) parseLogin(item *bitwardenItem, groupPath string, result *Result, itemCounter *int) {
	var username, password, totp, url string
	var extraURIs []string
	if item.Login != nil {
		username = item.Login.Username
		password = item.Login.Password
		totp = item.Login.TOTP
		for _, u := range item.Login.URIs {
			if u.URI == "" {
				continue
			}
			if url == "" {
				url = u.URI
				continue
			}
			extraURIs = append(extraURIs, u.URI)
		}
	}

	if username == "" && password == "" && totp == "" && item.Notes == "" {
		result.Skipped = append(result.Skipped, SkippedItem{Name: item.Name, Reason: "no useful data"})
		return
	}

	title := cleanTitle(item.Name)
	if title == "" {
		title = cleanTitle(fallbackTitle(url, *itemCounter))
		*itemCounter++
	}

	notes := item.Notes
	if totp != "" {
		notes = joinNotes(notes, "TOTP: "+totp)
	}
	for _, u := range extraURIs {
		notes = joinNotes(notes, "URL: "+u)
	}
	notes = joinNotes(notes, customFieldText(item.Fields))

	result.Credentials = append(result.Credentials, Credential{
		Title:     title,
		Username:  username,
		Password:  password,
		URL:       url,
		Notes:     notes,
		GroupPath: groupPath,
	})
}

func (p *BitwardenParser) parseNoteItem(item *bitwardenItem, groupPath, content string, result *Result) {
	content = joinNotes(content, customFieldText(item.Fields))
	if strings.TrimSpace(content) == "" {
		result.Skipped = append(result.Skipped, SkippedItem{Name: item.Name, Reason: "no useful data"})
		return
	}

	title := cleanTitle(item.Name)
	if title == "" {
		title = "Imported note"
	}

	result.Notes = append(result.Notes, Note{
		Title:     title,
		Content:   content,
		GroupPath: groupPath,
	})
}

// cardText flattens a card item into note lines.
func cardText(item *bitwardenItem) string {
	if item.Card == nil {
		return item.Notes
	}
	c := item.Card
	var lines []string
	appendLine := func(label, value string) {
		if value != "" {
			lines = append(lines, label+": "+value)
		}
	}
	appendLine("Cardholder", c.CardholderName)
	appendLine("Brand", c.Brand)
	appendLine("Number", c.Number)
	appendLine("Expires", joinExpiry(c.ExpMonth, c.ExpYear))
	appendLine("Code", c.Code)
	return joinNotes(strings.Join(lines, "\n"), item.Notes)
}

func joinExpiry(month, year string) string {
	switch {
	case month == "":
		return year
	case year == "":
		return month
	default:
		return month + "/" + year
	}
}

// identityText flattens an identity item into note lines.
func identityText(item *bitwardenItem) string {
	if item.Identity == nil {
		return item.Notes
	}
	id := item.Identity
	var lines []string
	appendLine := func(label, value string) {
		if value != "" {
			lines = append(lines, label+": "+value)
		}
	}
	appendLine("Name", joinWords(id.Title, id.FirstName, id.MiddleName, id.LastName))
	appendLine("Username", id.Username)
	appendLine("Company", id.Company)
	appendLine("Email", id.Email)
	appendLine("Phone", id.Phone)
	appendLine("Address", joinNotes(id.Address1, id.Address2))
	appendLine("City", id.City)
	appendLine("State", id.State)
	appendLine("Postal code", id.PostalCode)
	appendLine("Country", id.Country)
	appendLine("SSN", id.SSN)
	appendLine("Passport", id.PassportNumber)
	appendLine("License", id.LicenseNumber)
	return joinNotes(strings.Join(lines, "\n"), item.Notes)
}

func joinWords(words ...string) string {
	var kept []string
	for _, w := range words {
		if w != "" {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

func customFieldText(fields []bitwardenCustomField) string {
	var lines []string
	for _, f := range fields {
		if f.Value == "" {
			continue
		}
		name := f.Name
		if name == "" {
			name = "field"
		}
		lines = append(lines, name+": "+f.Value)
	}
	return strings.Join(lines, "\n")
}
