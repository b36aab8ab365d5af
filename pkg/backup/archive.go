package backup

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/yeka/zip"
)

// MinArchivePasswordLength is enforced on archive creation.
const MinArchivePasswordLength = 4

// archiveEntryName is the single document entry inside the archive.
const archiveEntryName = "vault.json"

// Archive errors
var (
	ErrArchivePasswordTooShort = errors.New("backup: archive password must be at least 4 characters")
	ErrArchivePasswordRequired = errors.New("backup: archive password required")
	ErrArchiveEmpty            = errors.New("backup: archive contains no entries")
)

// zipMagic is the local-file-header signature of a zip archive.
var zipMagic = []byte{'P', 'K', 0x03, 0x04}

// isArchive reports whether blob looks like a zip archive rather than a
// plain document.
func isArchive(blob []byte) bool {
	return len(blob) >= len(zipMagic) && bytes.Equal(blob[:len(zipMagic)], zipMagic)
}

// wrapArchive wraps the plain document in an AES-encrypted, compressed
// zip container protected by the archive password. The archive password
// is distinct from the vault's own encryption key.
func wrapArchive(document []byte, password string) ([]byte, error) {
	if len(password) < MinArchivePasswordLength {
		return nil, ErrArchivePasswordTooShort
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := zw.Encrypt(archiveEntryName, password, zip.AES256Encryption)
	if err != nil {
		zw.Close()
		return nil, fmt.Errorf("backup: failed to create archive entry: %w", err)
	}
	if _, err := w.Write(document); err != nil {
		zw.Close()
		return nil, fmt.Errorf("backup: failed to write archive entry: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("backup: failed to finalize archive: %w", err)
	}

	return buf.Bytes(), nil
}

// unwrapArchive extracts the document from an encrypted archive.
func unwrapArchive(blob []byte, password string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		return nil, fmt.Errorf("backup: failed to open archive: %w", err)
	}
	if len(zr.File) == 0 {
		return nil, ErrArchiveEmpty
	}

	f := zr.File[0]
	if f.IsEncrypted() {
		if password == "" {
			return nil, ErrArchivePasswordRequired
		}
		f.SetPassword(password)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("backup: failed to open archive entry (wrong password?): %w", err)
	}
	defer rc.Close()

	document, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read archive entry (wrong password?): %w", err)
	}
	return document, nil
}
