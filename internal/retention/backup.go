package retention

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"webstats/internal/sessions"
	"webstats/internal/views"
	"webstats/internal/visitors"
)

const (
	archiveVersion    = "1"
	archiveFilePrefix = "webstats-archive-"
	archiveTimeLayout = "20060102-150405"
)

// Meta describes one archive document.
type Meta struct {
	Version    string    `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	CutoffDate string    `json:"cutoff_date"`
	Type       string    `json:"type"`
	SiteURL    string    `json:"site_url"`
}

// Payload is the archived table data. Field order is fixed so the payload
// marshals deterministically.
type Payload struct {
	Visitors []visitors.Visitor `json:"visitors"`
	Sessions []sessions.Session `json:"sessions"`
	Views    []views.View       `json:"views"`
}

// Rows returns the total archived row count.
func (p *Payload) Rows() int {
	return len(p.Visitors) + len(p.Sessions) + len(p.Views)
}

// Document is the persisted archive format. Data keeps the exact marshaled
// payload bytes; the checksum is SHA-256 over those bytes and must be
// recomputed over them on restore.
type Document struct {
	Meta     Meta            `json:"meta"`
	Data     json.RawMessage `json:"data"`
	Checksum string          `json:"checksum"`
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// writeArchive writes a checksummed archive document and returns its path.
// An empty payload is a caller error; the caller must skip archiving when
// nothing qualifies.
func writeArchive(dir string, payload *Payload, meta Meta) (string, error) {
	if payload.Rows() == 0 {
		return "", fmt.Errorf("refusing to write empty archive")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode archive data: %w", err)
	}

	doc := Document{
		Meta:     meta,
		Data:     data,
		Checksum: checksum(data),
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode archive document: %w", err)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := archiveFilePrefix + meta.CreatedAt.UTC().Format(archiveTimeLayout) + ".json"
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return "", fmt.Errorf("failed to write archive file: %w", err)
	}

	// Fail closed: never report success unless the file really landed.
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return "", fmt.Errorf("archive file verification failed: %v", err)
	}

	return path, nil
}

// ReadDocument loads an archive file and verifies its checksum. A mismatch
// is fatal for the operation; the document is not returned.
func ReadDocument(path string) (*Document, error) {
	encoded, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive file: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode archive document: %w", err)
	}

	if recomputed := checksum(doc.Data); recomputed != doc.Checksum {
		return nil, fmt.Errorf("archive checksum mismatch: stored %s, computed %s", doc.Checksum, recomputed)
	}
	return &doc, nil
}

// ListArchives returns archive file paths in dir, newest first by
// modification time.
func ListArchives(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list backup directory: %w", err)
	}

	type archive struct {
		path    string
		modTime time.Time
	}
	var archives []archive
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), archiveFilePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		archives = append(archives, archive{
			path:    filepath.Join(dir, entry.Name()),
			modTime: info.ModTime(),
		})
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].modTime.After(archives[j].modTime)
	})

	paths := make([]string, len(archives))
	for i, a := range archives {
		paths[i] = a.path
	}
	return paths, nil
}

// pruneArchives keeps the newest keep archive files and removes the rest.
func pruneArchives(dir string, keep int) error {
	if keep < 1 {
		keep = 1
	}
	paths, err := ListArchives(dir)
	if err != nil {
		return err
	}
	for _, path := range paths[min(keep, len(paths)):] {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to prune archive %s: %w", path, err)
		}
	}
	return nil
}
