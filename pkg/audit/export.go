package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptyCharacterID   = errors.New("audit: character_id must not be empty")
	ErrStoreNotConfigured = errors.New("audit: querier not configured")
)

// Manifest describes an export pack.
type Manifest struct {
	CharacterID string            `json:"character_id"`
	GeneratedAt time.Time         `json:"generated_at"`
	EntryCount  int               `json:"entry_count"`
	ChainHead   string            `json:"chain_head"`
	Files       map[string]string `json:"files"`
}

// Exporter bundles a character's history into a zip.
type Exporter struct {
	q   Querier
	now func() time.Time
}

func NewExporter(q Querier) *Exporter {
	return &Exporter{q: q, now: time.Now}
}

// Pack builds a zip holding entries.json, manifest.json and README.txt and
// returns it with its sha256 checksum. The manifest's chain_head hashes the
// entries in order from genesis, so a reader can recompute it.
func (e *Exporter) Pack(ctx context.Context, characterID string) ([]byte, string, error) {
	if characterID == "" {
		return nil, "", ErrEmptyCharacterID
	}
	if e.q == nil {
		return nil, "", ErrStoreNotConfigured
	}

	entries, err := e.q.Entries(ctx, characterID)
	if err != nil {
		return nil, "", fmt.Errorf("audit: query entries: %w", err)
	}

	head := genesis
	for i, en := range entries {
		head, err = linkHash(Link{Sequence: uint64(i + 1), Entry: en, PreviousHash: head})
		if err != nil {
			return nil, "", err
		}
	}

	entriesJSON, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, "", err
	}
	generated := e.now().UTC()
	readme := fmt.Sprintf("Character history for %s\nGenerated at %s\nEntries: %d\n",
		characterID, generated.Format(time.RFC3339), len(entries))

	manifest := Manifest{
		CharacterID: characterID,
		GeneratedAt: generated,
		EntryCount:  len(entries),
		ChainHead:   head,
		Files: map[string]string{
			"entries.json": computeHash(entriesJSON),
			"README.txt":   computeHash([]byte(readme)),
		},
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: failed to marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	for _, f := range []struct {
		name string
		data []byte
	}{
		{"entries.json", entriesJSON},
		{"manifest.json", manifestJSON},
		{"README.txt", []byte(readme)},
	} {
		fw, err := w.Create(f.name)
		if err != nil {
			return nil, "", err
		}
		if _, err := fw.Write(f.data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}

	data := buf.Bytes()
	return data, computeHash(data), nil
}
