package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Exporter packages chain slices into verifiable zip bundles for offline
// review.
type Exporter struct {
	storage Storage
}

func NewExporter(storage Storage) *Exporter {
	return &Exporter{storage: storage}
}

// Bundle returns a zip of the matching entries (entries.json, manifest.json,
// README.txt) and the zip's hex SHA-256 checksum.
func (x *Exporter) Bundle(ctx context.Context, f Filter) ([]byte, string, error) {
	entries, err := x.storage.Query(ctx, f)
	if err != nil {
		return nil, "", fmt.Errorf("audit: export query: %w", err)
	}

	entriesJSON, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: marshal entries: %w", err)
	}

	manifest := map[string]any{
		"generatedAt": time.Now().UnixMilli(),
		"entryCount":  len(entries),
	}
	if len(entries) > 0 {
		manifest["firstSequence"] = entries[0].Sequence
		manifest["lastSequence"] = entries[len(entries)-1].Sequence
		manifest["chainHead"] = entries[len(entries)-1].Hash
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	files := []struct {
		name string
		body []byte
	}{
		{"entries.json", entriesJSON},
		{"manifest.json", manifestJSON},
		{"README.txt", []byte(fmt.Sprintf("Audit chain export\nGenerated at %s\nEntries: %d\n",
			time.Now().UTC().Format(time.RFC3339), len(entries)))},
	}
	for _, f := range files {
		fw, err := w.Create(f.name)
		if err != nil {
			return nil, "", fmt.Errorf("audit: zip %s: %w", f.name, err)
		}
		if _, err := fw.Write(f.body); err != nil {
			return nil, "", fmt.Errorf("audit: write %s: %w", f.name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("audit: close zip: %w", err)
	}

	zipBytes := buf.Bytes()
	sum := sha256.Sum256(zipBytes)
	return zipBytes, hex.EncodeToString(sum[:]), nil
}
