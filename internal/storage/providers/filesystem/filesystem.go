// Package filesystem persists documents in a per-account directory tree:
// <base>/{Receipts,Letters}/<counterparty>/ for content parts with a json/
// mirror for metadata.
package filesystem

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/mrlokans/kivra-sync/internal/document"
	"github.com/mrlokans/kivra-sync/internal/htmlconv"
	"github.com/mrlokans/kivra-sync/internal/utils"
)

// Store is a filesystem-backed document store. The dedup fingerprint maps
// deterministically to a file path, so Exists is a stat call.
type Store struct {
	baseDir   string
	dryRun    bool
	converter htmlconv.Converter

	receiptsDir     string
	receiptsJSONDir string
	lettersDir      string
	lettersJSONDir  string
}

// Option configures a Store.
type Option func(*Store)

// WithDryRun makes all writes simulated (logged, reported successful,
// nothing touched on disk).
func WithDryRun(dryRun bool) Option {
	return func(s *Store) { s.dryRun = dryRun }
}

// WithConverter sets the HTML-to-PDF converter used for text/html parts.
// Without one, HTML is stored verbatim.
func WithConverter(conv htmlconv.Converter) Option {
	return func(s *Store) { s.converter = conv }
}

// New creates the store and its directory skeleton under baseDir.
func New(baseDir string, opts ...Option) (*Store, error) {
	s := &Store{
		baseDir:         baseDir,
		receiptsDir:     filepath.Join(baseDir, "Receipts"),
		receiptsJSONDir: filepath.Join(baseDir, "Receipts", "json"),
		lettersDir:      filepath.Join(baseDir, "Letters"),
		lettersJSONDir:  filepath.Join(baseDir, "Letters", "json"),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, dir := range []string{s.receiptsJSONDir, s.lettersJSONDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
		}
	}
	return s, nil
}

// paths resolves the content directory, metadata mirror directory and
// filename base for a fingerprint.
func (s *Store) paths(meta document.Metadata) (contentDir, jsonDir, base string, err error) {
	safe := utils.SanitizeFilename(meta.Counterparty)
	base = fmt.Sprintf("%s_%s_%s", meta.Date, safe, meta.Key)
	if meta.PartIndex != nil {
		base = fmt.Sprintf("%s_part%d", base, *meta.PartIndex)
	}

	switch meta.Kind {
	case document.KindReceipt:
		return filepath.Join(s.receiptsDir, safe), filepath.Join(s.receiptsJSONDir, safe), base, nil
	case document.KindLetter:
		return filepath.Join(s.lettersDir, safe), filepath.Join(s.lettersJSONDir, safe), base, nil
	default:
		return "", "", "", fmt.Errorf("unknown document kind: %s", meta.Kind)
	}
}

// contentPath maps a fingerprint to its final on-disk location, or "" for
// content types this store does not persist.
func (s *Store) contentPath(meta document.Metadata) string {
	contentDir, jsonDir, base, err := s.paths(meta)
	if err != nil {
		return ""
	}

	switch meta.ContentType {
	case document.ContentTypeJSON:
		return filepath.Join(jsonDir, base+".json")
	case document.ContentTypePDF:
		return filepath.Join(contentDir, base+".pdf")
	case document.ContentTypeText:
		return filepath.Join(contentDir, base+".txt")
	case document.ContentTypeHTML:
		if s.converter != nil {
			return filepath.Join(contentDir, base+"_html.pdf")
		}
		return filepath.Join(contentDir, base+"_html.html")
	default:
		return ""
	}
}

// ReportListing snapshots the raw listing next to the metadata mirror.
func (s *Store) ReportListing(kind document.Kind, listing json.RawMessage) error {
	var path string
	switch kind {
	case document.KindReceipt:
		path = filepath.Join(s.receiptsJSONDir, "receipts.json")
	case document.KindLetter:
		path = filepath.Join(s.lettersJSONDir, "letters.json")
	default:
		return fmt.Errorf("unknown document kind: %s", kind)
	}

	if s.dryRun {
		log.Printf("DRY RUN: would store %s listing to %s", kind, path)
		return nil
	}
	return os.WriteFile(path, indented(listing), 0o644)
}

// Exists reports whether the artifact's target file is already on disk.
func (s *Store) Exists(meta document.Metadata) bool {
	path := s.contentPath(meta)
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// ReportMetadata writes the document's JSON metadata into the json/ mirror.
func (s *Store) ReportMetadata(data json.RawMessage, meta document.Metadata) bool {
	_, jsonDir, base, err := s.paths(meta)
	if err != nil {
		log.Printf("Filesystem store: %v", err)
		return false
	}
	path := filepath.Join(jsonDir, base+".json")

	if s.dryRun {
		log.Printf("DRY RUN: would store metadata to %s", path)
		return true
	}

	if err := os.MkdirAll(jsonDir, 0o755); err != nil {
		log.Printf("Filesystem store: failed to create %s: %v", jsonDir, err)
		return false
	}
	if err := os.WriteFile(path, indented(data), 0o644); err != nil {
		log.Printf("Filesystem store: failed to write %s: %v", path, err)
		return false
	}
	return true
}

// Store persists one content part. HTML goes through the converter when one
// is configured; a conversion failure falls back to the raw markup and
// counts as not-stored so a later run with a working converter retries.
func (s *Store) Store(content []byte, meta document.Metadata) bool {
	contentDir, _, base, err := s.paths(meta)
	if err != nil {
		log.Printf("Filesystem store: %v", err)
		return false
	}

	var path string
	data := content

	switch meta.ContentType {
	case document.ContentTypePDF:
		path = filepath.Join(contentDir, base+".pdf")
	case document.ContentTypeText:
		path = filepath.Join(contentDir, base+".txt")
	case document.ContentTypeHTML:
		if s.converter == nil {
			path = filepath.Join(contentDir, base+"_html.html")
			break
		}
		pdf, convErr := s.converter(string(content))
		if convErr != nil {
			// Keep the source for inspection but report not-stored so a
			// later run with a working converter retries.
			log.Printf("Filesystem store: HTML conversion failed for %s, keeping source: %v", base, convErr)
			if writeErr := s.write(filepath.Join(contentDir, base+"_html.html"), content); writeErr != nil {
				log.Printf("Filesystem store: %v", writeErr)
			}
			return false
		}
		path = filepath.Join(contentDir, base+"_html.pdf")
		data = pdf
	default:
		log.Printf("Filesystem store: unsupported content type %q", meta.ContentType)
		return false
	}

	if s.dryRun {
		log.Printf("DRY RUN: would store %s to %s", meta.ContentType, path)
		return true
	}

	if err := s.write(path, data); err != nil {
		log.Printf("Filesystem store: %v", err)
		return false
	}
	return true
}

func (s *Store) write(path string, data []byte) error {
	if s.dryRun {
		log.Printf("DRY RUN: would write %s", path)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// indented pretty-prints JSON for human inspection; invalid input is kept
// verbatim.
func indented(raw json.RawMessage) []byte {
	var buf any
	if err := json.Unmarshal(raw, &buf); err != nil {
		return raw
	}
	out, err := json.MarshalIndent(buf, "", "  ")
	if err != nil {
		return raw
	}
	return out
}
