// Package storage defines the DocumentStore contract the fetch pipeline
// persists through. Concrete backends live under providers/.
package storage

import (
	"encoding/json"

	"github.com/mrlokans/kivra-sync/internal/document"
)

// DocumentStore persists fetched documents. Implementations must be
// idempotent: repeated identical calls beyond the first successful
// persistence are no-ops.
type DocumentStore interface {
	// ReportListing records the raw listing snapshot for a document kind.
	// It is an auxiliary artifact; callers treat failures as non-fatal.
	ReportListing(kind document.Kind, listing json.RawMessage) error

	// Exists reports whether the artifact identified by the metadata
	// fingerprint has already been persisted.
	Exists(meta document.Metadata) bool

	// ReportMetadata persists a document's JSON metadata. Returns true on
	// successful persistence.
	ReportMetadata(data json.RawMessage, meta document.Metadata) bool

	// Store persists one content part (PDF bytes, plain text or HTML).
	// Returns true on successful persistence.
	Store(content []byte, meta document.Metadata) bool
}
