package document

import "fmt"

// Kind identifies which Kivra collection a document came from.
type Kind string

const (
	KindReceipt Kind = "receipt"
	KindLetter  Kind = "letter"
)

// Content types a document part can carry.
const (
	ContentTypeJSON = "application/json"
	ContentTypePDF  = "application/pdf"
	ContentTypeText = "text/plain"
	ContentTypeHTML = "text/html"
)

// Placeholders used when a listing item lacks the field.
const (
	UnknownDate   = "unknown_date"
	UnknownStore  = "unknown_store"
	UnknownSender = "unknown_sender"
)

// Metadata is the dedup fingerprint for a single document artifact.
// Two fetch attempts producing identical Metadata refer to the same
// logical artifact; the Key field is assumed unique per remote item.
type Metadata struct {
	Kind         Kind
	Date         string // YYYY-MM-DD or UnknownDate
	Counterparty string // store name for receipts, sender name for letters
	Key          string
	ContentType  string
	PartIndex    *int // set only for multi-part letters
}

// WithContentType returns a copy of the metadata with a different content type.
// The rest of the fingerprint is unchanged.
func (m Metadata) WithContentType(contentType string) Metadata {
	m.ContentType = contentType
	return m
}

// WithPart returns a copy of the metadata carrying a part index.
func (m Metadata) WithPart(index int) Metadata {
	m.PartIndex = &index
	return m
}

func (m Metadata) String() string {
	if m.PartIndex != nil {
		return fmt.Sprintf("%s %s (%s, part %d)", m.Kind, m.Key, m.ContentType, *m.PartIndex)
	}
	return fmt.Sprintf("%s %s (%s)", m.Kind, m.Key, m.ContentType)
}
