// Package paperless stores documents in a paperless-ngx instance via its
// REST API. Metadata and listing snapshots are not persisted: paperless
// indexes the documents itself.
package paperless

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/mrlokans/kivra-sync/internal/document"
	"github.com/mrlokans/kivra-sync/internal/htmlconv"
)

const defaultTimeout = 30 * time.Second

var isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Store uploads documents to paperless-ngx. Tags, correspondents and
// document types are resolved (and created when missing) lazily.
type Store struct {
	apiURL     string
	apiToken   string
	tags       []string
	dryRun     bool
	converter  htmlconv.Converter
	httpClient *http.Client

	tagIDs []int
}

// Option configures a Store.
type Option func(*Store)

// WithTags applies the given tag names to every uploaded document.
func WithTags(tags []string) Option {
	return func(s *Store) { s.tags = tags }
}

// WithDryRun makes all uploads simulated.
func WithDryRun(dryRun bool) Option {
	return func(s *Store) { s.dryRun = dryRun }
}

// WithConverter sets the HTML-to-PDF converter applied before upload.
func WithConverter(conv htmlconv.Converter) Option {
	return func(s *Store) { s.converter = conv }
}

// New creates a paperless store and resolves the configured tags up front.
func New(apiURL, apiToken string, opts ...Option) (*Store, error) {
	s := &Store{
		apiURL:   strings.TrimRight(apiURL, "/"),
		apiToken: apiToken,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, tag := range s.tags {
		id, err := s.resolveTag(context.Background(), tag)
		if err != nil {
			log.Printf("Paperless store: could not resolve tag %q: %v", tag, err)
			continue
		}
		s.tagIDs = append(s.tagIDs, id)
	}
	return s, nil
}

// ReportListing is a no-op: paperless indexes documents itself.
func (s *Store) ReportListing(document.Kind, json.RawMessage) error {
	return nil
}

// ReportMetadata is a no-op: only actual documents are uploaded.
func (s *Store) ReportMetadata(json.RawMessage, document.Metadata) bool {
	return true
}

// Exists searches paperless for a document whose original filename carries
// the item key. Lookup failures are treated as not-found: re-uploading is
// cheaper than silently skipping.
func (s *Store) Exists(meta document.Metadata) bool {
	if meta.Key == "" {
		return false
	}

	endpoint := fmt.Sprintf("%s/documents/?original_filename__icontains=%s", s.apiURL, url.QueryEscape(meta.Key))
	var result struct {
		Count int `json:"count"`
	}
	if err := s.getJSON(context.Background(), endpoint, &result); err != nil {
		log.Printf("Paperless store: exists check failed for %s: %v", meta.Key, err)
		return false
	}
	return result.Count > 0
}

// Store uploads one content part. Text and HTML are converted to PDF when a
// converter is available; otherwise they are uploaded as-is.
func (s *Store) Store(content []byte, meta document.Metadata) bool {
	switch meta.ContentType {
	case document.ContentTypePDF, document.ContentTypeText, document.ContentTypeHTML:
	default:
		// Nothing to archive, but nothing failed either.
		return true
	}

	filename := s.filename(meta)
	data, extension := s.prepareUpload(content, meta, filename)

	if s.dryRun {
		log.Printf("DRY RUN: would upload %s.%s to paperless", filename, extension)
		return true
	}

	correspondentID := s.resolveCorrespondent(context.Background(), correspondentName(meta))
	documentTypeID := s.resolveDocumentType(context.Background(), meta.Kind)

	if err := s.upload(context.Background(), filename+"."+extension, data, meta, correspondentID, documentTypeID); err != nil {
		log.Printf("Paperless store: upload of %s failed: %v", filename, err)
		return false
	}
	return true
}

// prepareUpload renders the payload into its final uploadable form.
func (s *Store) prepareUpload(content []byte, meta document.Metadata, filename string) ([]byte, string) {
	switch meta.ContentType {
	case document.ContentTypeText:
		if s.converter != nil {
			if pdf, err := s.converter(htmlconv.WrapText(string(content), filename)); err == nil {
				return pdf, "pdf"
			}
			log.Printf("Paperless store: text conversion failed for %s, uploading as text", filename)
		}
		return content, "txt"
	case document.ContentTypeHTML:
		if s.converter != nil {
			if pdf, err := s.converter(string(content)); err == nil {
				return pdf, "pdf"
			}
			log.Printf("Paperless store: HTML conversion failed for %s, uploading as text", filename)
		}
		return content, "txt"
	default:
		return content, "pdf"
	}
}

func (s *Store) filename(meta document.Metadata) string {
	name := correspondentName(meta)
	base := fmt.Sprintf("%s_%s_%s", meta.Date, name, meta.Key)
	if meta.PartIndex != nil {
		base = fmt.Sprintf("%s_part%d", base, *meta.PartIndex)
	}
	return base
}

func correspondentName(meta document.Metadata) string {
	name := meta.Counterparty
	// Chains report "Store / Branch"; the correspondent is the chain.
	if meta.Kind == document.KindReceipt && strings.Contains(name, "/") {
		name = strings.TrimSpace(strings.Split(name, "/")[0])
	}
	return name
}

// upload posts the document through the paperless consumption endpoint.
func (s *Store) upload(ctx context.Context, filename string, data []byte, meta document.Metadata, correspondentID, documentTypeID int) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("document", filename)
	if err != nil {
		return fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to build upload: %w", err)
	}

	_ = writer.WriteField("title", strings.TrimSuffix(filename, ".pdf"))
	if date := meta.Date; isoDatePattern.MatchString(date) {
		_ = writer.WriteField("created", date+"T00:00:00Z")
	}
	if correspondentID > 0 {
		_ = writer.WriteField("correspondent", fmt.Sprintf("%d", correspondentID))
	}
	if documentTypeID > 0 {
		_ = writer.WriteField("document_type", fmt.Sprintf("%d", documentTypeID))
	}
	for _, id := range s.tagIDs {
		_ = writer.WriteField("tags", fmt.Sprintf("%d", id))
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"/documents/post_document/", &body)
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+s.apiToken)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload rejected with status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// resolveTag finds a tag by name (case-insensitive) or creates it.
func (s *Store) resolveTag(ctx context.Context, name string) (int, error) {
	id, err := s.lookupID(ctx, fmt.Sprintf("%s/tags/?name__iexact=%s", s.apiURL, url.QueryEscape(name)))
	if err == nil && id > 0 {
		return id, nil
	}
	return s.createNamed(ctx, s.apiURL+"/tags/", map[string]any{"name": name})
}

// resolveCorrespondent finds or creates a correspondent. Unknown names are
// skipped so placeholder counterparties don't pollute paperless.
func (s *Store) resolveCorrespondent(ctx context.Context, name string) int {
	if name == "" || name == document.UnknownStore || name == document.UnknownSender {
		return 0
	}

	encoded := url.QueryEscape(name)
	if id, err := s.lookupID(ctx, fmt.Sprintf("%s/correspondents/?name__iexact=%s", s.apiURL, encoded)); err == nil && id > 0 {
		return id
	}
	if id, err := s.lookupID(ctx, fmt.Sprintf("%s/correspondents/?name__icontains=%s", s.apiURL, encoded)); err == nil && id > 0 {
		return id
	}

	// matching_algorithm 6 = automatic
	id, err := s.createNamed(ctx, s.apiURL+"/correspondents/", map[string]any{"name": name, "matching_algorithm": 6})
	if err != nil {
		log.Printf("Paperless store: could not create correspondent %q: %v", name, err)
		return 0
	}
	return id
}

// resolveDocumentType maps the document kind to a paperless document type,
// creating it when missing.
func (s *Store) resolveDocumentType(ctx context.Context, kind document.Kind) int {
	var typeName string
	switch kind {
	case document.KindReceipt:
		typeName = "Receipt"
	case document.KindLetter:
		typeName = "Letter"
	default:
		typeName = "Document"
	}

	if id, err := s.lookupID(ctx, fmt.Sprintf("%s/document_types/?name__iexact=%s", s.apiURL, url.QueryEscape(typeName))); err == nil && id > 0 {
		return id
	}
	id, err := s.createNamed(ctx, s.apiURL+"/document_types/", map[string]any{"name": typeName})
	if err != nil {
		log.Printf("Paperless store: could not create document type %q: %v", typeName, err)
		return 0
	}
	return id
}

// lookupID returns the first result's id of a paperless list endpoint, 0
// when the query matched nothing.
func (s *Store) lookupID(ctx context.Context, endpoint string) (int, error) {
	var result struct {
		Count   int `json:"count"`
		Results []struct {
			ID int `json:"id"`
		} `json:"results"`
	}
	if err := s.getJSON(ctx, endpoint, &result); err != nil {
		return 0, err
	}
	if result.Count == 0 || len(result.Results) == 0 {
		return 0, nil
	}
	return result.Results[0].ID, nil
}

func (s *Store) createNamed(ctx context.Context, endpoint string, payload map[string]any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+s.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var created struct {
		ID int `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}
	return created.ID, nil
}

func (s *Store) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+s.apiToken)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
