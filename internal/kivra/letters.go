package kivra

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/mrlokans/kivra-sync/internal/document"
	"github.com/mrlokans/kivra-sync/internal/storage"
	"github.com/mrlokans/kivra-sync/internal/utils"
)

const lettersPageSize = 100

// LetterFetcher walks the letter catalog (cursor-paginated) and persists
// missing letters, part by part, through the document store.
type LetterFetcher struct {
	client *Client
	store  storage.DocumentStore
}

// NewLetterFetcher creates a letter fetcher bound to an API client and a
// document store.
func NewLetterFetcher(client *Client, store storage.DocumentStore) *LetterFetcher {
	return &LetterFetcher{client: client, store: store}
}

type lettersEnvelope struct {
	Contents struct {
		Total      int               `json:"total"`
		ExistsMore bool              `json:"existsMore"`
		List       []json.RawMessage `json:"list"`
	} `json:"contents"`
}

type listedLetter struct {
	Key        string `json:"key"`
	ReceivedAt string `json:"receivedAt"`
	Sender     struct {
		Name string `json:"name"`
	} `json:"sender"`
}

type contentDetails struct {
	Parts []contentPart `json:"parts"`
}

type contentPart struct {
	Key         string `json:"key"`
	ContentType string `json:"content_type"`
	Body        string `json:"body"`
}

// Fetch pages through the letter catalog, skips letters the store already
// holds and persists metadata plus every content part for the rest.
// maxCount <= 0 fetches everything.
func (f *LetterFetcher) Fetch(ctx context.Context, maxCount int) (Stats, error) {
	log.Printf("Letters: fetching listing")

	listing, total, err := f.listAll(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Total: total}
	log.Printf("Letters: found %d letters", total)

	if raw, err := json.Marshal(listing); err == nil {
		if err := f.store.ReportListing(document.KindLetter, raw); err != nil {
			log.Printf("Letters: failed to report listing: %v", err)
		}
	}

	listing = truncate(listing, maxCount)
	stats.Fetched = len(listing)

	for _, raw := range listing {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if f.processLetter(ctx, raw) {
			stats.Stored++
		}
	}

	log.Printf("Letters: done (%d fetched, %d newly stored)", stats.Fetched, stats.Stored)
	return stats, nil
}

// listAll accumulates the full catalog in remote order. The cursor for the
// next page is the last item's key on the current one; the server signals
// the end with existsMore=false.
func (f *LetterFetcher) listAll(ctx context.Context) ([]json.RawMessage, int, error) {
	var all []json.RawMessage
	var after any
	total := 0

	for {
		data, err := f.client.Query(ctx, "ContentList", lettersQuery, map[string]any{
			"after":     after,
			"filter":    "inbox",
			"senderKey": nil,
			"take":      lettersPageSize,
		})
		if err != nil {
			return nil, 0, fmt.Errorf("failed to list letters: %w", err)
		}

		var envelope lettersEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			return nil, 0, fmt.Errorf("failed to decode letters listing: %w", err)
		}

		page := envelope.Contents.List
		all = append(all, page...)
		if envelope.Contents.Total > 0 {
			total = envelope.Contents.Total
		}

		if !envelope.Contents.ExistsMore || len(page) == 0 {
			if total == 0 {
				total = len(all)
			}
			return all, total, nil
		}

		var last listedLetter
		if err := json.Unmarshal(page[len(page)-1], &last); err != nil || last.Key == "" {
			return nil, 0, fmt.Errorf("letters listing page ended without a usable cursor key")
		}
		after = last.Key
		log.Printf("Letters: fetched %d of %d...", len(all), envelope.Contents.Total)
	}
}

// processLetter handles one listed letter and reports whether at least one
// content part was newly persisted.
func (f *LetterFetcher) processLetter(ctx context.Context, raw json.RawMessage) bool {
	var item listedLetter
	if err := json.Unmarshal(raw, &item); err != nil {
		log.Printf("Letters: skipping undecodable listing item: %v", err)
		return false
	}
	if item.Key == "" {
		log.Printf("Letters: listing item missing key, skipping")
		return false
	}

	meta := document.Metadata{
		Kind:         document.KindLetter,
		Date:         utils.FormatDate(item.ReceivedAt),
		Counterparty: counterpartyOr(item.Sender.Name, document.UnknownSender),
		Key:          item.Key,
		ContentType:  document.ContentTypeJSON,
	}

	if f.store.Exists(meta) {
		log.Printf("Letters: skipping %s - already fetched", item.Key)
		return false
	}

	log.Printf("Letters: processing %s", item.Key)

	detailRaw, err := f.client.GetContentDetails(ctx, item.Key)
	if err != nil {
		log.Printf("Letters: failed to fetch details for %s: %v", item.Key, err)
		return false
	}

	var details contentDetails
	if err := json.Unmarshal(detailRaw, &details); err != nil {
		log.Printf("Letters: failed to decode details for %s: %v", item.Key, err)
		return false
	}

	// The stored metadata combines the listing entry with the full detail
	// record.
	if combined, err := mergeListingAndContent(raw, detailRaw); err == nil {
		if !f.store.ReportMetadata(combined, meta) {
			log.Printf("Letters: failed to store metadata for %s", item.Key)
		}
	} else {
		log.Printf("Letters: failed to merge metadata for %s: %v", item.Key, err)
	}

	return f.processParts(ctx, meta, details) > 0
}

// processParts dispatches each declared content part by its content type.
// Unknown types are logged and skipped; a PDF fetch failure aborts the rest
// of this letter's parts but never the run.
func (f *LetterFetcher) processParts(ctx context.Context, meta document.Metadata, details contentDetails) int {
	if len(details.Parts) == 0 {
		log.Printf("Letters: %s has no parts", meta.Key)
		return 0
	}

	stored := 0
	for i, part := range details.Parts {
		partMeta := meta
		if len(details.Parts) > 1 {
			partMeta = meta.WithPart(i)
		}

		switch part.ContentType {
		case document.ContentTypeText:
			if f.store.Store([]byte(part.Body), partMeta.WithContentType(document.ContentTypeText)) {
				stored++
				log.Printf("Letters: saved text/plain for %s", meta.Key)
			}
		case document.ContentTypeHTML:
			if f.store.Store([]byte(part.Body), partMeta.WithContentType(document.ContentTypeHTML)) {
				stored++
				log.Printf("Letters: saved text/html for %s", meta.Key)
			}
		case document.ContentTypePDF:
			if part.Key == "" {
				log.Printf("Letters: PDF part in %s missing file key", meta.Key)
				continue
			}
			pdf, err := f.client.GetContentFile(ctx, meta.Key, part.Key)
			if err != nil {
				// Fatal for this letter: remaining parts are skipped,
				// already stored parts stay.
				log.Printf("Letters: failed to fetch PDF %s for %s: %v", part.Key, meta.Key, err)
				return stored
			}
			if f.store.Store(pdf, partMeta.WithContentType(document.ContentTypePDF)) {
				stored++
				log.Printf("Letters: saved PDF for %s", meta.Key)
			}
		default:
			log.Printf("Letters: unknown content type %q in %s, skipping part", part.ContentType, meta.Key)
		}
	}
	return stored
}

// mergeListingAndContent nests the detail record under a "content" field of
// the listing entry, matching the metadata shape of the stored artifact.
func mergeListingAndContent(listing, content json.RawMessage) (json.RawMessage, error) {
	var combined map[string]json.RawMessage
	if err := json.Unmarshal(listing, &combined); err != nil {
		return nil, err
	}
	combined["content"] = content
	return json.Marshal(combined)
}
