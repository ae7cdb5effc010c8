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

// The receipts listing is a single bounded call; Kivra caps accounts well
// below this.
const receiptsListLimit = 20000

// ReceiptFetcher walks the receipt catalog and persists missing receipts
// through the document store.
type ReceiptFetcher struct {
	client *Client
	store  storage.DocumentStore
}

// NewReceiptFetcher creates a receipt fetcher bound to an API client and a
// document store.
func NewReceiptFetcher(client *Client, store storage.DocumentStore) *ReceiptFetcher {
	return &ReceiptFetcher{client: client, store: store}
}

// receiptsEnvelope keeps the receiptsV2 payload raw so the listing snapshot
// retains every field the server sent, not just the ones walked here.
type receiptsEnvelope struct {
	ReceiptsV2 json.RawMessage `json:"receiptsV2"`
}

type receiptsListing struct {
	Total int               `json:"total"`
	List  []json.RawMessage `json:"list"`
}

type listedReceipt struct {
	Key          string `json:"key"`
	PurchaseDate string `json:"purchaseDate"`
	Store        struct {
		Name string `json:"name"`
	} `json:"store"`
}

type receiptDetailEnvelope struct {
	ReceiptV2 json.RawMessage `json:"receiptV2"`
}

// Fetch lists the receipt catalog, skips receipts the store already holds
// and persists metadata plus PDF for the rest. maxCount <= 0 fetches
// everything. Items are processed strictly in listing order.
func (f *ReceiptFetcher) Fetch(ctx context.Context, maxCount int) (Stats, error) {
	log.Printf("Receipts: fetching listing")

	data, err := f.client.Query(ctx, "Receipts", receiptsQuery, map[string]any{
		"limit":  receiptsListLimit,
		"offset": 0,
		"search": nil,
	})
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list receipts: %w", err)
	}

	var envelope receiptsEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Stats{}, fmt.Errorf("failed to decode receipts listing: %w", err)
	}
	var parsed receiptsListing
	if err := json.Unmarshal(envelope.ReceiptsV2, &parsed); err != nil {
		return Stats{}, fmt.Errorf("failed to decode receipts listing: %w", err)
	}

	listing := parsed.List
	stats := Stats{Total: parsed.Total}
	log.Printf("Receipts: found %d receipts", stats.Total)

	// Listing snapshot is an auxiliary artifact; losing it must not abort
	// the run.
	if err := f.store.ReportListing(document.KindReceipt, envelope.ReceiptsV2); err != nil {
		log.Printf("Receipts: failed to report listing: %v", err)
	}

	listing = truncate(listing, maxCount)
	stats.Fetched = len(listing)

	for _, raw := range listing {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if f.processReceipt(ctx, raw) {
			stats.Stored++
		}
	}

	log.Printf("Receipts: done (%d fetched, %d newly stored)", stats.Fetched, stats.Stored)
	return stats, nil
}

// processReceipt handles one listed receipt and reports whether its PDF was
// newly persisted. Failures are fatal to the item only: already persisted
// parts stay put and the run continues with the next receipt.
func (f *ReceiptFetcher) processReceipt(ctx context.Context, raw json.RawMessage) bool {
	var item listedReceipt
	if err := json.Unmarshal(raw, &item); err != nil {
		log.Printf("Receipts: skipping undecodable listing item: %v", err)
		return false
	}
	if item.Key == "" {
		log.Printf("Receipts: listing item missing key, skipping")
		return false
	}

	meta := document.Metadata{
		Kind:         document.KindReceipt,
		Date:         utils.FormatDate(item.PurchaseDate),
		Counterparty: counterpartyOr(item.Store.Name, document.UnknownStore),
		Key:          item.Key,
		ContentType:  document.ContentTypeJSON,
	}

	// The idempotency gate: existence is decided once per item on the JSON
	// metadata fingerprint, never per content part.
	if f.store.Exists(meta) {
		log.Printf("Receipts: skipping %s - already fetched", item.Key)
		return false
	}

	log.Printf("Receipts: processing %s", item.Key)

	detail, err := f.client.Query(ctx, "ReceiptDetails", receiptDetailsQuery, map[string]any{"key": item.Key})
	if err != nil {
		log.Printf("Receipts: failed to fetch details for %s: %v", item.Key, err)
		return false
	}

	var detailEnvelope receiptDetailEnvelope
	if err := json.Unmarshal(detail, &detailEnvelope); err != nil {
		log.Printf("Receipts: failed to decode details for %s: %v", item.Key, err)
		return false
	}

	// Metadata persistence failure is logged but does not stop the PDF part.
	if !f.store.ReportMetadata(detailEnvelope.ReceiptV2, meta) {
		log.Printf("Receipts: failed to store metadata for %s", item.Key)
	}

	pdf, err := f.client.GetPDF(ctx, f.client.UserReceiptURL(item.Key))
	if err != nil {
		log.Printf("Receipts: failed to fetch PDF for %s: %v", item.Key, err)
		return false
	}

	if !f.store.Store(pdf, meta.WithContentType(document.ContentTypePDF)) {
		return false
	}
	log.Printf("Receipts: saved PDF for %s", item.Key)
	return true
}

func counterpartyOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
