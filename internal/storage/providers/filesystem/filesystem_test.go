package filesystem

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/kivra-sync/internal/document"
)

func receiptMeta() document.Metadata {
	return document.Metadata{
		Kind:         document.KindReceipt,
		Date:         "2024-03-01",
		Counterparty: "ICA Maxi",
		Key:          "receipt-abc",
	}
}

func letterMeta() document.Metadata {
	return document.Metadata{
		Kind:         document.KindLetter,
		Date:         "2024-04-15",
		Counterparty: "Skatteverket",
		Key:          "letter-xyz",
	}
}

func TestNewCreatesDirectorySkeleton(t *testing.T) {
	baseDir := t.TempDir()

	_, err := New(baseDir)
	require.NoError(t, err)

	for _, dir := range []string{
		filepath.Join(baseDir, "Receipts", "json"),
		filepath.Join(baseDir, "Letters", "json"),
	} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestStorePDFAndExists(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	meta := receiptMeta().WithContentType(document.ContentTypePDF)
	assert.False(t, store.Exists(meta))

	ok := store.Store([]byte("%PDF-1.4 fake"), meta)
	require.True(t, ok)

	assert.True(t, store.Exists(meta))
	path := filepath.Join(store.receiptsDir, "ICA_Maxi", "2024-03-01_ICA_Maxi_receipt-abc.pdf")
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 fake", string(content))
}

func TestStoreTextPart(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	part := 2
	meta := letterMeta().WithContentType(document.ContentTypeText)
	meta.PartIndex = &part

	require.True(t, store.Store([]byte("hello"), meta))

	path := filepath.Join(store.lettersDir, "Skatteverket", "2024-04-15_Skatteverket_letter-xyz_part2.txt")
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}

func TestStoreHTMLVerbatimWithoutConverter(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	meta := letterMeta().WithContentType(document.ContentTypeHTML)
	require.True(t, store.Store([]byte("<p>hi</p>"), meta))

	path := filepath.Join(store.lettersDir, "Skatteverket", "2024-04-15_Skatteverket_letter-xyz_html.html")
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "<p>hi</p>", string(content))
	assert.True(t, store.Exists(meta))
}

func TestStoreHTMLWithConverter(t *testing.T) {
	converter := func(htmlContent string) ([]byte, error) {
		return []byte("converted:" + htmlContent), nil
	}
	store, err := New(t.TempDir(), WithConverter(converter))
	require.NoError(t, err)

	meta := letterMeta().WithContentType(document.ContentTypeHTML)
	require.True(t, store.Store([]byte("<p>hi</p>"), meta))

	path := filepath.Join(store.lettersDir, "Skatteverket", "2024-04-15_Skatteverket_letter-xyz_html.pdf")
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "converted:<p>hi</p>", string(content))
}

func TestStoreHTMLConversionFailureKeepsSourceButReportsNotStored(t *testing.T) {
	converter := func(string) ([]byte, error) {
		return nil, errors.New("converter unavailable")
	}
	store, err := New(t.TempDir(), WithConverter(converter))
	require.NoError(t, err)

	meta := letterMeta().WithContentType(document.ContentTypeHTML)
	assert.False(t, store.Store([]byte("<p>hi</p>"), meta))

	// The source is kept for inspection, but the target path stays absent
	// so the part is retried on the next run.
	source := filepath.Join(store.lettersDir, "Skatteverket", "2024-04-15_Skatteverket_letter-xyz_html.html")
	_, err = os.Stat(source)
	assert.NoError(t, err)
	assert.False(t, store.Exists(meta))
}

func TestReportMetadataWritesJSONMirror(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	raw := json.RawMessage(`{"key":"receipt-abc","totalAmount":{"value":100}}`)
	meta := receiptMeta().WithContentType(document.ContentTypeJSON)
	require.True(t, store.ReportMetadata(raw, meta))

	path := filepath.Join(store.receiptsJSONDir, "ICA_Maxi", "2024-03-01_ICA_Maxi_receipt-abc.json")
	content, err := os.ReadFile(path)
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(content, &parsed))
	assert.Equal(t, "receipt-abc", parsed["key"])
	assert.True(t, store.Exists(meta))
}

func TestReportListingSnapshots(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.ReportListing(document.KindReceipt, json.RawMessage(`{"total":3}`)))
	require.NoError(t, store.ReportListing(document.KindLetter, json.RawMessage(`{"total":5}`)))

	for _, path := range []string{
		filepath.Join(store.receiptsJSONDir, "receipts.json"),
		filepath.Join(store.lettersJSONDir, "letters.json"),
	} {
		_, err := os.Stat(path)
		assert.NoError(t, err)
	}

	assert.Error(t, store.ReportListing(document.Kind("invoice"), json.RawMessage(`{}`)))
}

func TestDryRunTouchesNothing(t *testing.T) {
	baseDir := t.TempDir()
	store, err := New(baseDir, WithDryRun(true))
	require.NoError(t, err)

	meta := receiptMeta().WithContentType(document.ContentTypePDF)
	assert.True(t, store.Store([]byte("data"), meta))
	assert.True(t, store.ReportMetadata(json.RawMessage(`{}`), receiptMeta().WithContentType(document.ContentTypeJSON)))
	require.NoError(t, store.ReportListing(document.KindReceipt, json.RawMessage(`[]`)))

	assert.False(t, store.Exists(meta))
	entries, err := os.ReadDir(filepath.Join(baseDir, "Receipts", "json"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUnknownContentTypeNotStored(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	meta := receiptMeta().WithContentType("application/x-unknown")
	assert.False(t, store.Store([]byte("data"), meta))
	assert.False(t, store.Exists(meta))
}
