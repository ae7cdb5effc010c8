package dedupindex

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/kivra-sync/internal/document"
)

// fakeStore records calls and answers Exists from a configurable set.
type fakeStore struct {
	existing    map[string]bool
	existsCalls int
	storeCalls  int
	storeOK     bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{existing: map[string]bool{}, storeOK: true}
}

func (f *fakeStore) ReportListing(document.Kind, json.RawMessage) error { return nil }

func (f *fakeStore) Exists(meta document.Metadata) bool {
	f.existsCalls++
	return f.existing[meta.String()]
}

func (f *fakeStore) ReportMetadata(json.RawMessage, document.Metadata) bool { return true }

func (f *fakeStore) Store([]byte, document.Metadata) bool {
	f.storeCalls++
	return f.storeOK
}

func pdfMeta(key string) document.Metadata {
	return document.Metadata{
		Kind:         document.KindReceipt,
		Date:         "2024-03-01",
		Counterparty: "ICA",
		Key:          key,
		ContentType:  document.ContentTypePDF,
	}
}

func newTestStore(t *testing.T, inner *fakeStore) *Store {
	t.Helper()
	store, err := New(inner, filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	return store
}

func TestStoreRecordsFingerprint(t *testing.T) {
	inner := newFakeStore()
	store := newTestStore(t, inner)

	meta := pdfMeta("r1")
	require.True(t, store.Store([]byte("data"), meta))

	// Subsequent Exists is answered by the index without consulting the
	// wrapped store.
	assert.True(t, store.Exists(meta))
	assert.Equal(t, 0, inner.existsCalls)
}

func TestStoreFailureNotIndexed(t *testing.T) {
	inner := newFakeStore()
	inner.storeOK = false
	store := newTestStore(t, inner)

	meta := pdfMeta("r2")
	assert.False(t, store.Store([]byte("data"), meta))

	assert.False(t, store.Exists(meta))
	assert.Equal(t, 1, inner.existsCalls)
}

func TestExistsBackfillsFromWrappedStore(t *testing.T) {
	inner := newFakeStore()
	store := newTestStore(t, inner)

	meta := pdfMeta("r3")
	inner.existing[meta.String()] = true

	assert.True(t, store.Exists(meta))
	assert.Equal(t, 1, inner.existsCalls)

	// Second check is served from the index.
	assert.True(t, store.Exists(meta))
	assert.Equal(t, 1, inner.existsCalls)
}

func TestIndexSurvivesReopen(t *testing.T) {
	inner := newFakeStore()
	dbPath := filepath.Join(t.TempDir(), "index.db")

	store, err := New(inner, dbPath)
	require.NoError(t, err)
	meta := pdfMeta("r4")
	require.True(t, store.Store([]byte("data"), meta))

	reopened, err := New(newFakeStore(), dbPath)
	require.NoError(t, err)
	assert.True(t, reopened.Exists(meta))
}

func TestPartsAreDistinctFingerprints(t *testing.T) {
	inner := newFakeStore()
	store := newTestStore(t, inner)

	base := document.Metadata{
		Kind:         document.KindLetter,
		Date:         "2024-04-15",
		Counterparty: "CSN",
		Key:          "l1",
		ContentType:  document.ContentTypeText,
	}
	require.True(t, store.Store([]byte("a"), base.WithPart(0)))

	assert.True(t, store.Exists(base.WithPart(0)))
	assert.False(t, store.Exists(base.WithPart(1)))
}
