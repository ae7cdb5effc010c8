package kivra

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/kivra-sync/internal/document"
)

func listedLetters(n int) []map[string]any {
	letters := make([]map[string]any, n)
	for i := range letters {
		letters[i] = map[string]any{
			"key":        fmt.Sprintf("ltr-%d", i),
			"receivedAt": "2024-04-15T08:00:00Z",
			"sender":     map[string]any{"name": "Skatteverket"},
		}
	}
	return letters
}

// letterServer pages the catalog by cursor and serves detail records plus
// raw files. parts maps letter key to its declared content parts.
type letterServer struct {
	letters       []map[string]any
	parts         map[string][]map[string]any
	fileStatus    map[string]int // file key -> status, default 200
	listCalls     int
	cursorsSeen   []any
	detailsServed []string
}

func (s *letterServer) start(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "ContentList", req.OperationName)

		s.listCalls++
		s.cursorsSeen = append(s.cursorsSeen, req.Variables["after"])

		take := int(req.Variables["take"].(float64))
		start := 0
		if after, ok := req.Variables["after"].(string); ok && after != "" {
			for i, letter := range s.letters {
				if letter["key"] == after {
					start = i + 1
					break
				}
			}
		}
		end := start + take
		if end > len(s.letters) {
			end = len(s.letters)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"contents": map[string]any{
					"total":      len(s.letters),
					"existsMore": end < len(s.letters),
					"list":       s.letters[start:end],
				},
			},
		})
	})

	mux.HandleFunc("/v1/content/", func(w http.ResponseWriter, r *http.Request) {
		segments := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/content/"), "/")
		key := segments[0]

		// /v1/content/{key}/file/{fileKey}/raw
		if len(segments) == 4 && segments[1] == "file" && segments[3] == "raw" {
			fileKey := segments[2]
			if status, ok := s.fileStatus[fileKey]; ok && status != http.StatusOK {
				http.Error(w, "nope", status)
				return
			}
			w.Write([]byte("%PDF " + fileKey))
			return
		}

		s.detailsServed = append(s.detailsServed, key)
		json.NewEncoder(w).Encode(map[string]any{
			"key":   key,
			"parts": s.parts[key],
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func singlePDFParts(keys ...string) map[string][]map[string]any {
	parts := map[string][]map[string]any{}
	for _, key := range keys {
		parts[key] = []map[string]any{
			{"key": "file-" + key, "content_type": "application/pdf"},
		}
	}
	return parts
}

func TestLetterFetchPaginatesWithCursor(t *testing.T) {
	letters := listedLetters(250)
	keys := make([]string, len(letters))
	for i, letter := range letters {
		keys[i] = letter["key"].(string)
	}
	srv := &letterServer{letters: letters, parts: singlePDFParts(keys...)}
	server := srv.start(t)

	store := newMemoryStore()
	client := testClient(Credential{AccessToken: "tok", ActorKey: "actor-1"}, server)

	stats, err := NewLetterFetcher(client, store).Fetch(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, Stats{Total: 250, Fetched: 250, Stored: 250}, stats)
	assert.Equal(t, 3, srv.listCalls)
	// First page has no cursor; the following ones resume at the previous
	// page's last key.
	assert.Equal(t, []any{nil, "ltr-99", "ltr-199"}, srv.cursorsSeen)
}

func TestLetterFetchTruncationAfterFullListing(t *testing.T) {
	letters := listedLetters(150)
	keys := make([]string, len(letters))
	for i, letter := range letters {
		keys[i] = letter["key"].(string)
	}
	srv := &letterServer{letters: letters, parts: singlePDFParts(keys...)}
	server := srv.start(t)

	store := newMemoryStore()
	client := testClient(Credential{AccessToken: "tok", ActorKey: "actor-1"}, server)

	stats, err := NewLetterFetcher(client, store).Fetch(context.Background(), 10)
	require.NoError(t, err)

	// The catalog is listed in full; only processing is capped. Total stays
	// the server-reported count.
	assert.Equal(t, Stats{Total: 150, Fetched: 10, Stored: 10}, stats)
	assert.Equal(t, 2, srv.listCalls)
	assert.Len(t, srv.detailsServed, 10)
}

func TestLetterPartDispatch(t *testing.T) {
	letters := listedLetters(1)
	srv := &letterServer{
		letters: letters,
		parts: map[string][]map[string]any{
			"ltr-0": {
				{"content_type": "text/plain", "body": "plain body"},
				{"key": "file-a", "content_type": "application/pdf"},
				{"content_type": "text/html", "body": "<p>html body</p>"},
				{"content_type": "application/x-unknown", "body": "???"},
			},
		},
	}
	server := srv.start(t)

	store := newMemoryStore()
	client := testClient(Credential{AccessToken: "tok", ActorKey: "actor-1"}, server)

	stats, err := NewLetterFetcher(client, store).Fetch(context.Background(), 0)
	require.NoError(t, err)

	// Three parts stored, the unknown type skipped, the letter counted once.
	assert.Equal(t, Stats{Total: 1, Fetched: 1, Stored: 1}, stats)
	require.Len(t, store.stored, 3)

	types := []string{}
	for _, meta := range store.stored {
		types = append(types, meta.ContentType)
		require.NotNil(t, meta.PartIndex)
	}
	assert.Equal(t, []string{
		document.ContentTypeText,
		document.ContentTypePDF,
		document.ContentTypeHTML,
	}, types)

	// Part indexes follow the declared order, including the skipped part.
	assert.Equal(t, 0, *store.stored[0].PartIndex)
	assert.Equal(t, 1, *store.stored[1].PartIndex)
	assert.Equal(t, 2, *store.stored[2].PartIndex)
}

func TestLetterSinglePartHasNoPartIndex(t *testing.T) {
	srv := &letterServer{
		letters: listedLetters(1),
		parts: map[string][]map[string]any{
			"ltr-0": {{"content_type": "text/plain", "body": "only part"}},
		},
	}
	server := srv.start(t)

	store := newMemoryStore()
	client := testClient(Credential{AccessToken: "tok", ActorKey: "actor-1"}, server)

	_, err := NewLetterFetcher(client, store).Fetch(context.Background(), 0)
	require.NoError(t, err)

	require.Len(t, store.stored, 1)
	assert.Nil(t, store.stored[0].PartIndex)
}

func TestLetterPDFFailureAbortsRemainingParts(t *testing.T) {
	srv := &letterServer{
		letters: listedLetters(2),
		parts: map[string][]map[string]any{
			"ltr-0": {
				{"content_type": "text/plain", "body": "kept"},
				{"key": "file-broken", "content_type": "application/pdf"},
				{"content_type": "text/html", "body": "<p>never reached</p>"},
			},
			"ltr-1": {{"content_type": "text/plain", "body": "fine"}},
		},
		fileStatus: map[string]int{"file-broken": http.StatusBadGateway},
	}
	server := srv.start(t)

	store := newMemoryStore()
	client := testClient(Credential{AccessToken: "tok", ActorKey: "actor-1"}, server)

	stats, err := NewLetterFetcher(client, store).Fetch(context.Background(), 0)
	require.NoError(t, err)

	// The first letter keeps its text part and still counts as stored; the
	// HTML part after the failed PDF is never attempted. The second letter
	// is unaffected.
	assert.Equal(t, Stats{Total: 2, Fetched: 2, Stored: 2}, stats)
	require.Len(t, store.stored, 2)
	assert.Equal(t, document.ContentTypeText, store.stored[0].ContentType)
	assert.Equal(t, "ltr-0", store.stored[0].Key)
	assert.Equal(t, "ltr-1", store.stored[1].Key)
}

func TestLetterFetchSkipsExisting(t *testing.T) {
	srv := &letterServer{
		letters: listedLetters(2),
		parts:   singlePDFParts("ltr-0", "ltr-1"),
	}
	server := srv.start(t)

	store := newMemoryStore()
	store.markExisting(document.Metadata{
		Kind:         document.KindLetter,
		Date:         "2024-04-15",
		Counterparty: "Skatteverket",
		Key:          "ltr-0",
		ContentType:  document.ContentTypeJSON,
	})
	client := testClient(Credential{AccessToken: "tok", ActorKey: "actor-1"}, server)

	stats, err := NewLetterFetcher(client, store).Fetch(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, Stats{Total: 2, Fetched: 2, Stored: 1}, stats)
	assert.Equal(t, []string{"ltr-1"}, srv.detailsServed)
}

func TestLetterWithNoPartsNotCountedAsStored(t *testing.T) {
	srv := &letterServer{
		letters: listedLetters(1),
		parts:   map[string][]map[string]any{"ltr-0": {}},
	}
	server := srv.start(t)

	store := newMemoryStore()
	client := testClient(Credential{AccessToken: "tok", ActorKey: "actor-1"}, server)

	stats, err := NewLetterFetcher(client, store).Fetch(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, Stats{Total: 1, Fetched: 1, Stored: 0}, stats)
	// Metadata is still reported even when no content part lands.
	assert.Len(t, store.metadata, 1)
}

func TestMergeListingAndContent(t *testing.T) {
	merged, err := mergeListingAndContent(
		json.RawMessage(`{"key": "ltr-0", "sender": {"name": "CSN"}}`),
		json.RawMessage(`{"parts": []}`),
	)
	require.NoError(t, err)

	var result map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(merged, &result))
	assert.JSONEq(t, `{"parts": []}`, string(result["content"]))
	assert.JSONEq(t, `"ltr-0"`, string(result["key"]))
}
