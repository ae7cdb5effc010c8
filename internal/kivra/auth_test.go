package kivra

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/kivra-sync/internal/interaction"
)

// eventLog records the interleaving of provider callbacks and server hits.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type loggingProvider struct {
	log *eventLog
}

func (p *loggingProvider) DisplayCode(imagePath string)             { p.log.add("display_code") }
func (p *loggingProvider) ReportAuthenticationSuccess()             { p.log.add("auth_success") }
func (p *loggingProvider) ReportCompletion(stats interaction.Stats) { p.log.add("completion") }

func testIDToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	return "e30." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

// authServer simulates the OAuth2 endpoints: authorize, session polling and
// token exchange. pollStatuses is consumed one status per poll.
func authServer(t *testing.T, log *eventLog, pollStatuses []string, idToken string) *httptest.Server {
	t.Helper()
	polls := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/oauth2/authorize", func(w http.ResponseWriter, r *http.Request) {
		log.add("authorize")
		assert.Equal(t, http.MethodPost, r.Method)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "bankid_all", payload["response_type"])
		assert.Equal(t, "S256", payload["code_challenge_method"])
		assert.NotEmpty(t, payload["code_challenge"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{
			"qr_code":       "bankid.267v2.1.deadbeef",
			"next_poll_url": "/v2/oauth2/session",
			"code":          "auth-code-1",
		})
	})
	mux.HandleFunc("/v2/oauth2/session", func(w http.ResponseWriter, r *http.Request) {
		log.add("poll")
		status := pollStatuses[len(pollStatuses)-1]
		if polls < len(pollStatuses) {
			status = pollStatuses[polls]
		}
		polls++
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	})
	mux.HandleFunc("/v2/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		log.add("token")

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "authorization_code", payload["grant_type"])
		assert.Equal(t, "auth-code-1", payload["code"])
		assert.NotEmpty(t, payload["code_verifier"])

		json.NewEncoder(w).Encode(map[string]string{
			"access_token": "access-token-1",
			"id_token":     idToken,
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestAuthenticator(t *testing.T, server *httptest.Server, provider interaction.Provider, maxPolls int) *Authenticator {
	t.Helper()
	a := NewAuthenticator(t.TempDir(), provider, AuthOptions{
		PollInterval:    time.Millisecond,
		MaxPollAttempts: maxPolls,
	})
	a.apiBaseURL = server.URL
	return a
}

func TestAuthenticateFullFlow(t *testing.T) {
	log := &eventLog{}
	idToken := testIDToken(t, map[string]any{"kivra_user_id": "user-key-1"})
	server := authServer(t, log, []string{"pending", "pending", "complete"}, idToken)

	a := newTestAuthenticator(t, server, &loggingProvider{log: log}, 0)

	cred, err := a.Authenticate(context.Background(), "199001011234")
	require.NoError(t, err)
	assert.Equal(t, "access-token-1", cred.AccessToken)
	assert.Equal(t, "user-key-1", cred.ActorKey)

	events := log.all()
	assert.Equal(t, []string{
		"authorize", "display_code",
		"poll", "poll", "poll",
		"auth_success", "token",
	}, events)
}

func TestAuthenticateFatalPollStatus(t *testing.T) {
	log := &eventLog{}
	idToken := testIDToken(t, map[string]any{"kivra_user_id": "user-key-1"})
	server := authServer(t, log, []string{"pending", "cancelled"}, idToken)

	a := newTestAuthenticator(t, server, &loggingProvider{log: log}, 0)

	_, err := a.Authenticate(context.Background(), "199001011234")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuthenticationFailed))
	assert.NotContains(t, log.all(), "token")
	assert.NotContains(t, log.all(), "auth_success")
}

func TestAuthenticateGivesUpAfterMaxPolls(t *testing.T) {
	log := &eventLog{}
	idToken := testIDToken(t, map[string]any{"kivra_user_id": "user-key-1"})
	server := authServer(t, log, []string{"pending"}, idToken)

	a := newTestAuthenticator(t, server, &loggingProvider{log: log}, 3)

	_, err := a.Authenticate(context.Background(), "199001011234")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuthenticationFailed))

	polls := 0
	for _, event := range log.all() {
		if event == "poll" {
			polls++
		}
	}
	assert.Equal(t, 3, polls)
}

func TestAuthenticateRejectsAuthorizeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "invalid_client"}`, http.StatusBadRequest)
	}))
	t.Cleanup(server.Close)

	a := newTestAuthenticator(t, server, &loggingProvider{log: &eventLog{}}, 0)

	_, err := a.Authenticate(context.Background(), "199001011234")
	require.Error(t, err)

	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, http.StatusBadRequest, reqErr.StatusCode)
}

func TestAuthenticateRejectsIncompleteAuthorizeResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"qr_code": "bankid.267v2.1.deadbeef"}`)
	}))
	t.Cleanup(server.Close)

	a := newTestAuthenticator(t, server, &loggingProvider{log: &eventLog{}}, 0)

	_, err := a.Authenticate(context.Background(), "199001011234")
	assert.True(t, errors.Is(err, ErrAuthenticationFailed))
}

func TestAuthenticateCancelledContext(t *testing.T) {
	log := &eventLog{}
	idToken := testIDToken(t, map[string]any{"kivra_user_id": "user-key-1"})
	server := authServer(t, log, []string{"pending"}, idToken)

	a := newTestAuthenticator(t, server, &loggingProvider{log: log}, 0)
	a.opts.PollInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := a.Authenticate(ctx, "199001011234")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestActorKeyFromIDToken(t *testing.T) {
	token := "e30." + base64.RawURLEncoding.EncodeToString([]byte(`{"kivra_user_id":"abc123"}`)) + ".sig"
	key, err := actorKeyFromIDToken(token)
	require.NoError(t, err)
	assert.Equal(t, "abc123", key)

	_, err = actorKeyFromIDToken("just-one-segment")
	assert.True(t, errors.Is(err, ErrMalformedToken))

	missing := "e30." + base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"x"}`)) + ".sig"
	_, err = actorKeyFromIDToken(missing)
	assert.True(t, errors.Is(err, ErrMalformedToken))

	_, err = actorKeyFromIDToken("e30.!!!notbase64!!!.sig")
	assert.True(t, errors.Is(err, ErrMalformedToken))
}

func TestDecodeJWTSegmentRestoresPadding(t *testing.T) {
	// Lengths 1..4 exercise every padding remainder.
	for _, input := range []string{"a", "ab", "abc", "abcd", "hello world!"} {
		segment := base64.RawURLEncoding.EncodeToString([]byte(input))
		decoded, err := decodeJWTSegment(segment)
		require.NoError(t, err)
		assert.Equal(t, input, string(decoded))
	}
}

func TestGenerateCodeChallenge(t *testing.T) {
	// SHA-256("test"), base64url without padding.
	assert.Equal(t, "n4bQgYhMfWWaL-qgxVrQFaO_TxsrC4Is0V1sFbDwCgg", generateCodeChallenge("test"))
}

func TestGenerateCodeVerifierIsRandom(t *testing.T) {
	first, err := generateCodeVerifier()
	require.NoError(t, err)
	second, err := generateCodeVerifier()
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	// 32 random bytes encode to 43 unpadded base64url characters.
	assert.Len(t, first, 43)
}
