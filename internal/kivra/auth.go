package kivra

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mrlokans/kivra-sync/internal/interaction"
	"github.com/mrlokans/kivra-sync/internal/qr"
)

const (
	// Client identifier of the Kivra web inbox. The authorize and token
	// endpoints only accept requests on behalf of a known client.
	DefaultClientID = "14085255171411300228f14dceae786da5a00285fe"

	defaultRedirectURI  = "https://inbox.kivra.com/auth/kivra/return"
	defaultPollInterval = 5 * time.Second
)

// AuthOptions tune the authenticator. The zero value gives source-faithful
// behavior: 5 second poll interval, unlimited poll attempts.
type AuthOptions struct {
	ClientID     string
	PollInterval time.Duration
	// MaxPollAttempts bounds the completion-polling loop. 0 polls forever.
	MaxPollAttempts int
}

// Authenticator drives the BankID PKCE flow against the Kivra OAuth2
// endpoints. Every fatal condition aborts the run; there is no retry at this
// layer (re-running is an outer-loop concern).
type Authenticator struct {
	tempDir    string
	provider   interaction.Provider
	httpClient *http.Client
	opts       AuthOptions

	apiBaseURL string
}

// NewAuthenticator creates an authenticator that renders QR codes into
// tempDir and relays them through the given interaction provider.
func NewAuthenticator(tempDir string, provider interaction.Provider, opts AuthOptions) *Authenticator {
	if opts.ClientID == "" {
		opts.ClientID = DefaultClientID
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &Authenticator{
		tempDir:  tempDir,
		provider: provider,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		opts:       opts,
		apiBaseURL: defaultAPIBaseURL,
	}
}

type authorizeResponse struct {
	QRCode      string `json:"qr_code"`
	NextPollURL string `json:"next_poll_url"`
	Code        string `json:"code"`
}

type pollResponse struct {
	Status string `json:"status"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
}

// Authenticate runs the full flow: PKCE challenge, authorize request, QR
// display, completion polling and token exchange. On success it returns the
// credential for this run; on any failure no partial credential surfaces.
func (a *Authenticator) Authenticate(ctx context.Context, ssn string) (Credential, error) {
	verifier, err := generateCodeVerifier()
	if err != nil {
		return Credential{}, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	challenge := generateCodeChallenge(verifier)

	authData, err := a.authorize(ctx, challenge)
	if err != nil {
		return Credential{}, err
	}

	if authData.QRCode == "" || authData.NextPollURL == "" || authData.Code == "" {
		return Credential{}, fmt.Errorf("%w: authorize response missing QR code, poll URL or auth code", ErrAuthenticationFailed)
	}

	// QR display is fire-and-forget: a provider that cannot show the code
	// must not abort authentication.
	qrPath, err := qr.WritePNG(authData.QRCode, a.tempDir)
	if err != nil {
		log.Printf("Auth: could not render QR code: %v", err)
	} else {
		defer qr.Remove(qrPath)
		a.provider.DisplayCode(qrPath)
	}
	log.Printf("Auth: waiting for BankID authentication (ssn %s...)", truncateSSN(ssn))

	if err := a.pollUntilComplete(ctx, authData.NextPollURL); err != nil {
		return Credential{}, err
	}

	// Success signal goes out before the token exchange so the user sees it
	// before the sync workload starts.
	a.provider.ReportAuthenticationSuccess()

	return a.exchangeToken(ctx, authData.Code, verifier)
}

// authorize submits the authorization initialization request. Only 201 and
// 202 are accepted; anything else means the remote rejected the request
// itself and retrying is pointless.
func (a *Authenticator) authorize(ctx context.Context, challenge string) (*authorizeResponse, error) {
	payload, err := json.Marshal(map[string]any{
		"response_type":         "bankid_all",
		"code_challenge":        challenge,
		"code_challenge_method": "S256",
		"scope":                 "openid profile",
		"client_id":             a.opts.ClientID,
		"redirect_uri":          defaultRedirectURI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode authorize request: %w", err)
	}

	url := a.apiBaseURL + "/v2/oauth2/authorize"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create authorize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("authorize request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read authorize response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return nil, &RequestError{StatusCode: resp.StatusCode, URL: url, Body: string(body)}
	}

	var authData authorizeResponse
	if err := json.Unmarshal(body, &authData); err != nil {
		return nil, fmt.Errorf("failed to decode authorize response: %w", err)
	}
	return &authData, nil
}

// pollUntilComplete polls the session status until it turns complete. A
// pending status keeps the loop going; any other status is terminal.
func (a *Authenticator) pollUntilComplete(ctx context.Context, pollPath string) error {
	pollURL := a.apiBaseURL + pollPath

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.opts.PollInterval):
		}

		status, err := a.pollOnce(ctx, pollURL)
		if err != nil {
			return err
		}

		switch status {
		case "complete":
			log.Printf("Auth: BankID authentication complete")
			return nil
		case "pending":
			// keep waiting for the user to scan
		default:
			return fmt.Errorf("%w: poll status %q", ErrAuthenticationFailed, status)
		}

		if a.opts.MaxPollAttempts > 0 && attempt >= a.opts.MaxPollAttempts {
			return fmt.Errorf("%w: gave up after %d poll attempts", ErrAuthenticationFailed, attempt)
		}
	}
}

func (a *Authenticator) pollOnce(ctx context.Context, pollURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create poll request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("poll request failed: %w", err)
	}
	defer resp.Body.Close()

	var poll pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&poll); err != nil {
		return "", fmt.Errorf("failed to decode poll response: %w", err)
	}
	return poll.Status, nil
}

// exchangeToken trades the authorization code plus verifier for tokens and
// extracts the actor key from the identity token.
func (a *Authenticator) exchangeToken(ctx context.Context, code, verifier string) (Credential, error) {
	payload, err := json.Marshal(map[string]any{
		"grant_type":    "authorization_code",
		"code":          code,
		"client_id":     a.opts.ClientID,
		"redirect_uri":  defaultRedirectURI,
		"code_verifier": verifier,
	})
	if err != nil {
		return Credential{}, fmt.Errorf("failed to encode token request: %w", err)
	}

	url := a.apiBaseURL + "/v2/oauth2/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Credential{}, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Credential{}, &RequestError{StatusCode: resp.StatusCode, URL: url, Body: string(body)}
	}

	var tokens tokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		return Credential{}, fmt.Errorf("failed to parse token response: %w", err)
	}

	actorKey, err := actorKeyFromIDToken(tokens.IDToken)
	if err != nil {
		return Credential{}, err
	}

	return Credential{AccessToken: tokens.AccessToken, ActorKey: actorKey}, nil
}

// actorKeyFromIDToken pulls the kivra_user_id claim out of the identity
// token's payload segment.
func actorKeyFromIDToken(idToken string) (string, error) {
	parts := strings.Split(idToken, ".")
	if len(parts) < 2 {
		return "", fmt.Errorf("%w: expected at least 2 segments, got %d", ErrMalformedToken, len(parts))
	}

	payload, err := decodeJWTSegment(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	var claims struct {
		KivraUserID string `json:"kivra_user_id"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", fmt.Errorf("%w: payload is not JSON: %v", ErrMalformedToken, err)
	}
	if claims.KivraUserID == "" {
		return "", fmt.Errorf("%w: kivra_user_id claim missing", ErrMalformedToken)
	}
	return claims.KivraUserID, nil
}

// decodeJWTSegment base64url-decodes one token segment, restoring the "="
// padding JWTs strip.
func decodeJWTSegment(segment string) ([]byte, error) {
	if rem := len(segment) % 4; rem != 0 {
		segment += strings.Repeat("=", 4-rem)
	}
	return base64.URLEncoding.DecodeString(segment)
}

// generateCodeVerifier creates a random code verifier for PKCE.
func generateCodeVerifier() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// generateCodeChallenge derives the S256 challenge from the verifier.
func generateCodeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// truncateSSN keeps logs free of full identity numbers.
func truncateSSN(ssn string) string {
	if len(ssn) <= 8 {
		return ssn
	}
	return ssn[:8]
}
