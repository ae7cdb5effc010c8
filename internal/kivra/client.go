package kivra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultGraphQLURL = "https://bff.kivra.com/graphql"
	defaultAPIBaseURL = "https://app.api.kivra.com"
	defaultWebOrigin  = "https://inbox.kivra.com"

	defaultTimeout = 30 * time.Second

	browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36"
)

// Credential is the outcome of a successful authentication run. It is never
// persisted and parameterizes every API call for the run's lifetime.
type Credential struct {
	AccessToken string
	ActorKey    string
}

// Client is a stateless per-credential wrapper around the Kivra content API.
// It carries no retry logic: every failure propagates to the caller as a
// *RequestError (or *GraphQLError) and the pipeline decides what is fatal.
type Client struct {
	cred       Credential
	httpClient *http.Client

	graphqlURL string
	apiBaseURL string
}

// NewClient creates an API client bound to the given credential.
func NewClient(cred Credential) *Client {
	return &Client{
		cred: cred,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		graphqlURL: defaultGraphQLURL,
		apiBaseURL: defaultAPIBaseURL,
	}
}

// headers returns the bearer token and actor identity header pair the
// GraphQL endpoint requires on every call.
func (c *Client) headers() map[string]string {
	return map[string]string{
		"Content-Type":        "application/json",
		"Accept":              "application/json",
		"Origin":              defaultWebOrigin,
		"Referer":             defaultWebOrigin + "/",
		"Authorization":       "Bearer " + c.cred.AccessToken,
		"X-Actor-Key":         c.cred.ActorKey,
		"X-Actor-Type":        "user",
		"X-Session-Actor":     "user_" + c.cred.ActorKey,
		"X-Kivra-Environment": "production",
		"User-Agent":          browserUserAgent,
		"Accept-Language":     "sv",
		"Cache-Control":       "no-cache",
		"Pragma":              "no-cache",
	}
}

type graphqlRequest struct {
	OperationName string         `json:"operationName"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Query executes a GraphQL operation and returns the raw data payload.
func (c *Client) Query(ctx context.Context, operationName, query string, variables map[string]any) (json.RawMessage, error) {
	payload, err := json.Marshal(graphqlRequest{
		OperationName: operationName,
		Query:         query,
		Variables:     variables,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range c.headers() {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graphql request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &RequestError{StatusCode: resp.StatusCode, URL: c.graphqlURL, Body: string(body)}
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, fmt.Errorf("failed to decode graphql response: %w", err)
	}

	if len(gqlResp.Errors) > 0 {
		messages := make([]string, 0, len(gqlResp.Errors))
		for _, e := range gqlResp.Errors {
			messages = append(messages, e.Message)
		}
		return nil, &GraphQLError{Operation: operationName, Messages: messages}
	}

	return gqlResp.Data, nil
}

// GetPDF downloads a PDF document from an absolute URL.
func (c *Client) GetPDF(ctx context.Context, url string) ([]byte, error) {
	return c.getRaw(ctx, url, "application/pdf")
}

// GetContentDetails fetches the detail record for a letter by content key.
func (c *Client) GetContentDetails(ctx context.Context, contentKey string) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/v1/content/%s", c.apiBaseURL, contentKey)
	return c.getRaw(ctx, url, "application/json")
}

// GetContentFile downloads one raw file belonging to a letter.
func (c *Client) GetContentFile(ctx context.Context, contentKey, fileKey string) ([]byte, error) {
	url := fmt.Sprintf("%s/v1/content/%s/file/%s/raw", c.apiBaseURL, contentKey, fileKey)
	return c.getRaw(ctx, url, "")
}

// UserReceiptURL builds the per-account PDF endpoint for a receipt.
func (c *Client) UserReceiptURL(receiptKey string) string {
	return fmt.Sprintf("%s/v1/user/%s/receipts/%s", c.apiBaseURL, c.cred.ActorKey, receiptKey)
}

// getRaw performs an authenticated REST GET. The content API uses the
// legacy "token" authorization scheme, not "Bearer".
func (c *Client) getRaw(ctx context.Context, url, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "token "+c.cred.AccessToken)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &RequestError{StatusCode: resp.StatusCode, URL: url, Body: string(body)}
	}

	return body, nil
}
