package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPClient calls the moderation decide endpoint over HTTP. The zero value
// is not usable; set BaseURL at minimum.
type HTTPClient struct {
	// BaseURL is the API root, e.g. "https://api.example.com".
	BaseURL string
	// AnonSubjectID is the caller's client-generated anonymous id, if any.
	AnonSubjectID string
	// SessionToken is the bearer session token, if the caller is signed in.
	SessionToken string
	// Client is the underlying HTTP client; http.DefaultClient when nil.
	Client *http.Client
}

// Decide posts the caller's identity to the decide endpoint.
func (c *HTTPClient) Decide(ctx context.Context) (Decision, error) {
	payload, err := json.Marshal(map[string]string{
		"anonSubjectId": c.AnonSubjectID,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("encode decide request: %w", err)
	}

	url := strings.TrimRight(c.BaseURL, "/") + "/api/moderation/decide"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Decision{}, fmt.Errorf("build decide request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.SessionToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.SessionToken)
	}

	httpClient := c.Client
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return Decision{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Decision{}, fmt.Errorf("decide returned status %d", resp.StatusCode)
	}

	var decision Decision
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return Decision{}, fmt.Errorf("decode decide response: %w", err)
	}
	return decision, nil
}

var _ Client = (*HTTPClient)(nil)

const defaultTimeout = 10 * time.Second

// NewHTTPClient builds an HTTPClient with a default request timeout.
func NewHTTPClient(baseURL, anonSubjectID, sessionToken string) *HTTPClient {
	return &HTTPClient{
		BaseURL:       baseURL,
		AnonSubjectID: anonSubjectID,
		SessionToken:  sessionToken,
		Client:        &http.Client{Timeout: defaultTimeout},
	}
}
