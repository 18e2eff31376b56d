package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultGoogleURL = "https://www.googleapis.com/customsearch/v1"
	googleMaxResults = 5
	searchTimeout    = 10 * time.Second
)

// ErrNotConfigured is returned by providers missing credentials.
var ErrNotConfigured = errors.New("search provider not configured")

// Google queries the Custom Search JSON API.
type Google struct {
	apiKey     string
	engineID   string
	baseURL    string
	httpClient *http.Client
}

func NewGoogle(apiKey, engineID string) *Google {
	return NewGoogleWithBaseURL(apiKey, engineID, defaultGoogleURL)
}

// NewGoogleWithBaseURL creates a client against a custom endpoint (used in tests).
func NewGoogleWithBaseURL(apiKey, engineID, baseURL string) *Google {
	return &Google{
		apiKey:     apiKey,
		engineID:   engineID,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: searchTimeout},
	}
}

type googleResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

// Search returns at most the first five results.
func (g *Google) Search(ctx context.Context, query string) ([]Result, error) {
	if g.apiKey == "" || g.engineID == "" {
		return nil, ErrNotConfigured
	}

	params := url.Values{}
	params.Set("key", g.apiKey)
	params.Set("cx", g.engineID)
	params.Set("q", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("search API returned %d: %s", resp.StatusCode, body)
	}

	var parsed googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	items := parsed.Items
	if len(items) > googleMaxResults {
		items = items[:googleMaxResults]
	}
	results := make([]Result, 0, len(items))
	for _, it := range items {
		results = append(results, Result{Title: it.Title, Link: it.Link, Snippet: it.Snippet})
	}
	return results, nil
}
