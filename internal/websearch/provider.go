// Package websearch augments internal knowledge with results from public
// search engines and the pages they link to.
package websearch

import (
	"context"
	"fmt"
	"log/slog"
)

// Result is one ranked hit from a search provider.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Provider runs a single search query.
type Provider interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// Searcher runs the enhanced open query followed by one site-restricted
// query per standards site, dropping results whose link was already seen.
// Provider failures are logged and skipped.
type Searcher struct {
	provider Provider
	sites    []string
}

// NewSearcher creates a Searcher. A nil sites slice disables site queries.
func NewSearcher(p Provider, sites []string) *Searcher {
	return &Searcher{provider: p, sites: sites}
}

func (s *Searcher) Search(ctx context.Context, query string) []Result {
	var results []Result
	seen := make(map[string]bool)

	add := func(rs []Result) {
		for _, r := range rs {
			if seen[r.Link] {
				continue
			}
			seen[r.Link] = true
			results = append(results, r)
		}
	}

	open, err := s.provider.Search(ctx, EnhanceQuery(query))
	if err != nil {
		slog.Warn("web search failed", "query", query, "error", err)
	}
	add(open)

	for _, site := range s.sites {
		if ctx.Err() != nil {
			break
		}
		rs, err := s.provider.Search(ctx, query+" site:"+site)
		if err != nil {
			slog.Warn("site search failed", "site", site, "error", err)
			continue
		}
		add(rs)
	}
	return results
}

// NewProvider selects a provider by name. "auto" uses Google when both
// credentials are present and DuckDuckGo otherwise.
func NewProvider(name, googleKey, engineID string) (Provider, error) {
	switch name {
	case "google":
		return NewGoogle(googleKey, engineID), nil
	case "duckduckgo":
		return NewDuckDuckGo(), nil
	case "", "auto":
		if googleKey != "" && engineID != "" {
			return NewGoogle(googleKey, engineID), nil
		}
		return NewDuckDuckGo(), nil
	}
	return nil, fmt.Errorf("unknown search provider %q", name)
}
