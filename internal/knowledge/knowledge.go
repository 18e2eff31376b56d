// Package knowledge turns collaborator output (index chunks, web results,
// scraped pages and document analyses) into excerpts and natural-language
// summaries the prompt composer can embed.
package knowledge

import (
	"github.com/kalambet/alloyist/internal/retrieval"
	"github.com/kalambet/alloyist/internal/websearch"
)

// Origin records where an excerpt came from.
type Origin string

const (
	OriginIndex    Origin = "internal-index"
	OriginWeb      Origin = "web"
	OriginScraped  Origin = "scraped-page"
	OriginDocument Origin = "uploaded-document"
)

// Excerpt is a retrieved or extracted passage with its provenance.
type Excerpt struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Source string `json:"source"`
	Origin Origin `json:"origin"`
}

// FromIndex converts search index chunks, keeping their rank order.
func FromIndex(chunks []retrieval.ContextChunk) []Excerpt {
	out := make([]Excerpt, 0, len(chunks))
	for _, c := range chunks {
		title := c.Title
		if title == "" {
			title = c.SourceID
		}
		out = append(out, Excerpt{Title: title, Body: c.Text, Source: c.SourceID, Origin: OriginIndex})
	}
	return out
}

// FromWeb converts web search results, keeping the provider's order.
func FromWeb(results []websearch.Result) []Excerpt {
	out := make([]Excerpt, 0, len(results))
	for _, r := range results {
		out = append(out, Excerpt{Title: r.Title, Body: r.Snippet, Source: r.Link, Origin: OriginWeb})
	}
	return out
}

// FromPages converts scraped pages in the order they were fetched.
func FromPages(pages []websearch.Page) []Excerpt {
	out := make([]Excerpt, 0, len(pages))
	for _, p := range pages {
		out = append(out, Excerpt{Title: p.Title, Body: p.Content, Source: p.Link, Origin: OriginScraped})
	}
	return out
}

// FromDocument converts a document analysis into a single excerpt. It returns
// nil when there is no analysis or no extracted text.
func FromDocument(a *DocumentAnalysis) []Excerpt {
	if a == nil || a.Text == "" {
		return nil
	}
	title := a.Name
	if title == "" {
		title = a.StorageKey
	}
	return []Excerpt{{Title: title, Body: a.Text, Source: a.StorageKey, Origin: OriginDocument}}
}

// Filter returns the excerpts with the given origin, in their original order.
func Filter(excerpts []Excerpt, origin Origin) []Excerpt {
	var out []Excerpt
	for _, e := range excerpts {
		if e.Origin == origin {
			out = append(out, e)
		}
	}
	return out
}

// Bodies returns the excerpt bodies in order.
func Bodies(excerpts []Excerpt) []string {
	out := make([]string, len(excerpts))
	for i, e := range excerpts {
		out[i] = e.Body
	}
	return out
}
