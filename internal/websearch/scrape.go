package websearch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	scrapeTimeout  = 10 * time.Second
	maxPageRunes   = 15000
	maxPageBytes   = 4 << 20
	tableSeparator = " | "
)

// skippedElements never contribute text to a scraped page.
var skippedElements = map[string]bool{
	"script": true, "style": true, "nav": true,
	"footer": true, "header": true, "aside": true,
}

// Page is the scraped text of one search result.
type Page struct {
	Title   string
	Link    string
	Content string
}

// Scraper fetches a page and reduces it to table rows and paragraph text,
// which is where composition and tolerance data usually lives.
type Scraper struct {
	httpClient *http.Client
}

func NewScraper() *Scraper {
	return &Scraper{httpClient: &http.Client{Timeout: scrapeTimeout}}
}

// Scrape returns at most 15000 characters of page text.
func (s *Scraper) Scrape(ctx context.Context, link string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("抓取網頁時出錯: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("無法抓取網頁，狀態碼: %d", resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("parsing page: %w", err)
	}

	text := pageText(doc)
	if r := []rune(text); len(r) > maxPageRunes {
		text = string(r[:maxPageRunes])
	}
	return text, nil
}

// ScrapeResults scrapes the first limit results, skipping pages that fail.
func (s *Scraper) ScrapeResults(ctx context.Context, results []Result, limit int) []Page {
	var pages []Page
	for _, r := range results {
		if len(pages) >= limit || ctx.Err() != nil {
			break
		}
		content, err := s.Scrape(ctx, r.Link)
		if err != nil {
			slog.Warn("scrape failed", "url", r.Link, "error", err)
			continue
		}
		if content == "" {
			continue
		}
		pages = append(pages, Page{Title: r.Title, Link: r.Link, Content: content})
	}
	return pages
}

func pageText(doc *html.Node) string {
	var tableText strings.Builder
	var paragraphs []string

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skippedElements[n.Data] {
				return
			}
			switch n.Data {
			case "table":
				for _, row := range tableRows(n) {
					tableText.WriteString(row)
					tableText.WriteString("\n")
				}
				return
			case "p":
				if t := textContent(n); t != "" {
					paragraphs = append(paragraphs, t)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var sb strings.Builder
	if tableText.Len() > 0 {
		sb.WriteString("表格數據:\n")
		sb.WriteString(tableText.String())
		sb.WriteString("\n\n")
	}
	if len(paragraphs) > 0 {
		sb.WriteString("網頁內容:\n")
		sb.WriteString(strings.Join(paragraphs, "\n"))
	}
	if sb.Len() > 0 {
		return sb.String()
	}
	return plainText(doc)
}

func tableRows(table *html.Node) []string {
	var rows []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			var cells []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
					cells = append(cells, textContent(c))
				}
			}
			if row := strings.Join(cells, tableSeparator); strings.TrimSpace(row) != "" {
				rows = append(rows, row)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(table)
	return rows
}

// plainText is the fallback for pages without tables or paragraphs.
func plainText(doc *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skippedElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString("\n")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var lines []string
	for _, line := range strings.Split(sb.String(), "\n") {
		for _, phrase := range strings.Split(strings.TrimSpace(line), "  ") {
			if p := strings.TrimSpace(phrase); p != "" {
				lines = append(lines, p)
			}
		}
	}
	return strings.Join(lines, "\n")
}
