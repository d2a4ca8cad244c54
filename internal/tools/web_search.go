package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	searchDefaultCount   = 5
	searchMaxCount       = 10
	searchTimeoutSeconds = 30
	braveSearchEndpoint  = "https://api.search.brave.com/res/v1/web/search"
	searchUserAgent      = "Mozilla/5.0 (compatible; goclaw/1.0)"
)

type searchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// searchProvider abstracts a web search backend — adapted from the
// teacher's internal/tools/web_search.go SearchProvider interface, with
// its Brave and DuckDuckGo implementations (web_search_brave.go,
// web_search_ddg.go) collapsed into this one file and its freshness/
// country/ui-lang refinements trimmed for time.
type searchProvider interface {
	Name() string
	Search(ctx context.Context, query string, count int) ([]searchResult, error)
}

// braveSearchProvider queries the Brave Search API.
type braveSearchProvider struct {
	apiKey string
	client *http.Client
}

func (p *braveSearchProvider) Name() string { return "brave" }

func (p *braveSearchProvider) Search(ctx context.Context, query string, count int) ([]searchResult, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("count", fmt.Sprintf("%d", count))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, braveSearchEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave API returned %d", resp.StatusCode)
	}

	var parsed struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	out := make([]searchResult, 0, len(parsed.Web.Results))
	for _, r := range parsed.Web.Results {
		out = append(out, searchResult{Title: r.Title, URL: r.URL, Description: r.Description})
	}
	return out, nil
}

// duckDuckGoSearchProvider scrapes DuckDuckGo's HTML search endpoint, used
// as a no-API-key fallback.
type duckDuckGoSearchProvider struct {
	client *http.Client
}

func (p *duckDuckGoSearchProvider) Name() string { return "duckduckgo" }

var (
	ddgLinkRe    = regexp.MustCompile(`<a[^>]*class="[^"]*result__a[^"]*"[^>]*href="([^"]+)"[^>]*>([\s\S]*?)</a>`)
	ddgSnippetRe = regexp.MustCompile(`<a class="result__snippet[^"]*".*?>([\s\S]*?)</a>`)
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
)

func (p *duckDuckGoSearchProvider) Search(ctx context.Context, query string, count int) ([]searchResult, error) {
	searchURL := fmt.Sprintf("https://html.duckduckgo.com/html/?q=%s", url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", searchUserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return extractDDGResults(string(body), count), nil
}

func extractDDGResults(html string, count int) []searchResult {
	linkMatches := ddgLinkRe.FindAllStringSubmatch(html, count+5)
	if len(linkMatches) == 0 {
		return nil
	}
	snippetMatches := ddgSnippetRe.FindAllStringSubmatch(html, count+5)

	var results []searchResult
	for i := 0; i < len(linkMatches) && i < count; i++ {
		rawURL := linkMatches[i][1]
		title := strings.TrimSpace(htmlTagRe.ReplaceAllString(linkMatches[i][2], ""))

		if strings.Contains(rawURL, "uddg=") {
			if u, err := url.QueryUnescape(rawURL); err == nil {
				if idx := strings.Index(u, "uddg="); idx != -1 {
					extracted := u[idx+5:]
					if ampIdx := strings.Index(extracted, "&"); ampIdx != -1 {
						extracted = extracted[:ampIdx]
					}
					rawURL = extracted
				}
			}
		}

		desc := ""
		if i < len(snippetMatches) {
			desc = strings.TrimSpace(htmlTagRe.ReplaceAllString(snippetMatches[i][1], ""))
		}
		results = append(results, searchResult{Title: title, URL: rawURL, Description: desc})
	}
	return results
}

// WebSearchTool implements spec §4.4's "web search" capability, trying a
// Brave-backed provider first (when an API key is configured) and falling
// back to the DuckDuckGo scraper otherwise.
type WebSearchTool struct {
	providers []searchProvider
}

func NewWebSearchTool(braveAPIKey string) *WebSearchTool {
	client := &http.Client{Timeout: searchTimeoutSeconds * time.Second}
	var providers []searchProvider
	if braveAPIKey != "" {
		providers = append(providers, &braveSearchProvider{apiKey: braveAPIKey, client: client})
	}
	providers = append(providers, &duckDuckGoSearchProvider{client: client})
	return &WebSearchTool{providers: providers}
}

func (t *WebSearchTool) Name() string        { return "web_search" }
func (t *WebSearchTool) Description() string { return "Search the web and return a list of results" }
func (t *WebSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string", "description": "Search query"},
			"count": map[string]interface{}{"type": "integer", "description": "Number of results, default 5, max 10"},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, _ AuthContext, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	if query == "" {
		return Errorf("bad_args", "query is required")
	}
	count := searchDefaultCount
	if c, ok := args["count"].(float64); ok && c > 0 {
		count = int(c)
	}
	if count > searchMaxCount {
		count = searchMaxCount
	}

	var lastErr error
	for _, p := range t.providers {
		results, err := p.Search(ctx, query, count)
		if err != nil {
			lastErr = err
			continue
		}
		if len(results) == 0 {
			continue
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Search provider: %s\n\n", p.Name())
		for i, r := range results {
			fmt.Fprintf(&b, "%d. %s\n%s\n%s\n\n", i+1, r.Title, r.URL, r.Description)
		}
		return Ok(strings.TrimSpace(b.String()))
	}
	if lastErr != nil {
		return Errorf("network", "all search providers failed: %v", lastErr)
	}
	return Ok("(no results)")
}
