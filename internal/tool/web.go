package tool

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
	webTimeout       = 15 * time.Second
	fetchMaxBytes    = 512 * 1024
	defaultFetchMax  = 10000
	userAgentString  = "conduit/0.1"
	ddgInstantAPIURL = "https://api.duckduckgo.com/"
)

// WebConfig configures the web tools.
type WebConfig struct {
	MaxChars  int    // web_fetch output cap
	SearchURL string // override for tests
	Client    *http.Client
}

func (c WebConfig) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return &http.Client{Timeout: webTimeout}
}

// WebSearchTool searches the web using the DuckDuckGo Instant Answer API.
type WebSearchTool struct {
	client   *http.Client
	endpoint string
}

func NewWebSearchTool(cfg WebConfig) *WebSearchTool {
	endpoint := cfg.SearchURL
	if endpoint == "" {
		endpoint = ddgInstantAPIURL
	}
	return &WebSearchTool{client: cfg.client(), endpoint: endpoint}
}

func (t *WebSearchTool) Name() string { return "web_search" }
func (t *WebSearchTool) Description() string {
	return "Search the web for information. Returns a summary of search results."
}
func (t *WebSearchTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"query": {Type: "string", Description: "Search query to look up on the web"},
			"count": {Type: "integer", Description: "Maximum related results (1-10, default 5)"},
		},
		[]string{"query"},
	)
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query := ArgsString(args, "query")
	if query == "" {
		return "", fmt.Errorf("missing argument: query")
	}
	count := ArgsInt(args, "count", 5)
	if count < 1 || count > 10 {
		count = 5
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgentString)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	var ddg ddgResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, fetchMaxBytes)).Decode(&ddg); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}

	var results []string
	if ddg.Abstract != "" {
		results = append(results, fmt.Sprintf("## %s\n%s\nSource: %s", ddg.Heading, ddg.Abstract, ddg.AbstractURL))
	}
	if ddg.Answer != "" {
		results = append(results, "Answer: "+ddg.Answer)
	}
	n := 0
	for _, topic := range ddg.RelatedTopics {
		if n >= count {
			break
		}
		if topic.Text == "" {
			continue
		}
		results = append(results, fmt.Sprintf("- %s (%s)", topic.Text, topic.FirstURL))
		n++
	}

	if len(results) == 0 {
		return fmt.Sprintf("No instant results found for: %s. Try a more specific query.", query), nil
	}
	return strings.Join(results, "\n\n"), nil
}

type ddgResponse struct {
	Abstract      string     `json:"Abstract"`
	AbstractURL   string     `json:"AbstractURL"`
	Heading       string     `json:"Heading"`
	Answer        string     `json:"Answer"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

type ddgTopic struct {
	Text     string `json:"Text"`
	FirstURL string `json:"FirstURL"`
}

// WebFetchTool fetches a URL and returns its readable text.
type WebFetchTool struct {
	client   *http.Client
	maxChars int
}

func NewWebFetchTool(cfg WebConfig) *WebFetchTool {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = defaultFetchMax
	}
	return &WebFetchTool{client: cfg.client(), maxChars: cfg.MaxChars}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }
func (t *WebFetchTool) Description() string {
	return "Fetch the content of a web page by URL. Returns the text content with HTML stripped."
}
func (t *WebFetchTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"url": {Type: "string", Description: "Full URL to fetch (must start with http:// or https://)"},
		},
		[]string{"url"},
	)
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	rawURL := ArgsString(args, "url")
	if rawURL == "" {
		return "", fmt.Errorf("missing argument: url")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported URL scheme: %s (only http/https allowed)", parsed.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgentString)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	text := string(body)
	if ct := resp.Header.Get("Content-Type"); ct == "" || strings.Contains(ct, "html") {
		text = stripHTML(text)
	}
	if len(text) > t.maxChars {
		text = text[:t.maxChars] + "\n... (truncated)"
	}
	return text, nil
}

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagRe         = regexp.MustCompile(`(?s)<[^>]*>`)
)

// stripHTML removes scripts, styles and tags, and drops blank lines.
func stripHTML(s string) string {
	s = scriptStyleRe.ReplaceAllString(s, "")
	s = tagRe.ReplaceAllString(s, "")
	lines := strings.Split(s, "\n")
	cleaned := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}
