package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

const (
	duckDuckGoEndpoint   = "https://html.duckduckgo.com/html"
	duckDuckGoMaxResults = 5
	duckDuckGoNoResult   = "No good DuckDuckGo Search Result was found"
)

// Search is a web search tool backed by DuckDuckGo's HTML endpoint.
type Search struct {
	opts Options
}

// NewSearch creates a DuckDuckGo search tool. Only Client and BaseURL of opts are used; the number of
// snippets is fixed and the snippets are not truncated.
func NewSearch(opts Options) Search {
	return Search{opts: opts.withDefaults(duckDuckGoEndpoint)}
}

// Name implements Tool.
func (Search) Name() string { return "Search" }

// Description implements Tool.
func (Search) Description() string {
	return "A wrapper around DuckDuckGo Search. Useful for when you need to answer questions about current events. " +
		"Input should be a search query."
}

// Schema implements Tool.
func (Search) Schema() json.RawMessage { return queryInputSchema }

// Call posts the query to DuckDuckGo and returns the result snippets joined by spaces.
func (s Search) Call(ctx context.Context, input string) (string, error) {
	q, err := parseQuery(input)
	if err != nil {
		return "", err
	}

	form := url.Values{"q": {q}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.BaseURL+"/", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := do(s.opts.Client, req)
	if err != nil {
		return "", fmt.Errorf("duckduckgo search failed: %w", err)
	}
	defer resp.Body.Close()

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return "", fmt.Errorf("error parsing duckduckgo response: %w", err)
	}

	snippets := duckDuckGoSnippets(doc, duckDuckGoMaxResults)
	if len(snippets) == 0 {
		return duckDuckGoNoResult, nil
	}
	return strings.Join(snippets, " "), nil
}

func duckDuckGoSnippets(doc *html.Node, limit int) []string {
	var snippets []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if len(snippets) >= limit {
			return
		}
		if n.Type == html.ElementNode && hasClass(n, "result__snippet") {
			if text := collapseSpaces(nodeText(n)); text != "" {
				snippets = append(snippets, text)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return snippets
}

func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(attr.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
