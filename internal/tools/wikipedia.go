package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	wikipediaEndpoint = "https://en.wikipedia.org/w/api.php"
	wikipediaNoResult = "No good Wikipedia Search Result was found"
)

// Wikipedia looks up encyclopedia pages through the MediaWiki API.
type Wikipedia struct {
	opts Options
}

type wikipediaSearchResponse struct {
	Query struct {
		Search []struct {
			Title string `json:"title"`
		} `json:"search"`
	} `json:"query"`
}

type wikipediaExtractResponse struct {
	Query struct {
		Pages []struct {
			Title   string `json:"title"`
			Missing bool   `json:"missing"`
			Extract string `json:"extract"`
		} `json:"pages"`
	} `json:"query"`
}

// NewWikipedia creates a Wikipedia lookup tool.
func NewWikipedia(opts Options) Wikipedia {
	return Wikipedia{opts: opts.withDefaults(wikipediaEndpoint)}
}

// Name implements Tool.
func (Wikipedia) Name() string { return "wikipedia" }

// Description implements Tool.
func (Wikipedia) Description() string {
	return "A wrapper around Wikipedia. Useful for when you need to answer general questions about people, places, " +
		"companies, facts, historical events, or other subjects. Input should be a search query."
}

// Schema implements Tool.
func (Wikipedia) Schema() json.RawMessage { return queryInputSchema }

// Call searches Wikipedia and returns the summaries of the top pages, truncated to DocContentCharsMax.
func (w Wikipedia) Call(ctx context.Context, input string) (string, error) {
	q, err := parseQuery(input)
	if err != nil {
		return "", err
	}

	titles, err := w.search(ctx, truncateQuery(q))
	if err != nil {
		return "", err
	}

	var summaries []string
	for _, title := range titles {
		summary, ok, err := w.summary(ctx, title)
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}
		summaries = append(summaries, fmt.Sprintf("Page: %s\nSummary: %s", title, summary))
	}
	if len(summaries) == 0 {
		return wikipediaNoResult, nil
	}

	return Truncate(strings.Join(summaries, "\n\n"), w.opts.DocContentCharsMax), nil
}

func (w Wikipedia) search(ctx context.Context, q string) ([]string, error) {
	params := url.Values{
		"action":        {"query"},
		"list":          {"search"},
		"srsearch":      {q},
		"srlimit":       {strconv.Itoa(w.opts.TopKResults)},
		"srprop":        {""},
		"format":        {"json"},
		"formatversion": {"2"},
	}
	resp, err := doGet(ctx, w.opts.Client, w.opts.BaseURL+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("wikipedia search failed: %w", err)
	}
	defer resp.Body.Close()

	var res wikipediaSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("error decoding wikipedia search response: %w", err)
	}

	titles := make([]string, 0, len(res.Query.Search))
	for _, s := range res.Query.Search {
		titles = append(titles, s.Title)
	}
	return titles, nil
}

func (w Wikipedia) summary(ctx context.Context, title string) (string, bool, error) {
	params := url.Values{
		"action":        {"query"},
		"prop":          {"extracts"},
		"exintro":       {"1"},
		"explaintext":   {"1"},
		"redirects":     {"1"},
		"titles":        {title},
		"format":        {"json"},
		"formatversion": {"2"},
	}
	resp, err := doGet(ctx, w.opts.Client, w.opts.BaseURL+"?"+params.Encode())
	if err != nil {
		return "", false, fmt.Errorf("wikipedia page fetch failed: %w", err)
	}
	defer resp.Body.Close()

	var res wikipediaExtractResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", false, fmt.Errorf("error decoding wikipedia page response: %w", err)
	}

	for _, p := range res.Query.Pages {
		if p.Missing || strings.TrimSpace(p.Extract) == "" {
			continue
		}
		return strings.TrimSpace(p.Extract), true, nil
	}
	return "", false, nil
}
