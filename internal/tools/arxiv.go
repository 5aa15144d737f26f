package tools

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	arxivEndpoint = "https://export.arxiv.org/api/query"
	arxivNoResult = "No good Arxiv Result was found"
)

var arxivIDPattern = regexp.MustCompile(`^(\d{4}\.\d{4,5}(v\d+)?|[a-z\-]+(\.[A-Z]{2})?/\d{7}(v\d+)?)$`)

// Arxiv looks up scientific papers through the arXiv export API.
type Arxiv struct {
	opts Options
}

type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID      string        `xml:"id"`
	Updated string        `xml:"updated"`
	Title   string        `xml:"title"`
	Summary string        `xml:"summary"`
	Authors []arxivAuthor `xml:"author"`
}

type arxivAuthor struct {
	Name string `xml:"name"`
}

// NewArxiv creates an arXiv lookup tool.
func NewArxiv(opts Options) Arxiv {
	return Arxiv{opts: opts.withDefaults(arxivEndpoint)}
}

// Name implements Tool.
func (Arxiv) Name() string { return "arxiv" }

// Description implements Tool.
func (Arxiv) Description() string {
	return "A wrapper around Arxiv.org Useful for when you need to answer questions about Physics, Mathematics, " +
		"Computer Science, Quantitative Biology, Quantitative Finance, Statistics, Electrical Engineering, and " +
		"Economics from scientific articles on arxiv.org. Input should be a search query."
}

// Schema implements Tool.
func (Arxiv) Schema() json.RawMessage { return queryInputSchema }

// Call queries arXiv and returns the metadata of the top papers, truncated to DocContentCharsMax. A query
// made only of arXiv identifiers is looked up by id.
func (a Arxiv) Call(ctx context.Context, input string) (string, error) {
	q, err := parseQuery(input)
	if err != nil {
		return "", err
	}
	q = truncateQuery(q)

	params := url.Values{
		"max_results": {strconv.Itoa(a.opts.TopKResults)},
	}
	if isArxivIdentifierQuery(q) {
		params.Set("id_list", strings.Join(strings.Fields(q), ","))
	} else {
		params.Set("search_query", q)
	}

	resp, err := doGet(ctx, a.opts.Client, a.opts.BaseURL+"?"+params.Encode())
	if err != nil {
		return "", fmt.Errorf("arxiv query failed: %w", err)
	}
	defer resp.Body.Close()

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return "", fmt.Errorf("error decoding arxiv feed: %w", err)
	}

	docs := make([]string, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		// The API answers unknown ids with an entry that only carries an error title.
		if strings.TrimSpace(e.Title) == "" || strings.TrimSpace(e.Title) == "Error" {
			continue
		}
		docs = append(docs, e.format())
	}
	if len(docs) == 0 {
		return arxivNoResult, nil
	}

	return Truncate(strings.Join(docs, "\n\n"), a.opts.DocContentCharsMax), nil
}

func (e arxivEntry) format() string {
	published := strings.TrimSpace(e.Updated)
	if t, err := time.Parse(time.RFC3339, published); err == nil {
		published = t.Format(time.DateOnly)
	}

	authors := make([]string, len(e.Authors))
	for i, au := range e.Authors {
		authors[i] = collapseSpaces(au.Name)
	}

	return fmt.Sprintf("Published: %s\nTitle: %s\nAuthors: %s\nSummary: %s",
		published,
		collapseSpaces(e.Title),
		strings.Join(authors, ", "),
		collapseSpaces(e.Summary),
	)
}

func isArxivIdentifierQuery(q string) bool {
	fields := strings.Fields(q)
	if len(fields) == 0 {
		return false
	}
	for _, f := range fields {
		if !arxivIDPattern.MatchString(f) {
			return false
		}
	}
	return true
}
