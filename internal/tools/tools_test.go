package tools_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MegaGrindStone/chat-search/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	opts := tools.Options{}
	reg := tools.NewRegistry(tools.NewSearch(opts), tools.NewArxiv(opts), tools.NewWikipedia(opts))

	assert.Equal(t, []string{"Search", "arxiv", "wikipedia"}, reg.Names())

	tool, ok := reg.Get("arxiv")
	require.True(t, ok)
	assert.Equal(t, "arxiv", tool.Name())

	_, ok = reg.Get("calculator")
	assert.False(t, ok)

	// Re-registering a name replaces the tool in place.
	reg.Add(stubTool{name: "arxiv", out: "stub"})
	assert.Equal(t, []string{"Search", "arxiv", "wikipedia"}, reg.Names())
	tool, _ = reg.Get("arxiv")
	res, err := tool.Call(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "stub", res)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "héll", tools.Truncate("héllo", 4))
	assert.Equal(t, "hi", tools.Truncate("hi", 200))
	assert.Equal(t, "unbounded", tools.Truncate("unbounded", 0))
}

func TestQueryInputSchema(t *testing.T) {
	var schema struct {
		Type       string                     `json:"type"`
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	require.NoError(t, json.Unmarshal(tools.NewWikipedia(tools.Options{}).Schema(), &schema))

	assert.Equal(t, "object", schema.Type)
	assert.Contains(t, schema.Properties, "query")
	assert.Equal(t, []string{"query"}, schema.Required)
}

func TestSearchCall(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, r.ParseForm())
		gotQuery = r.PostForm.Get("q")
		_, _ = io.WriteString(w, `<html><body>
			<div class="result"><a class="result__a">Go</a>
			<a class="result__snippet" href="#">Go is an <b>open source</b>
			programming language.</a></div>
			<div class="result"><a class="result__snippet">Built at Google.</a></div>
		</body></html>`)
	}))
	defer srv.Close()

	s := tools.NewSearch(tools.Options{BaseURL: srv.URL})
	res, err := s.Call(context.Background(), `"golang"`)
	require.NoError(t, err)

	assert.Equal(t, `"golang"`, gotQuery)
	assert.Equal(t, "Go is an open source programming language. Built at Google.", res)
}

func TestSearchNoResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `<html><body>No results.</body></html>`)
	}))
	defer srv.Close()

	res, err := tools.NewSearch(tools.Options{BaseURL: srv.URL}).Call(context.Background(), "zzzz")
	require.NoError(t, err)
	assert.Equal(t, "No good DuckDuckGo Search Result was found", res)
}

func TestSearchStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := tools.NewSearch(tools.Options{BaseURL: srv.URL}).Call(context.Background(), "go")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestEmptyQueryIsInvalidInput(t *testing.T) {
	_, err := tools.NewWikipedia(tools.Options{}).Call(context.Background(), "  ")
	assert.True(t, errors.Is(err, tools.ErrInvalidInput))

	_, err = tools.NewArxiv(tools.Options{}).Call(context.Background(), `{"query": ""}`)
	assert.True(t, errors.Is(err, tools.ErrInvalidInput))
}

func TestWikipediaCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("list") == "search":
			assert.Equal(t, "Alan Turing", q.Get("srsearch"))
			assert.Equal(t, "1", q.Get("srlimit"))
			_, _ = io.WriteString(w, `{"query":{"search":[{"title":"Alan Turing"}]}}`)
		case q.Get("prop") == "extracts":
			assert.Equal(t, "Alan Turing", q.Get("titles"))
			_, _ = io.WriteString(w, `{"query":{"pages":[{"title":"Alan Turing","extract":"`+
				strings.Repeat("a", 500)+`"}]}}`)
		default:
			t.Errorf("unexpected request %s", r.URL)
		}
	}))
	defer srv.Close()

	wiki := tools.NewWikipedia(tools.Options{BaseURL: srv.URL})
	res, err := wiki.Call(context.Background(), `{"query": "Alan Turing"}`)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(res, "Page: Alan Turing\nSummary: aaa"))
	assert.Len(t, []rune(res), 200)
}

func TestWikipediaNoResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"query":{"search":[]}}`)
	}))
	defer srv.Close()

	res, err := tools.NewWikipedia(tools.Options{BaseURL: srv.URL}).Call(context.Background(), "qwertyuiop")
	require.NoError(t, err)
	assert.Equal(t, "No good Wikipedia Search Result was found", res)
}

const arxivFeedXML = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/1706.03762v7</id>
    <updated>2023-08-02T00:41:18Z</updated>
    <published>2017-06-12T17:57:34Z</published>
    <title>Attention Is All
      You Need</title>
    <summary>  The dominant sequence transduction models are based on complex recurrent or convolutional neural networks
      that include an encoder and a decoder.</summary>
    <author><name>Ashish Vaswani</name></author>
    <author><name>Noam Shazeer</name></author>
  </entry>
</feed>`

func TestArxivCall(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantParam string
		wantValue string
	}{
		{
			name:      "search query",
			input:     "attention transformer",
			wantParam: "search_query",
			wantValue: "attention transformer",
		},
		{
			name:      "identifier query",
			input:     "1706.03762",
			wantParam: "id_list",
			wantValue: "1706.03762",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.wantValue, r.URL.Query().Get(tt.wantParam))
				_, _ = io.WriteString(w, arxivFeedXML)
			}))
			defer srv.Close()

			arxiv := tools.NewArxiv(tools.Options{BaseURL: srv.URL, DocContentCharsMax: 1000})
			res, err := arxiv.Call(context.Background(), tt.input)
			require.NoError(t, err)

			want := "Published: 2023-08-02\nTitle: Attention Is All You Need\nAuthors: Ashish Vaswani, Noam Shazeer\n" +
				"Summary: The dominant sequence transduction models are based on complex recurrent or convolutional " +
				"neural networks that include an encoder and a decoder."
			assert.Equal(t, want, res)
		})
	}
}

func TestArxivDefaultTruncation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, arxivFeedXML)
	}))
	defer srv.Close()

	res, err := tools.NewArxiv(tools.Options{BaseURL: srv.URL}).Call(context.Background(), "attention")
	require.NoError(t, err)
	assert.Len(t, []rune(res), 200)
}

func TestArxivNoResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `<feed xmlns="http://www.w3.org/2005/Atom"></feed>`)
	}))
	defer srv.Close()

	res, err := tools.NewArxiv(tools.Options{BaseURL: srv.URL}).Call(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Equal(t, "No good Arxiv Result was found", res)
}

func TestCached(t *testing.T) {
	inner := &countingTool{stubTool: stubTool{name: "wikipedia", out: "Page: Go"}}
	cache := newMemCache()
	cached := tools.NewCached(inner, cache, slog.New(slog.NewTextHandler(io.Discard, nil)))

	for range 3 {
		res, err := cached.Call(context.Background(), " golang ")
		require.NoError(t, err)
		assert.Equal(t, "Page: Go", res)
	}
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, "wikipedia", cached.Name())
}

func TestCachedDoesNotStoreErrors(t *testing.T) {
	inner := &countingTool{stubTool: stubTool{name: "Search", err: errors.New("boom")}}
	cached := tools.NewCached(inner, newMemCache(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	for range 2 {
		_, err := cached.Call(context.Background(), "q")
		require.Error(t, err)
	}
	assert.Equal(t, 2, inner.calls)
}

type stubTool struct {
	name string
	out  string
	err  error
}

func (s stubTool) Name() string            { return s.name }
func (s stubTool) Description() string     { return "stub tool" }
func (s stubTool) Schema() json.RawMessage { return json.RawMessage(`{}`) }

func (s stubTool) Call(context.Context, string) (string, error) {
	return s.out, s.err
}

type countingTool struct {
	stubTool
	calls int
}

func (c *countingTool) Call(ctx context.Context, input string) (string, error) {
	c.calls++
	return c.stubTool.Call(ctx, input)
}

type memCache struct {
	mu   sync.Mutex
	vals map[string]string
}

func newMemCache() *memCache {
	return &memCache{vals: make(map[string]string)}
}

func (m *memCache) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	return v, ok, nil
}

func (m *memCache) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = value
	return nil
}
