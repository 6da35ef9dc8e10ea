package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/Ashfaaq98/osint-console/internal/osint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCSE struct {
	mu      sync.Mutex
	queries []string
	// answer returns the result count for a query, or an HTTP status to fail with.
	answer func(q string) (int, int)
}

func (f *fakeCSE) server(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/customsearch/v1", r.URL.Path)
		q := r.URL.Query()
		if q.Get("key") != "gkey" || q.Get("cx") != "engine" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		f.mu.Lock()
		f.queries = append(f.queries, q.Get("q"))
		f.mu.Unlock()

		total, status := f.answer(q.Get("q"))
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		resp := map[string]interface{}{
			"searchInformation": map[string]string{"totalResults": strconv.Itoa(total)},
		}
		var items []map[string]string
		for i := 0; i < total && i < 2; i++ {
			items = append(items, map[string]string{"title": "hit", "link": "https://example.org/" + strconv.Itoa(i)})
		}
		resp["items"] = items
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestDorkingHighPriority(t *testing.T) {
	cse := &fakeCSE{answer: func(q string) (int, int) {
		if strings.Contains(q, "filetype:pdf") {
			return 4, 0
		}
		if strings.Contains(q, "site:*.") {
			return 12, 0
		}
		return 0, 0
	}}
	srv := cse.server(t)
	defer srv.Close()

	p, err := NewDorking(config("dorking", "api_key", "gkey", "cse_id", "engine", "base_url", srv.URL), testLogger())
	require.NoError(t, err)

	res := p.Analyze(context.Background(), osint.TargetDomain, "Example.COM")
	require.Equal(t, osint.ResultSuccess, res.Status, res.Error)

	var payload osint.SearchPayload
	require.NoError(t, osint.DecodePayload(res.Data, &payload))
	assert.Equal(t, "example.com", payload.Subject)
	assert.Equal(t, 3, payload.QueriesRun)
	assert.Equal(t, 16, payload.TotalResults)
	assert.ElementsMatch(t, []string{"subdomains", "confidential documents"}, payload.HighValueFindings)
	assert.Equal(t, "site:*.example.com -site:www.example.com", cse.queries[0])
	require.Len(t, payload.Queries[2].Hits, 2)
}

func TestDorkingPriorityAll(t *testing.T) {
	cse := &fakeCSE{answer: func(string) (int, int) { return 0, 0 }}
	srv := cse.server(t)
	defer srv.Close()

	p, err := NewDorking(config("dorking", "api_key", "gkey", "cse_id", "engine", "base_url", srv.URL, "priority", "all"), testLogger())
	require.NoError(t, err)
	res := p.Analyze(context.Background(), osint.TargetDomain, "example.com")
	require.Equal(t, osint.ResultSuccess, res.Status, res.Error)
	assert.Len(t, cse.queries, len(domainDorks))
	// High priority queries always run first.
	assert.Contains(t, cse.queries[2], "filetype:pdf")
}

func TestAliasSearchPlatforms(t *testing.T) {
	cse := &fakeCSE{answer: func(q string) (int, int) {
		if strings.Contains(q, "github.com") {
			return 3, 0
		}
		if strings.Contains(q, "reddit.com") {
			return 1, 0
		}
		return 0, 0
	}}
	srv := cse.server(t)
	defer srv.Close()

	p, err := NewAliasSearch(config("alias_search", "api_key", "gkey", "cse_id", "engine", "base_url", srv.URL, "priority", "medium"), testLogger())
	require.NoError(t, err)

	res := p.Analyze(context.Background(), osint.TargetAlias, "@sh4dow")
	require.Equal(t, osint.ResultSuccess, res.Status, res.Error)

	var payload osint.SearchPayload
	require.NoError(t, osint.DecodePayload(res.Data, &payload))
	assert.Equal(t, 10, payload.QueriesRun)
	assert.Equal(t, []string{"github"}, payload.HighValueFindings)
	assert.Equal(t, 4, payload.TotalResults)
	for _, q := range cse.queries {
		assert.NotContains(t, q, `"@@`)
	}
	assert.Contains(t, cse.queries, `site:github.com "sh4dow"`)
}

func TestSearchStopsOnRateLimit(t *testing.T) {
	cse := &fakeCSE{answer: func(q string) (int, int) {
		if strings.Contains(q, "linkedin") {
			return 0, http.StatusTooManyRequests
		}
		return 1, 0
	}}
	srv := cse.server(t)
	defer srv.Close()

	p, err := NewAliasSearch(config("alias_search", "api_key", "gkey", "cse_id", "engine", "base_url", srv.URL), testLogger())
	require.NoError(t, err)
	res := p.Analyze(context.Background(), osint.TargetAlias, "sh4dow")
	require.Equal(t, osint.ResultSuccess, res.Status, res.Error)

	var payload osint.SearchPayload
	require.NoError(t, osint.DecodePayload(res.Data, &payload))
	assert.Equal(t, 2, payload.QueriesRun)
	assert.Equal(t, 1, payload.FailedQueries)
	assert.Contains(t, payload.Queries[1].Error, "rate limit")
	assert.Len(t, cse.queries, 2)
}

func TestSearchAllFailedIsError(t *testing.T) {
	srv := (&fakeCSE{answer: func(string) (int, int) { return 0, 0 }}).server(t)
	defer srv.Close()

	p, err := NewDorking(config("dorking", "api_key", "bad", "cse_id", "engine", "base_url", srv.URL), testLogger())
	require.NoError(t, err)
	res := p.Analyze(context.Background(), osint.TargetDomain, "example.com")
	assert.Equal(t, osint.ResultError, res.Status)
	assert.Contains(t, res.Error, "403")
}

func TestSearchConfiguration(t *testing.T) {
	p, err := NewAliasSearch(config("alias_search", "api_key", "gkey"), testLogger())
	require.NoError(t, err)
	res := p.Analyze(context.Background(), osint.TargetAlias, "someone")
	assert.Contains(t, res.Error, "cse_id")

	res = p.Analyze(context.Background(), osint.TargetDomain, "example.com")
	assert.Contains(t, res.Error, "unsupported target type")

	_, err = NewDorking(config("dorking", "max_results", "25"), testLogger())
	assert.Error(t, err)
	_, err = NewDorking(config("dorking", "priority", "urgent"), testLogger())
	assert.Error(t, err)
}
