package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/Ashfaaq98/osint-console/internal/osint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockMISPServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/servers/getVersion", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"version": "2.4.180"})
	})
	mux.HandleFunc("/attributes/restSearch", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "test-api-key" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var req mispSearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, []string{"ip-src", "ip-dst"}, req.Type)
		assert.Equal(t, "30d", req.Last)

		w.Header().Set("Content-Type", "application/json")
		if req.Value != "203.0.113.9" {
			_, _ = w.Write([]byte(`{"response":{"Attribute":[]}}`))
			return
		}
		_, _ = w.Write([]byte(`{"response":{"Attribute":[
			{"id":"1","type":"ip-dst","category":"Network activity","value":"203.0.113.9","to_ids":true,"event_id":"10",
			 "Event":{"id":"10","info":"Botnet C2","date":"2025-05-02","threat_level_id":"1","Orgc":{"name":"CIRCL"}},
			 "Tag":[{"name":"tlp:green"},{"name":"botnet"}]},
			{"id":"2","type":"ip-src","category":"Network activity","value":"203.0.113.9","to_ids":false,"event_id":"10",
			 "Event":{"id":"10","info":"Botnet C2","date":"2025-05-02","threat_level_id":"1","Orgc":{"name":"CIRCL"}},
			 "Tag":[{"name":"tlp:green"}]},
			{"id":"3","type":"ip-dst","category":"Payload delivery","value":"203.0.113.9","to_ids":true,"event_id":"11",
			 "Event":{"id":"11","info":"Noise feed","date":"2025-01-01","threat_level_id":"3","Orgc":{"name":"Feed Org"}}}
		]}}`))
	})
	return httptest.NewServer(mux)
}

func TestMISPSearch(t *testing.T) {
	srv := newMockMISPServer(t)
	defer srv.Close()

	p, err := NewMISP(config("misp", "api_key", "test-api-key", "base_url", srv.URL, "days_back", "30"), testLogger())
	require.NoError(t, err)

	res := p.Analyze(context.Background(), osint.TargetIP, "203.0.113.9")
	require.Equal(t, osint.ResultSuccess, res.Status, res.Error)

	var payload osint.MISPPayload
	require.NoError(t, osint.DecodePayload(res.Data, &payload))
	assert.Equal(t, 3, payload.Hits)
	assert.Equal(t, 2, payload.IDSHits)
	assert.Equal(t, []string{"Network activity", "Payload delivery"}, payload.Categories)
	assert.Equal(t, []string{"botnet", "tlp:green"}, payload.Tags)
	require.Len(t, payload.Events, 2)
	assert.Equal(t, "high", payload.Events[0].ThreatLevel)
	assert.Equal(t, "CIRCL", payload.Events[0].Org)

	res = p.Analyze(context.Background(), osint.TargetIP, "198.51.100.1")
	require.Equal(t, osint.ResultSuccess, res.Status)
	assert.EqualValues(t, 0, res.Data["hits"])
}

func TestMISPExcludedOrgs(t *testing.T) {
	srv := newMockMISPServer(t)
	defer srv.Close()

	p, err := NewMISP(config("misp", "api_key", "test-api-key", "base_url", srv.URL,
		"days_back", "30", "excluded_orgs", "feed org"), testLogger())
	require.NoError(t, err)

	res := p.Analyze(context.Background(), osint.TargetIP, "203.0.113.9")
	require.Equal(t, osint.ResultSuccess, res.Status, res.Error)
	var payload osint.MISPPayload
	require.NoError(t, osint.DecodePayload(res.Data, &payload))
	assert.Equal(t, 2, payload.Hits)
	assert.Len(t, payload.Events, 1)
}

func TestMISPNotConfigured(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	p, err := NewMISP(config("misp", "base_url", srv.URL), testLogger())
	require.NoError(t, err)
	res := p.Analyze(context.Background(), osint.TargetIP, "203.0.113.9")
	assert.Equal(t, osint.ResultError, res.Status)
	assert.Contains(t, res.Error, "API key not configured")

	p, err = NewMISP(config("misp", "api_key", "k"), testLogger())
	require.NoError(t, err)
	res = p.Analyze(context.Background(), osint.TargetIP, "203.0.113.9")
	assert.Contains(t, res.Error, "base_url not configured")
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	res = p.Analyze(context.Background(), osint.TargetPhone, "+15550100")
	assert.Equal(t, osint.ResultError, res.Status)
}

func TestMISPHealthCheck(t *testing.T) {
	srv := newMockMISPServer(t)
	defer srv.Close()

	p, err := NewMISP(config("misp", "api_key", "test-api-key", "base_url", srv.URL), testLogger())
	require.NoError(t, err)
	assert.NoError(t, TryHealthCheck(context.Background(), p))

	srv.Close()
	assert.Error(t, TryHealthCheck(context.Background(), p))
}

func TestMISPAttributeTypes(t *testing.T) {
	assert.Equal(t, []string{"md5"}, mispAttributeTypes(osint.TargetHash, "d41d8cd98f00b204e9800998ecf8427e"))
	assert.Equal(t, []string{"sha256"}, mispAttributeTypes(osint.TargetHash, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"))
	assert.Equal(t, []string{"domain", "hostname"}, mispAttributeTypes(osint.TargetDomain, "example.com"))
	assert.Nil(t, mispAttributeTypes(osint.TargetAlias, "someone"))
}
