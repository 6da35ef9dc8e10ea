package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Ashfaaq98/osint-console/internal/dispatch"
	"github.com/Ashfaaq98/osint-console/internal/ingest"
	"github.com/Ashfaaq98/osint-console/internal/osint"
	"github.com/Ashfaaq98/osint-console/internal/providers"
	"github.com/Ashfaaq98/osint-console/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name      string
	result    func(value string) osint.ProviderResult
	healthErr error
}

func (p *stubProvider) Name() string { return p.name }
func (p *stubProvider) SupportedTypes() osint.TypeSet {
	return osint.NewTypeSet(osint.TargetIP, osint.TargetDomain)
}
func (p *stubProvider) Analyze(_ context.Context, _ osint.TargetType, value string) osint.ProviderResult {
	return p.result(value)
}
func (p *stubProvider) HealthCheck(context.Context) error { return p.healthErr }

type testEnv struct {
	store  *store.Store
	server *Server
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	vt := &stubProvider{name: "virustotal", result: func(string) osint.ProviderResult {
		return osint.Success("virustotal", map[string]interface{}{"threat_level": "high", "malicious": true, "malicious_count": 40, "total_engines": 90})
	}}
	remote := &stubProvider{name: "fastapi", healthErr: errors.New("analysis service unavailable"), result: func(string) osint.ProviderResult {
		return osint.Failure("fastapi", "analysis service unavailable: connection refused")
	}}
	reg := providers.NewRegistry(vt, remote)
	d := dispatch.New(st, reg, dispatch.Options{Auditor: st})

	if opts.RateLimit == 0 {
		opts.RateLimit = -1
	}
	if opts.Importer == nil {
		opts.Importer = ingest.NewFolderImporter(st, nil, ingest.FolderOptions{})
	}
	return &testEnv{store: st, server: New(st, d, reg, opts)}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)

	var out map[string]interface{}
	if strings.Contains(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, Options{Version: "1.2.3", Checks: map[string]HealthFunc{
		"bus": func(context.Context) error { return nil },
	}})
	rec, body := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "1.2.3", body["version"])

	env = newTestEnv(t, Options{Checks: map[string]HealthFunc{
		"bus": func(context.Context) error { return errors.New("redis down") },
	}})
	rec, body = env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])
}

func TestBearerAuth(t *testing.T) {
	env := newTestEnv(t, Options{Token: "s3cret"})

	rec, _ := env.do(t, http.MethodGet, "/api/v1/investigations", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/investigations", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/investigations", "", "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, Options{RateLimit: 2})
	for i := 0; i < 2; i++ {
		rec, _ := env.do(t, http.MethodGet, "/api/v1/providers", "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, _ := env.do(t, http.MethodGet, "/api/v1/providers", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestAnalyzeFlow(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec, inv := env.do(t, http.MethodPost, "/api/v1/investigations", `{"name":"dns resolvers"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	invID := inv["id"].(string)

	rec, body := env.do(t, http.MethodPost, "/api/v1/targets", `{"investigation_id":"`+invID+`","type":"ip","value":"8.8.8.8"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	targetID := body["id"].(string)
	assert.Equal(t, "pending", body["status"])

	rec, body = env.do(t, http.MethodPost, "/api/v1/targets/"+targetID+"/analyze", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "analyzed", body["target"].(map[string]interface{})["status"])
	assert.Equal(t, float64(1), body["failed"])
	results := body["results"].([]interface{})
	require.Len(t, results, 2)
	first := results[0].(map[string]interface{})
	assert.Equal(t, "virustotal", first["source"])
	assert.Equal(t, "critical", first["assessment"].(map[string]interface{})["level"])

	rec, body = env.do(t, http.MethodGet, "/api/v1/targets/"+targetID+"/results?source=fastapi", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])

	rec, _ = env.do(t, http.MethodGet, "/api/v1/targets/"+targetID+"/results?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = env.do(t, http.MethodGet, "/api/v1/targets/"+targetID+"/summary?top=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	summary := body["summary"].(map[string]interface{})
	assert.Equal(t, "critical", summary["highest"])
	assert.Len(t, summary["top"], 1)
	assert.Len(t, summary["activity"], 7)

	rec, body = env.do(t, http.MethodGet, "/api/v1/investigations/"+invID+"/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	summary = body["summary"].(map[string]interface{})
	assert.Equal(t, float64(1), summary["targets"])
	assert.Equal(t, float64(2), summary["total"])

	entries, err := env.store.GetAuditEntries(context.Background(), targetID, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAsyncAnalyze(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	inv, err := env.store.CreateInvestigation(ctx, osint.Investigation{Name: "async"})
	require.NoError(t, err)

	rec, body := env.do(t, http.MethodPost, "/api/v1/targets",
		`{"investigation_id":"`+inv.ID+`","type":"domain","value":"example.org","analyze":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	targetID := body["id"].(string)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/targets/"+targetID+"/analyze?async=true", "")
	assert.Contains(t, []int{http.StatusAccepted, http.StatusConflict}, rec.Code)

	env.server.Wait()
	target, err := env.store.GetTarget(ctx, targetID)
	require.NoError(t, err)
	assert.Equal(t, osint.StatusAnalyzed, target.Status)
}

func TestTargetErrors(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec, _ := env.do(t, http.MethodPost, "/api/v1/targets", `{"investigation_id":"x","type":"asn","value":"AS1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/targets", `{"investigation_id":"missing","type":"ip","value":"1.1.1.1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/targets", `{"bogus":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/targets/nope/analyze", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/investigations/nope/summary", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type busyDispatcher struct{}

func (busyDispatcher) Dispatch(_ context.Context, t osint.Target) (dispatch.Outcome, error) {
	return dispatch.Outcome{Target: t}, dispatch.ErrDispatchInProgress
}
func (busyDispatcher) InFlight(string) bool { return true }

func TestAnalyzeConflict(t *testing.T) {
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()
	inv, err := st.CreateInvestigation(ctx, osint.Investigation{Name: "busy"})
	require.NoError(t, err)
	target, err := st.CreateTarget(ctx, osint.Target{InvestigationID: inv.ID, Type: osint.TargetIP, Value: "1.1.1.1"})
	require.NoError(t, err)

	srv := New(st, busyDispatcher{}, providers.NewRegistry(), Options{RateLimit: -1})
	for _, path := range []string{"/api/v1/targets/" + target.ID + "/analyze", "/api/v1/targets/" + target.ID + "/analyze?async=1"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, http.StatusConflict, rec.Code, path)
	}
}

func TestProviders(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec, body := env.do(t, http.MethodGet, "/api/v1/providers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].([]interface{})
	require.Len(t, data, 2)
	assert.Equal(t, "virustotal", data[0].(map[string]interface{})["name"])

	rec, body = env.do(t, http.MethodGet, "/api/v1/providers/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, body["healthy"])
	p := body["providers"].(map[string]interface{})
	assert.Equal(t, "ok", p["virustotal"])
	assert.Contains(t, p["fastapi"], "unavailable")
}

func TestImport(t *testing.T) {
	env := newTestEnv(t, Options{})

	csv := "type,value,tools\nip,203.0.113.5,virustotal\nfoo,bar,\nip,203.0.113.5,\n"
	rec, body := env.do(t, http.MethodPost, "/api/v1/import?investigation=Botnet", csv, "Content-Type", "text/csv")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1), body["imported"])
	assert.Equal(t, float64(1), body["duplicates"])
	assert.Len(t, body["errors"], 1)

	jsonl := `{"type":"domain","value":"c2.example"}` + "\n" + `{"type":"url","value":"http://c2.example/gate"}`
	rec, body = env.do(t, http.MethodPost, "/api/v1/import?investigation=Botnet", jsonl)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(2), body["imported"])

	invs, err := env.store.ListInvestigations(context.Background())
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, "Botnet", invs[0].Name)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/import", "   ")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, Options{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "osint_dispatches_in_flight")
}
