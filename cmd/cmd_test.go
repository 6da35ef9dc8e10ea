package cmd

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/Ashfaaq98/osint-console/internal/bus"
	"github.com/Ashfaaq98/osint-console/internal/dispatch"
	"github.com/Ashfaaq98/osint-console/internal/osint"
	"github.com/Ashfaaq98/osint-console/internal/providers"
	"github.com/Ashfaaq98/osint-console/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoProvider struct{ name string }

func (p echoProvider) Name() string { return p.name }
func (p echoProvider) SupportedTypes() osint.TypeSet {
	return osint.NewTypeSet(osint.TargetIP)
}
func (p echoProvider) Analyze(_ context.Context, _ osint.TargetType, v string) osint.ProviderResult {
	return osint.Success(p.name, map[string]interface{}{"value": v})
}

func TestSplitPatterns(t *testing.T) {
	assert.Equal(t, []string{"*.jsonl", "*.csv"}, splitPatterns(" *.jsonl, ,*.csv "))
	assert.Nil(t, splitPatterns(""))
}

func TestMaskOption(t *testing.T) {
	assert.Equal(t, "****cdef", maskOption(osint.ProviderOption{Name: "api_key", Value: "0123456789abcdef"}))
	assert.Equal(t, "****", maskOption(osint.ProviderOption{Name: "Auth_Token", Value: "abc"}))
	assert.Equal(t, "****2345", maskOption(osint.ProviderOption{Name: "identifier", Value: "12345", Encrypted: true}))
	assert.Equal(t, "https://misp.local", maskOption(osint.ProviderOption{Name: "base_url", Value: "https://misp.local"}))
}

func TestSetOptionReplacesCaseInsensitively(t *testing.T) {
	cfg := osint.ProviderConfig{Name: "virustotal", Options: []osint.ProviderOption{{Name: "API_KEY", Value: "old"}}}
	cfg = setOption(cfg, osint.ProviderOption{Name: "api_key", Value: "new"})
	cfg = setOption(cfg, osint.ProviderOption{Name: "timeout", Value: "30s"})
	require.Len(t, cfg.Options, 2)
	assert.Equal(t, "new", cfg.Options[0].Value)
	assert.Equal(t, "timeout", cfg.Options[1].Name)
}

func TestFormatCounts(t *testing.T) {
	assert.Equal(t, "", formatCounts(nil))
	assert.Equal(t, "(abuseipdb=2, virustotal=1)", formatCounts(map[string]int{"virustotal": 1, "abuseipdb": 2}))
}

func TestHandleRequest(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	defer st.Close()

	inv, err := st.CreateInvestigation(ctx, osint.Investigation{Name: "queue"})
	require.NoError(t, err)
	target, err := st.CreateTarget(ctx, osint.Target{InvestigationID: inv.ID, Type: osint.TargetIP, Value: "192.0.2.10"})
	require.NoError(t, err)

	logger := log.New(io.Discard, "", 0)
	registry := providers.NewRegistry(echoProvider{name: "alpha"}, echoProvider{name: "beta"})
	sc := &ServiceCoordinator{
		store:      st,
		bus:        bus.NewNullBus(logger),
		registry:   registry,
		dispatcher: dispatch.New(st, registry, dispatch.Options{Logger: logger}),
		logger:     logger,
		ctx:        ctx,
	}

	require.NoError(t, sc.handleRequest(ctx, bus.AnalysisRequest{TargetID: target.ID, RequestedBy: "test", Tools: []string{"beta"}}))

	results, err := st.ListResults(ctx, target.ID, store.ResultFilter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "beta", results[0].Source)

	got, err := st.GetTarget(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, osint.StatusAnalyzed, got.Status)
	assert.Empty(t, got.Tools, "per-request tools must not be stored on the target")

	// The next request without tools runs every applicable provider.
	require.NoError(t, sc.handleRequest(ctx, bus.AnalysisRequest{TargetID: target.ID, RequestedBy: "test"}))
	results, err = st.ListResults(ctx, target.ID, store.ResultFilter{})
	require.NoError(t, err)
	assert.Len(t, results, 3)

	// Unknown targets are acknowledged and dropped.
	assert.NoError(t, sc.handleRequest(ctx, bus.AnalysisRequest{TargetID: "missing"}))
}

func TestCheckTools(t *testing.T) {
	a := &app{registry: providers.NewRegistry(echoProvider{name: "virustotal"})}

	assert.NoError(t, checkTools(a, []string{"VirusTotal"}, true))
	assert.NoError(t, checkTools(a, []string{"python_api", "hibp"}, false))

	err := checkTools(a, []string{"virustotal", "shodan"}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown provider "shodan"`)
	assert.Contains(t, err.Error(), "intelowl")
}
