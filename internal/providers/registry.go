package providers

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/Ashfaaq98/osint-console/internal/osint"
)

// Factory constructs a provider from its stored configuration.
type Factory func(cfg osint.ProviderConfig, logger *log.Logger) (Provider, error)

// ConfigSource supplies the active provider configurations.
type ConfigSource interface {
	ListActiveProviderConfigs(ctx context.Context) ([]osint.ProviderConfig, error)
}

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}

	// aliases map alternative config names onto the provider name used as
	// the result source.
	aliases = map[string]string{
		"python_api":   "fastapi",
		"local_script": "script",
	}
)

func init() {
	Register("virustotal", NewVirusTotal)
	Register("abuseipdb", NewAbuseIPDB)
	Register("urlvoid", NewURLVoid)
	Register("fastapi", NewDelegate)
	Register("python_api", NewDelegate)
	Register("script", NewScript)
	Register("local_script", NewScript)
	Register("whois", NewWhois)
	Register("geoip", NewGeoIP)
	Register("misp", NewMISP)
	Register("intelowl", NewIntelOwl)
	Register("opencti", NewOpenCTI)
	Register("hibp", NewHIBP)
	Register("dorking", NewDorking)
	Register("alias_search", NewAliasSearch)
}

// Register adds or replaces a factory under a canonical name.
func Register(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[normalize(name)] = f
}

// Registered lists the known provider names in lexical order.
func Registered() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookup(name string) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[normalize(name)]
	return f, ok
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// CanonicalName maps a configured or requested provider name to the name its
// results are recorded under.
func CanonicalName(name string) string {
	n := normalize(name)
	if c, ok := aliases[n]; ok {
		return c
	}
	return n
}

// SkippedProvider records a configured provider that could not be built.
type SkippedProvider struct {
	Name   string
	Reason string
}

// Registry holds the providers built for one session. It is immutable after Build.
type Registry struct {
	providers []Provider
	skipped   []SkippedProvider
	logger    *log.Logger
}

// Descriptor is the introspection view of one active provider.
type Descriptor struct {
	Name           string   `json:"name"`
	SupportedTypes []string `json:"supported_types"`
}

// Build constructs every active provider in config order. Unknown names are
// skipped silently; configs the factory rejects are logged and skipped.
func Build(configs []osint.ProviderConfig, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	r := &Registry{logger: logger}
	seen := make(map[string]bool)

	for _, cfg := range configs {
		if !cfg.Active {
			continue
		}
		f, ok := lookup(cfg.Name)
		if !ok {
			logger.Printf("Ignoring unknown provider %s", cfg.Name)
			continue
		}
		p, err := f(cfg, logger)
		if err != nil {
			logger.Printf("Skipping provider %s: %v", cfg.Name, err)
			r.skipped = append(r.skipped, SkippedProvider{Name: normalize(cfg.Name), Reason: err.Error()})
			continue
		}
		if seen[p.Name()] {
			logger.Printf("Skipping duplicate provider %s (configured as %s)", p.Name(), cfg.Name)
			continue
		}
		seen[p.Name()] = true
		r.providers = append(r.providers, p)
	}

	logger.Printf("Built %d analysis providers", len(r.providers))
	return r
}

// Load reads the active configs from src and builds the registry.
func Load(ctx context.Context, src ConfigSource, logger *log.Logger) (*Registry, error) {
	configs, err := src.ListActiveProviderConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load provider configs: %w", err)
	}
	return Build(configs, logger), nil
}

// NewRegistry wraps already-constructed providers. Used by tests and embedders.
func NewRegistry(providers ...Provider) *Registry {
	return &Registry{providers: providers, logger: log.New(io.Discard, "", 0)}
}

// Providers returns the active providers in build order.
func (r *Registry) Providers() []Provider {
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// ProvidersFor returns the active providers that accept t, in build order.
func (r *Registry) ProvidersFor(t osint.TargetType) []Provider {
	var out []Provider
	for _, p := range r.providers {
		if p.SupportedTypes().Has(t) {
			out = append(out, p)
		}
	}
	return out
}

// Get finds an active provider by name or alias, ignoring case.
func (r *Registry) Get(name string) (Provider, bool) {
	want := CanonicalName(name)
	for _, p := range r.providers {
		if p.Name() == want {
			return p, true
		}
	}
	return nil, false
}

// Skipped lists providers whose configuration was rejected at build time.
func (r *Registry) Skipped() []SkippedProvider {
	return r.skipped
}

// Describe lists each active provider with the target types it supports.
func (r *Registry) Describe() []Descriptor {
	out := make([]Descriptor, 0, len(r.providers))
	for _, p := range r.providers {
		types := p.SupportedTypes().Sorted()
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		out = append(out, Descriptor{Name: p.Name(), SupportedTypes: names})
	}
	return out
}

// HealthCheck checks every provider that supports it. Providers without a
// health check report nil.
func (r *Registry) HealthCheck(ctx context.Context) map[string]error {
	results := make(map[string]error, len(r.providers))
	for _, p := range r.providers {
		results[p.Name()] = TryHealthCheck(ctx, p)
	}
	return results
}
