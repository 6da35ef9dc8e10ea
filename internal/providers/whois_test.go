package providers

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/Ashfaaq98/osint-console/internal/osint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleWhois = `Domain Name: FRESH-LOGIN.EXAMPLE
Registrar: Example Registrar, Inc.
Creation Date: 2025-06-01T10:00:00Z
Registry Expiry Date: 2026-06-01T10:00:00Z
Name Server: NS1.PARKING.EXAMPLE
Name Server: NS2.PARKING.EXAMPLE
Registrar Abuse Contact Email: abuse@registrar.example
Registrar Abuse Contact Email: abuse@registrar.example
`

func newTestWhois(t *testing.T, lookup func(string) (string, error)) *Whois {
	t.Helper()
	p, err := NewWhois(config("whois"), testLogger())
	require.NoError(t, err)
	w := p.(*Whois)
	w.lookup = lookup
	w.now = func() time.Time { return time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC) }
	return w
}

func TestDomainFromString(t *testing.T) {
	tests := map[string]string{
		"http://www.Example.com/path?q=1": "example.com",
		"https://sub.example.com:8443/":   "sub.example.com",
		"www.example.org":                 "example.org",
		"example.net":                     "example.net",
		"localhost":                       "",
		"":                                "",
	}
	for in, want := range tests {
		if got := domainFromString(in); got != want {
			t.Fatalf("domainFromString(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWhoisParsesRegistration(t *testing.T) {
	var queried string
	w := newTestWhois(t, func(domain string) (string, error) {
		queried = domain
		return sampleWhois, nil
	})

	res := w.Analyze(context.Background(), osint.TargetURL, "https://fresh-login.example/account")
	require.Equal(t, osint.ResultSuccess, res.Status, res.Error)
	assert.Equal(t, "fresh-login.example", queried)

	var p osint.WhoisPayload
	require.NoError(t, osint.DecodePayload(res.Data, &p))
	assert.Equal(t, "fresh-login.example", p.Domain)
	assert.Contains(t, p.Registrar, "Example Registrar")
	assert.Equal(t, 9, p.AgeDays)
	assert.Len(t, p.NameServers, 2)
	assert.Equal(t, []string{"abuse@registrar.example"}, p.Emails)
	assert.NotEmpty(t, p.RawSnippet)
}

func TestWhoisCachesByDomain(t *testing.T) {
	var calls int32
	w := newTestWhois(t, func(string) (string, error) {
		atomic.AddInt32(&calls, 1)
		return sampleWhois, nil
	})

	first := w.Analyze(context.Background(), osint.TargetDomain, "fresh-login.example")
	second := w.Analyze(context.Background(), osint.TargetURL, "http://www.fresh-login.example/")
	require.Equal(t, osint.ResultSuccess, first.Status)
	require.Equal(t, osint.ResultSuccess, second.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, first.Data, second.Data)
}

func TestWhoisFailures(t *testing.T) {
	w := newTestWhois(t, func(string) (string, error) { return "", errors.New("connection refused") })

	res := w.Analyze(context.Background(), osint.TargetDomain, "example.com")
	assert.Equal(t, osint.ResultError, res.Status)
	assert.Contains(t, res.Error, "connection refused")

	res = w.Analyze(context.Background(), osint.TargetIP, "1.1.1.1")
	assert.Equal(t, osint.ResultError, res.Status)
	assert.Contains(t, res.Error, "unsupported target type")

	res = w.Analyze(context.Background(), osint.TargetDomain, "intranet")
	assert.Equal(t, osint.ResultError, res.Status)
}

func TestWhoisHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	w := newTestWhois(t, func(string) (string, error) {
		<-release
		return sampleWhois, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := w.Analyze(ctx, osint.TargetDomain, "slow.example")
	assert.Equal(t, osint.ResultError, res.Status)
	assert.Contains(t, res.Error, "cancelled")
}

func TestParseWhoisUnknownDate(t *testing.T) {
	p := parseWhois("example.com", "Registrar: Someone\nCreated: sometime last year\n", time.Now())
	assert.Equal(t, -1, p.AgeDays)
	assert.Equal(t, "Someone", p.Registrar)
}

func TestParseWhoisSnippetKeepsRunesWhole(t *testing.T) {
	// "é" is two bytes, so an odd prefix pushes the byte cap into the middle of a rune.
	raw := "Registrant Organization: " + strings.Repeat("é", rawSnippetMax)
	p := parseWhois("example.fr", raw, time.Now())
	assert.True(t, utf8.ValidString(p.RawSnippet))
	assert.True(t, strings.HasSuffix(p.RawSnippet, "é..."))
	assert.LessOrEqual(t, len(p.RawSnippet), rawSnippetMax+len("..."))
}
