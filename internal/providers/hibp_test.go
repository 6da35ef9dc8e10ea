package providers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/Ashfaaq98/osint-console/internal/osint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockHIBPServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("hibp-api-key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "false", r.URL.Query().Get("truncateResponse"))
		switch r.URL.Path {
		case "/breachedaccount/victim@example.com":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `[
				{"Name":"Adobe","Title":"Adobe","Domain":"adobe.com","BreachDate":"2013-10-04","PwnCount":152445165,
				 "DataClasses":["Email addresses","Password hints","Passwords","Usernames"],"IsVerified":true},
				{"Name":"Canva","Title":"Canva","Domain":"canva.com","BreachDate":"2019-05-24","PwnCount":137272116,
				 "DataClasses":["Email addresses","Names"],"IsVerified":true,"IsSensitive":false},
				{"Name":"Scraped","Title":"Scraped list","BreachDate":"2020-01-01","PwnCount":10,
				 "DataClasses":["Email addresses"],"IsVerified":false}
			]`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestHIBPBreachedAccount(t *testing.T) {
	srv := newMockHIBPServer(t)
	defer srv.Close()

	p, err := NewHIBP(config("hibp", "api_key", "test-key", "base_url", srv.URL), testLogger())
	require.NoError(t, err)

	res := p.Analyze(context.Background(), osint.TargetEmail, " Victim@Example.com ")
	require.Equal(t, osint.ResultSuccess, res.Status, res.Error)

	var payload osint.HIBPPayload
	require.NoError(t, osint.DecodePayload(res.Data, &payload))
	assert.Equal(t, "victim@example.com", payload.Email)
	assert.True(t, payload.Pwned)
	assert.Equal(t, 3, payload.BreachCount)
	assert.Equal(t, 2, payload.VerifiedCount)
	assert.True(t, payload.Passwords)
	assert.Contains(t, payload.DataClasses, "Usernames")
	require.Len(t, payload.Breaches, 3)
	assert.Equal(t, "Scraped", payload.Breaches[0].Name)
	assert.Equal(t, "Adobe", payload.Breaches[2].Name)
}

func TestHIBPNotFoundIsClean(t *testing.T) {
	srv := newMockHIBPServer(t)
	defer srv.Close()

	p, err := NewHIBP(config("hibp", "api_key", "test-key", "base_url", srv.URL), testLogger())
	require.NoError(t, err)

	res := p.Analyze(context.Background(), osint.TargetEmail, "nobody@example.com")
	require.Equal(t, osint.ResultSuccess, res.Status, res.Error)
	assert.Equal(t, false, res.Data["pwned"])
	assert.EqualValues(t, 0, res.Data["breach_count"])
}

func TestHIBPErrors(t *testing.T) {
	srv := newMockHIBPServer(t)
	defer srv.Close()

	p, err := NewHIBP(config("hibp", "api_key", "wrong", "base_url", srv.URL), testLogger())
	require.NoError(t, err)
	res := p.Analyze(context.Background(), osint.TargetEmail, "victim@example.com")
	assert.Equal(t, osint.ResultError, res.Status)
	assert.Contains(t, res.Error, "rejected the API key")

	res = p.Analyze(context.Background(), osint.TargetDomain, "example.com")
	assert.Contains(t, res.Error, "unsupported target type")

	var calls int32
	limited := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer limited.Close()

	p, err = NewHIBP(config("hibp", "api_key", "k", "base_url", limited.URL), testLogger())
	require.NoError(t, err)
	res = p.Analyze(context.Background(), osint.TargetEmail, "victim@example.com")
	assert.Equal(t, osint.ResultError, res.Status)
	assert.Contains(t, res.Error, "rate limit")

	p, err = NewHIBP(config("hibp", "base_url", limited.URL), testLogger())
	require.NoError(t, err)
	res = p.Analyze(context.Background(), osint.TargetEmail, "victim@example.com")
	assert.Contains(t, res.Error, "API key not configured")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
