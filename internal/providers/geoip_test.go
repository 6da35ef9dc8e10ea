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

func TestGeoIPLookup(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/185.220.101.4/json/", r.URL.Path)
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ip":"185.220.101.4","city":"Berlin","region":"Land Berlin","country":"DE",
			"country_name":"Germany","latitude":52.52,"longitude":13.4,"timezone":"Europe/Berlin",
			"asn":"AS208294","org":"Relayon"}`)
	}))
	defer srv.Close()

	p, err := NewGeoIP(config("geoip", "base_url", srv.URL, "api_key", "k"), testLogger())
	require.NoError(t, err)

	res := p.Analyze(context.Background(), osint.TargetIP, "185.220.101.4")
	require.Equal(t, osint.ResultSuccess, res.Status, res.Error)

	var payload osint.GeoIPPayload
	require.NoError(t, osint.DecodePayload(res.Data, &payload))
	assert.Equal(t, "Germany", payload.Country)
	assert.Equal(t, "DE", payload.CountryCode)
	assert.Equal(t, "AS208294", payload.ASN)
	assert.False(t, payload.Private)

	// Second lookup is served from cache.
	res = p.Analyze(context.Background(), osint.TargetIP, "185.220.101.4")
	require.Equal(t, osint.ResultSuccess, res.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGeoIPPrivateAddressMakesNoCall(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	p, err := NewGeoIP(config("geoip", "base_url", srv.URL), testLogger())
	require.NoError(t, err)

	for _, ip := range []string{"10.1.2.3", "192.168.0.1", "127.0.0.1"} {
		res := p.Analyze(context.Background(), osint.TargetIP, ip)
		require.Equal(t, osint.ResultSuccess, res.Status)
		assert.Equal(t, true, res.Data["private"])
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestGeoIPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ip":"8.8.8.8","error":true,"reason":"RateLimited"}`)
	}))
	defer srv.Close()

	p, err := NewGeoIP(config("geoip", "base_url", srv.URL), testLogger())
	require.NoError(t, err)

	res := p.Analyze(context.Background(), osint.TargetIP, "8.8.8.8")
	assert.Equal(t, osint.ResultError, res.Status)
	assert.Contains(t, res.Error, "RateLimited")

	res = p.Analyze(context.Background(), osint.TargetIP, "not-an-ip")
	assert.Equal(t, osint.ResultError, res.Status)
	assert.Contains(t, res.Error, "invalid IP")

	_, err = NewGeoIP(config("geoip", "timeout", "soon"), testLogger())
	assert.Error(t, err)
}
