package providers

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/url"
	"time"

	"github.com/Ashfaaq98/osint-console/internal/osint"
)

const ipapiBaseURL = "https://ipapi.co"

// GeoIP geolocates IP addresses with ipapi.co. Private and reserved
// addresses are answered locally.
type GeoIP struct {
	apiKey string
	client *apiClient
	cache  *lookupCache
	logger *log.Logger
}

type ipapiResponse struct {
	IP          string  `json:"ip"`
	Error       bool    `json:"error"`
	Reason      string  `json:"reason"`
	City        string  `json:"city"`
	Region      string  `json:"region"`
	RegionCode  string  `json:"region_code"`
	Country     string  `json:"country"`
	CountryName string  `json:"country_name"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Timezone    string  `json:"timezone"`
	ASN         string  `json:"asn"`
	Org         string  `json:"org"`
}

func NewGeoIP(cfg osint.ProviderConfig, logger *log.Logger) (Provider, error) {
	opts := newOptions(cfg)
	timeout, err := opts.duration("timeout", 5*time.Second)
	if err != nil {
		return nil, err
	}
	ttl, err := opts.duration("cache_ttl", 6*time.Hour)
	if err != nil {
		return nil, err
	}
	limiter, err := opts.limiter()
	if err != nil {
		return nil, err
	}
	return &GeoIP{
		apiKey: opts.str("api_key", ""),
		client: newAPIClient(opts.str("base_url", ipapiBaseURL), timeout, limiter, nil),
		cache:  newLookupCache(ttl, 500),
		logger: orDiscard(logger),
	}, nil
}

func (g *GeoIP) Name() string { return "geoip" }

func (g *GeoIP) SupportedTypes() osint.TypeSet {
	return osint.NewTypeSet(osint.TargetIP)
}

func (g *GeoIP) Analyze(ctx context.Context, targetType osint.TargetType, value string) osint.ProviderResult {
	if targetType != osint.TargetIP {
		return osint.Failure(g.Name(), fmt.Sprintf("unsupported target type: %s", targetType))
	}
	ip := net.ParseIP(value)
	if ip == nil {
		return osint.Failure(g.Name(), fmt.Sprintf("invalid IP address: %q", value))
	}
	key := ip.String()

	if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return g.encode(osint.GeoIPPayload{
			IP:           key,
			Private:      true,
			Country:      "Private Network",
			CountryCode:  "XX",
			Organization: "Private Network",
		}, "")
	}

	if data, ok := g.cache.get(key); ok {
		return osint.Success(g.Name(), data)
	}

	path := "/" + url.PathEscape(key) + "/json/"
	if g.apiKey != "" {
		path += "?key=" + url.QueryEscape(g.apiKey)
	}
	var resp ipapiResponse
	if err := g.client.getJSON(ctx, path, &resp); err != nil {
		g.logger.Printf("geoip lookup of %s failed: %v", key, err)
		return osint.Failure(g.Name(), err.Error())
	}
	if resp.Error {
		return osint.Failure(g.Name(), "geolocation unavailable: "+resp.Reason)
	}

	region := resp.Region
	if region == "" {
		region = resp.RegionCode
	}
	return g.encode(osint.GeoIPPayload{
		IP:           key,
		Country:      resp.CountryName,
		CountryCode:  resp.Country,
		Region:       region,
		City:         resp.City,
		Latitude:     resp.Latitude,
		Longitude:    resp.Longitude,
		Timezone:     resp.Timezone,
		Organization: resp.Org,
		ASN:          resp.ASN,
	}, key)
}

func (g *GeoIP) encode(p osint.GeoIPPayload, cacheKey string) osint.ProviderResult {
	data, err := osint.EncodePayload(p)
	if err != nil {
		return osint.Failure(g.Name(), err.Error())
	}
	if cacheKey != "" {
		g.cache.set(cacheKey, data)
	}
	return osint.Success(g.Name(), data)
}
