package providers

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/Ashfaaq98/osint-console/internal/osint"
)

const urlVoidBaseURL = "http://api.urlvoid.com/api1000"

// URLVoid checks domain and URL hosts against the URLVoid blacklist engines.
type URLVoid struct {
	apiKey     string
	identifier string
	client     *apiClient
	logger     *log.Logger
}

type urlVoidResponse struct {
	Detections struct {
		Engines []osint.URLVoidEngine `json:"engines"`
	} `json:"detections"`
	Server struct {
		IP          string `json:"ip"`
		CountryCode string `json:"country_code"`
	} `json:"server"`
}

func NewURLVoid(cfg osint.ProviderConfig, logger *log.Logger) (Provider, error) {
	opts := newOptions(cfg)
	timeout, err := opts.duration("timeout", 15*time.Second)
	if err != nil {
		return nil, err
	}
	limiter, err := opts.limiter()
	if err != nil {
		return nil, err
	}
	return &URLVoid{
		apiKey:     opts.str("api_key", ""),
		identifier: opts.str("identifier", ""),
		client:     newAPIClient(opts.str("base_url", urlVoidBaseURL), timeout, limiter, nil),
		logger:     orDiscard(logger),
	}, nil
}

func (u *URLVoid) Name() string { return "urlvoid" }

func (u *URLVoid) SupportedTypes() osint.TypeSet {
	return osint.NewTypeSet(osint.TargetDomain, osint.TargetURL)
}

func (u *URLVoid) Analyze(ctx context.Context, targetType osint.TargetType, value string) osint.ProviderResult {
	if u.apiKey == "" || u.identifier == "" {
		return osint.Failure(u.Name(), "URLVoid API credentials not configured")
	}

	var host string
	switch targetType {
	case osint.TargetDomain:
		host = strings.ToLower(strings.TrimSpace(value))
	case osint.TargetURL:
		parsed, err := url.Parse(strings.TrimSpace(value))
		if err != nil || parsed.Hostname() == "" {
			return osint.Failure(u.Name(), "could not extract host from URL")
		}
		host = strings.ToLower(parsed.Hostname())
	default:
		return osint.Failure(u.Name(), fmt.Sprintf("unsupported target type: %s", targetType))
	}

	path := fmt.Sprintf("/%s/host/%s?key=%s", url.PathEscape(u.identifier), url.PathEscape(host), url.QueryEscape(u.apiKey))
	var resp urlVoidResponse
	if err := u.client.getJSON(ctx, path, &resp); err != nil {
		u.logger.Printf("urlvoid lookup of %s failed: %v", host, err)
		return osint.Failure(u.Name(), err.Error())
	}

	engines := resp.Detections.Engines
	detected := 0
	for _, e := range engines {
		if e.Detected {
			detected++
		}
	}
	payload := osint.URLVoidPayload{
		DetectionStats: osint.NewDetectionStats(detected, 0, len(engines)-detected, len(engines)),
		Host:           host,
		Unsafe:         detected > 0,
		Category:       categorize(engines),
		Engines:        engines,
		IP:             resp.Server.IP,
		CountryCode:    resp.Server.CountryCode,
	}

	data, err := osint.EncodePayload(payload)
	if err != nil {
		return osint.Failure(u.Name(), err.Error())
	}
	return osint.Success(u.Name(), data)
}

// categorize derives a coarse category from the names of the engines that
// flagged the host. Malware outranks phishing, phishing outranks spam.
func categorize(engines []osint.URLVoidEngine) string {
	category := ""
	rank := 0
	for _, e := range engines {
		if !e.Detected {
			continue
		}
		name := strings.ToLower(e.Name)
		switch {
		case strings.Contains(name, "malware") || strings.Contains(name, "virus") || strings.Contains(name, "malc0de"):
			if rank < 4 {
				category, rank = "malware", 4
			}
		case strings.Contains(name, "phish"):
			if rank < 3 {
				category, rank = "phishing", 3
			}
		case strings.Contains(name, "spam"):
			if rank < 2 {
				category, rank = "spam", 2
			}
		default:
			if rank < 1 {
				category, rank = "suspicious", 1
			}
		}
	}
	return category
}
