package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/Ashfaaq98/osint-console/internal/osint"
)

const virusTotalBaseURL = "https://www.virustotal.com/api/v3"

// VirusTotal looks up IPs, domains, URLs and file hashes in VirusTotal v3.
type VirusTotal struct {
	apiKey string
	client *apiClient
	logger *log.Logger
}

type vtObjectResponse struct {
	Data struct {
		Type       string       `json:"type"`
		ID         string       `json:"id"`
		Attributes vtAttributes `json:"attributes"`
	} `json:"data"`
}

type vtAttributes struct {
	ASOwner           string `json:"as_owner"`
	Country           string `json:"country"`
	Reputation        int    `json:"reputation"`
	LastAnalysisDate  int64  `json:"last_analysis_date"`
	LastAnalysisStats struct {
		Harmless   int `json:"harmless"`
		Malicious  int `json:"malicious"`
		Suspicious int `json:"suspicious"`
		Undetected int `json:"undetected"`
		Timeout    int `json:"timeout"`
	} `json:"last_analysis_stats"`
	Tags []string `json:"tags"`
}

// NewVirusTotal builds the provider from its config. A missing API key is not
// a construction error: Analyze reports it per call.
func NewVirusTotal(cfg osint.ProviderConfig, logger *log.Logger) (Provider, error) {
	opts := newOptions(cfg)
	timeout, err := opts.duration("timeout", 30*time.Second)
	if err != nil {
		return nil, err
	}
	limiter, err := opts.limiter()
	if err != nil {
		return nil, err
	}
	apiKey := opts.str("api_key", "")
	return &VirusTotal{
		apiKey: apiKey,
		client: newAPIClient(opts.str("base_url", virusTotalBaseURL), timeout, limiter, map[string]string{
			"x-apikey": apiKey,
		}),
		logger: orDiscard(logger),
	}, nil
}

func (v *VirusTotal) Name() string { return "virustotal" }

func (v *VirusTotal) SupportedTypes() osint.TypeSet {
	return osint.NewTypeSet(osint.TargetIP, osint.TargetDomain, osint.TargetURL, osint.TargetHash)
}

func (v *VirusTotal) Analyze(ctx context.Context, targetType osint.TargetType, value string) osint.ProviderResult {
	if v.apiKey == "" {
		return osint.Failure(v.Name(), "VirusTotal API key not configured")
	}

	var path string
	switch targetType {
	case osint.TargetIP:
		path = "/ip_addresses/" + url.PathEscape(value)
	case osint.TargetDomain:
		path = "/domains/" + url.PathEscape(value)
	case osint.TargetURL:
		path = "/urls/" + base64.RawURLEncoding.EncodeToString([]byte(value))
	case osint.TargetHash:
		path = "/files/" + url.PathEscape(value)
	default:
		return osint.Failure(v.Name(), fmt.Sprintf("unsupported target type: %s", targetType))
	}

	payload := osint.VirusTotalPayload{
		Indicator:     value,
		IndicatorType: string(targetType),
	}

	var resp vtObjectResponse
	err := v.client.getJSON(ctx, path, &resp)
	switch {
	case isStatus(err, 404):
		// Not in the VT corpus: nothing has scanned it yet.
		payload.DetectionStats = osint.NewDetectionStats(0, 0, 0, 0)
	case err != nil:
		v.logger.Printf("virustotal lookup of %s %s failed: %v", targetType, value, err)
		return osint.Failure(v.Name(), err.Error())
	default:
		attrs := resp.Data.Attributes
		stats := attrs.LastAnalysisStats
		total := stats.Harmless + stats.Malicious + stats.Suspicious + stats.Undetected
		payload.DetectionStats = osint.NewDetectionStats(stats.Malicious, stats.Suspicious, stats.Harmless, total)
		payload.Found = true
		payload.Malicious = stats.Malicious > 0
		payload.UndetectedCount = stats.Undetected
		payload.Reputation = attrs.Reputation
		payload.Tags = attrs.Tags
		payload.Country = attrs.Country
		payload.ASOwner = attrs.ASOwner
		payload.LastAnalysis = attrs.LastAnalysisDate
	}

	data, err := osint.EncodePayload(payload)
	if err != nil {
		return osint.Failure(v.Name(), err.Error())
	}
	return osint.Success(v.Name(), data)
}
