package providers

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/Ashfaaq98/osint-console/internal/osint"
)

const (
	abuseIPDBBaseURL = "https://api.abuseipdb.com/api/v2"

	// abuseMaliciousScore is the confidence at which an address is flagged malicious.
	abuseMaliciousScore = 75
)

// AbuseIPDB checks IP reputation against AbuseIPDB v2.
type AbuseIPDB struct {
	apiKey string
	maxAge int
	client *apiClient
	logger *log.Logger
}

type abuseCheckResponse struct {
	Data struct {
		IPAddress            string `json:"ipAddress"`
		IsWhitelisted        bool   `json:"isWhitelisted"`
		AbuseConfidenceScore int    `json:"abuseConfidenceScore"`
		CountryCode          string `json:"countryCode"`
		UsageType            string `json:"usageType"`
		ISP                  string `json:"isp"`
		Domain               string `json:"domain"`
		TotalReports         int    `json:"totalReports"`
		NumDistinctUsers     int    `json:"numDistinctUsers"`
		LastReportedAt       string `json:"lastReportedAt"`
		IsTor                bool   `json:"isTor"`
	} `json:"data"`
}

func NewAbuseIPDB(cfg osint.ProviderConfig, logger *log.Logger) (Provider, error) {
	opts := newOptions(cfg)
	timeout, err := opts.duration("timeout", 30*time.Second)
	if err != nil {
		return nil, err
	}
	limiter, err := opts.limiter()
	if err != nil {
		return nil, err
	}
	maxAge, err := opts.integer("max_age_days", 90)
	if err != nil {
		return nil, err
	}
	apiKey := opts.str("api_key", "")
	return &AbuseIPDB{
		apiKey: apiKey,
		maxAge: maxAge,
		client: newAPIClient(opts.str("base_url", abuseIPDBBaseURL), timeout, limiter, map[string]string{
			"Key": apiKey,
		}),
		logger: orDiscard(logger),
	}, nil
}

func (a *AbuseIPDB) Name() string { return "abuseipdb" }

func (a *AbuseIPDB) SupportedTypes() osint.TypeSet {
	return osint.NewTypeSet(osint.TargetIP)
}

func (a *AbuseIPDB) Analyze(ctx context.Context, targetType osint.TargetType, value string) osint.ProviderResult {
	if a.apiKey == "" {
		return osint.Failure(a.Name(), "AbuseIPDB API key not configured")
	}
	if targetType != osint.TargetIP {
		return osint.Failure(a.Name(), fmt.Sprintf("unsupported target type: %s", targetType))
	}

	params := url.Values{}
	params.Set("ipAddress", value)
	params.Set("maxAgeInDays", fmt.Sprintf("%d", a.maxAge))
	params.Set("verbose", "")

	var resp abuseCheckResponse
	if err := a.client.getJSON(ctx, "/check?"+params.Encode(), &resp); err != nil {
		a.logger.Printf("abuseipdb check of %s failed: %v", value, err)
		return osint.Failure(a.Name(), err.Error())
	}

	d := resp.Data
	score := d.AbuseConfidenceScore
	// The confidence score is expressed as detections out of 100 so the
	// shared threshold policy applies to it unchanged.
	payload := osint.AbuseIPDBPayload{
		DetectionStats:       osint.NewDetectionStats(score, 0, 100-score, 100),
		IP:                   value,
		AbuseConfidenceScore: score,
		TotalReports:         d.TotalReports,
		NumDistinctUsers:     d.NumDistinctUsers,
		CountryCode:          d.CountryCode,
		ISP:                  d.ISP,
		Domain:               d.Domain,
		UsageType:            d.UsageType,
		IsTor:                d.IsTor,
		IsWhitelisted:        d.IsWhitelisted,
		LastReportedAt:       d.LastReportedAt,
		Malicious:            score >= abuseMaliciousScore,
	}

	data, err := osint.EncodePayload(payload)
	if err != nil {
		return osint.Failure(a.Name(), err.Error())
	}
	return osint.Success(a.Name(), data)
}
