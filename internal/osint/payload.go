package osint

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Detection levels written by the scan providers. "unknown" means no engine
// reported on the indicator.
const (
	DetectionUnknown = "unknown"
	DetectionClean   = "clean"
	DetectionLow     = "low"
	DetectionMedium  = "medium"
	DetectionHigh    = "high"
)

// DetectionStats is the engine-count block shared by every scan-style payload.
type DetectionStats struct {
	MaliciousCount  int     `json:"malicious_count"`
	SuspiciousCount int     `json:"suspicious_count"`
	HarmlessCount   int     `json:"harmless_count"`
	TotalEngines    int     `json:"total_engines"`
	DetectionRatio  float64 `json:"detection_ratio"`
	ThreatLevel     string  `json:"threat_level"`
}

// NewDetectionStats fills in the ratio and threat level from raw counts.
func NewDetectionStats(malicious, suspicious, harmless, total int) DetectionStats {
	d := DetectionStats{
		MaliciousCount:  malicious,
		SuspiciousCount: suspicious,
		HarmlessCount:   harmless,
		TotalEngines:    total,
		ThreatLevel:     ClassifyDetections(malicious, suspicious, total),
	}
	if total > 0 {
		d.DetectionRatio = float64(malicious+suspicious) / float64(total)
	}
	return d
}

// ClassifyDetections applies the shared threshold policy:
// ratio >= 0.3 high, >= 0.1 medium, > 0 low, 0 clean, no engines unknown.
// Integer comparison keeps 3/10 and 1/10 exactly on their boundaries.
func ClassifyDetections(malicious, suspicious, total int) string {
	if total <= 0 {
		return DetectionUnknown
	}
	flagged := malicious + suspicious
	switch {
	case flagged*10 >= total*3:
		return DetectionHigh
	case flagged*10 >= total:
		return DetectionMedium
	case flagged > 0:
		return DetectionLow
	default:
		return DetectionClean
	}
}

// VirusTotalPayload is the data block written by the virustotal provider.
type VirusTotalPayload struct {
	DetectionStats
	Indicator       string   `json:"indicator"`
	IndicatorType   string   `json:"indicator_type"`
	Found           bool     `json:"found"`
	Malicious       bool     `json:"malicious"`
	UndetectedCount int      `json:"undetected_count"`
	Reputation      int      `json:"reputation"`
	Tags            []string `json:"tags,omitempty"`
	Country         string   `json:"country,omitempty"`
	ASOwner         string   `json:"as_owner,omitempty"`
	LastAnalysis    int64    `json:"last_analysis,omitempty"`
}

// AbuseIPDBPayload is the data block written by the abuseipdb provider.
type AbuseIPDBPayload struct {
	DetectionStats
	IP                   string `json:"ip"`
	AbuseConfidenceScore int    `json:"abuse_confidence_score"`
	TotalReports         int    `json:"total_reports"`
	NumDistinctUsers     int    `json:"num_distinct_users"`
	CountryCode          string `json:"country_code,omitempty"`
	ISP                  string `json:"isp,omitempty"`
	Domain               string `json:"domain,omitempty"`
	UsageType            string `json:"usage_type,omitempty"`
	IsTor                bool   `json:"is_tor"`
	IsWhitelisted        bool   `json:"is_whitelisted"`
	LastReportedAt       string `json:"last_reported_at,omitempty"`
	Malicious            bool   `json:"malicious"`
}

// URLVoidEngine is one blacklist engine entry.
type URLVoidEngine struct {
	Name      string `json:"name"`
	Detected  bool   `json:"detected"`
	Reference string `json:"reference,omitempty"`
}

// URLVoidPayload is the data block written by the urlvoid provider.
type URLVoidPayload struct {
	DetectionStats
	Host        string          `json:"host"`
	Unsafe      bool            `json:"unsafe"`
	Category    string          `json:"category,omitempty"`
	Engines     []URLVoidEngine `json:"engines,omitempty"`
	IP          string          `json:"ip,omitempty"`
	CountryCode string          `json:"country_code,omitempty"`
}

// ScriptThreatScore is the score block emitted by analysis scripts.
type ScriptThreatScore struct {
	Score   int      `json:"score"`
	Level   string   `json:"level"`
	Factors []string `json:"factors,omitempty"`
}

// ScriptPayload is the subset of script / remote service output that scoring
// relies on. Other keys are kept in the stored data but not decoded.
type ScriptPayload struct {
	ThreatScore ScriptThreatScore `json:"threat_score"`
	ThreatLevel string            `json:"threat_level,omitempty"`
}

// EncodePayload flattens a typed payload into the open data map stored on results.
func EncodePayload(payload interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return data, nil
}

// DecodePayload reads a stored data map back into a typed payload. Unknown
// keys are ignored and numeric strings are coerced.
func DecodePayload(data map[string]interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Squash:           true,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create payload decoder: %w", err)
	}
	if err := dec.Decode(data); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}

// WhoisPayload is the data block written by the whois provider. AgeDays is
// -1 when the creation date could not be read.
type WhoisPayload struct {
	Domain         string   `json:"domain"`
	Registrar      string   `json:"registrar,omitempty"`
	CreatedDate    string   `json:"created_date,omitempty"`
	ExpirationDate string   `json:"expiration_date,omitempty"`
	AgeDays        int      `json:"age_days"`
	NameServers    []string `json:"name_servers,omitempty"`
	Status         []string `json:"status,omitempty"`
	Emails         []string `json:"emails,omitempty"`
	Organization   string   `json:"organization,omitempty"`
	Country        string   `json:"country,omitempty"`
	RawSnippet     string   `json:"raw_snippet,omitempty"`
}

// GeoIPPayload is the data block written by the geoip provider.
type GeoIPPayload struct {
	IP           string  `json:"ip"`
	Private      bool    `json:"private"`
	Country      string  `json:"country,omitempty"`
	CountryCode  string  `json:"country_code,omitempty"`
	Region       string  `json:"region,omitempty"`
	City         string  `json:"city,omitempty"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Timezone     string  `json:"timezone,omitempty"`
	Organization string  `json:"organization,omitempty"`
	ASN          string  `json:"asn,omitempty"`
}

// MISPEventRef is a MISP event that carries a matching attribute.
type MISPEventRef struct {
	ID          string `json:"id"`
	Info        string `json:"info"`
	Org         string `json:"org,omitempty"`
	ThreatLevel string `json:"threat_level"`
	Date        string `json:"date,omitempty"`
}

// MISPPayload is the data block written by the misp provider.
type MISPPayload struct {
	Indicator  string         `json:"indicator"`
	Types      []string       `json:"attribute_types"`
	Hits       int            `json:"hits"`
	IDSHits    int            `json:"ids_hits"`
	Categories []string       `json:"categories,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Events     []MISPEventRef `json:"events,omitempty"`
}

// Breach is one HaveIBeenPwned breach an account appears in.
type Breach struct {
	Name        string   `json:"name"`
	Title       string   `json:"title,omitempty"`
	Domain      string   `json:"domain,omitempty"`
	BreachDate  string   `json:"breach_date,omitempty"`
	PwnCount    int      `json:"pwn_count"`
	DataClasses []string `json:"data_classes,omitempty"`
	IsVerified  bool     `json:"is_verified"`
	IsSensitive bool     `json:"is_sensitive"`
}

// HIBPPayload is the data block written by the hibp provider.
type HIBPPayload struct {
	Email         string   `json:"email"`
	Pwned         bool     `json:"pwned"`
	BreachCount   int      `json:"breach_count"`
	VerifiedCount int      `json:"verified_count"`
	Passwords     bool     `json:"passwords_exposed"`
	DataClasses   []string `json:"data_classes,omitempty"`
	Breaches      []Breach `json:"breaches,omitempty"`
}

// SearchHit is a single web search result.
type SearchHit struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet,omitempty"`
}

// SearchQueryResult records one search query and what it found. Platform is
// set for alias searches, Category for dorks.
type SearchQueryResult struct {
	Platform     string      `json:"platform,omitempty"`
	Category     string      `json:"category,omitempty"`
	Objective    string      `json:"objective,omitempty"`
	Priority     string      `json:"priority"`
	Query        string      `json:"query"`
	TotalResults int         `json:"total_results"`
	Hits         []SearchHit `json:"hits,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// SearchPayload is the data block written by the dorking and alias_search
// providers.
type SearchPayload struct {
	Subject           string              `json:"subject"`
	QueriesRun        int                 `json:"queries_run"`
	FailedQueries     int                 `json:"failed_queries"`
	TotalResults      int                 `json:"total_results"`
	HighValueFindings []string            `json:"high_value_findings,omitempty"`
	Queries           []SearchQueryResult `json:"queries"`
}

// IntelOwlPayload is the data block written by the intelowl provider.
// Verdict is one of benign, suspicious, malicious or unknown and Confidence
// one of info, low, medium or high.
type IntelOwlPayload struct {
	Observable        string   `json:"observable"`
	Classification    string   `json:"classification"`
	Mode              string   `json:"mode"`
	JobID             int      `json:"job_id,omitempty"`
	JobStatus         string   `json:"job_status,omitempty"`
	Verdict           string   `json:"verdict"`
	Confidence        string   `json:"confidence"`
	Tags              []string `json:"tags,omitempty"`
	Analyzers         []string `json:"analyzers,omitempty"`
	MaliciousReports  int      `json:"malicious_reports"`
	SuspiciousReports int      `json:"suspicious_reports"`
	EvidenceCount     int      `json:"evidence_count"`
	Summary           string   `json:"summary,omitempty"`
}

// OpenCTIIndicator is a STIX indicator attached to an OpenCTI observable.
type OpenCTIIndicator struct {
	Name       string   `json:"name"`
	Pattern    string   `json:"pattern,omitempty"`
	Confidence int      `json:"confidence"`
	Labels     []string `json:"labels,omitempty"`
	ValidFrom  string   `json:"valid_from,omitempty"`
	ValidUntil string   `json:"valid_until,omitempty"`
}

// OpenCTIPayload is the data block written by the opencti provider.
// ThreatLevel is critical, high, medium, low or informational.
type OpenCTIPayload struct {
	Observable   string             `json:"observable"`
	Found        bool               `json:"found"`
	ObservableID string             `json:"observable_id,omitempty"`
	EntityType   string             `json:"entity_type,omitempty"`
	Score        int                `json:"score"`
	Confidence   int                `json:"confidence"`
	ThreatLevel  string             `json:"threat_level"`
	Labels       []string           `json:"labels,omitempty"`
	Indicators   []OpenCTIIndicator `json:"indicators,omitempty"`
	FirstSeen    string             `json:"first_seen,omitempty"`
	LastSeen     string             `json:"last_seen,omitempty"`
}
