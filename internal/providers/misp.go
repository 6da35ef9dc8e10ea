package providers

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Ashfaaq98/osint-console/internal/osint"
)

// MISP event threat_level_id values.
const (
	mispThreatHigh      = "1"
	mispThreatMedium    = "2"
	mispThreatLow       = "3"
	mispThreatUndefined = "4"
)

// MISP searches a MISP instance for attributes matching the indicator.
type MISP struct {
	apiKey     string
	baseURL    string
	daysBack   int
	maxResults int
	onlyToIDS  bool
	excluded   map[string]bool
	client     *apiClient
	logger     *log.Logger
}

type mispSearchRequest struct {
	ReturnFormat   string   `json:"returnFormat"`
	Value          string   `json:"value"`
	Type           []string `json:"type,omitempty"`
	ToIDS          *bool    `json:"to_ids,omitempty"`
	Last           string   `json:"last,omitempty"`
	IncludeContext bool     `json:"includeContext"`
	Limit          int      `json:"limit,omitempty"`
}

type mispSearchResponse struct {
	Response struct {
		Attribute []mispAttribute `json:"Attribute"`
	} `json:"response"`
}

type mispAttribute struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Category string `json:"category"`
	Value    string `json:"value"`
	ToIDS    bool   `json:"to_ids"`
	EventID  string `json:"event_id"`
	Event    *struct {
		ID            string `json:"id"`
		Info          string `json:"info"`
		Date          string `json:"date"`
		ThreatLevelID string `json:"threat_level_id"`
		Orgc          *struct {
			Name string `json:"name"`
		} `json:"Orgc"`
	} `json:"Event"`
	Tag []struct {
		Name string `json:"name"`
	} `json:"Tag"`
}

func NewMISP(cfg osint.ProviderConfig, logger *log.Logger) (Provider, error) {
	opts := newOptions(cfg)
	timeout, err := opts.duration("timeout", 30*time.Second)
	if err != nil {
		return nil, err
	}
	limiter, err := opts.limiter()
	if err != nil {
		return nil, err
	}
	daysBack, err := opts.integer("days_back", 0)
	if err != nil {
		return nil, err
	}
	maxResults, err := opts.integer("max_results", 50)
	if err != nil {
		return nil, err
	}

	apiKey := opts.str("api_key", "")
	baseURL := opts.str("base_url", "")
	client := newAPIClient(baseURL, timeout, limiter, map[string]string{"Authorization": apiKey})
	if strings.EqualFold(opts.str("verify_tls", "true"), "false") {
		if tr, ok := client.httpClient.Transport.(*http.Transport); ok {
			tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
	}

	excluded := make(map[string]bool)
	for _, org := range strings.Split(opts.str("excluded_orgs", ""), ",") {
		if org = strings.ToLower(strings.TrimSpace(org)); org != "" {
			excluded[org] = true
		}
	}

	return &MISP{
		apiKey:     apiKey,
		baseURL:    baseURL,
		daysBack:   daysBack,
		maxResults: maxResults,
		onlyToIDS:  strings.EqualFold(opts.str("only_to_ids", "false"), "true"),
		excluded:   excluded,
		client:     client,
		logger:     orDiscard(logger),
	}, nil
}

func (m *MISP) Name() string { return "misp" }

func (m *MISP) SupportedTypes() osint.TypeSet {
	return osint.NewTypeSet(osint.TargetIP, osint.TargetDomain, osint.TargetURL, osint.TargetEmail, osint.TargetHash)
}

func (m *MISP) HealthCheck(ctx context.Context) error {
	if err := m.configured(); err != nil {
		return err
	}
	var version map[string]interface{}
	if err := m.client.getJSON(ctx, "/servers/getVersion", &version); err != nil {
		return fmt.Errorf("misp health check failed: %w", err)
	}
	return nil
}

func (m *MISP) configured() error {
	if m.apiKey == "" {
		return fmt.Errorf("MISP API key not configured")
	}
	if m.baseURL == "" {
		return fmt.Errorf("MISP base_url not configured")
	}
	return nil
}

func (m *MISP) Analyze(ctx context.Context, targetType osint.TargetType, value string) osint.ProviderResult {
	if err := m.configured(); err != nil {
		return osint.Failure(m.Name(), err.Error())
	}
	types := mispAttributeTypes(targetType, value)
	if len(types) == 0 {
		return osint.Failure(m.Name(), fmt.Sprintf("unsupported target type: %s", targetType))
	}

	req := mispSearchRequest{
		ReturnFormat:   "json",
		Value:          strings.TrimSpace(value),
		Type:           types,
		IncludeContext: true,
		Limit:          m.maxResults,
	}
	if m.daysBack > 0 {
		req.Last = fmt.Sprintf("%dd", m.daysBack)
	}
	if m.onlyToIDS {
		toIDS := true
		req.ToIDS = &toIDS
	}
	body, err := json.Marshal(req)
	if err != nil {
		return osint.Failure(m.Name(), fmt.Sprintf("failed to encode search: %v", err))
	}

	resp, err := m.client.do(ctx, http.MethodPost, "/attributes/restSearch", bytes.NewReader(body))
	if err != nil {
		m.logger.Printf("misp search of %s failed: %v", value, err)
		return osint.Failure(m.Name(), err.Error())
	}
	defer resp.Body.Close()
	var out mispSearchResponse
	if err := decodeResponse(resp, &out); err != nil {
		m.logger.Printf("misp search of %s failed: %v", value, err)
		return osint.Failure(m.Name(), err.Error())
	}

	data, err := osint.EncodePayload(m.summarize(req.Value, types, out.Response.Attribute))
	if err != nil {
		return osint.Failure(m.Name(), err.Error())
	}
	return osint.Success(m.Name(), data)
}

func (m *MISP) summarize(value string, types []string, attrs []mispAttribute) osint.MISPPayload {
	p := osint.MISPPayload{Indicator: value, Types: types}
	categories := make(map[string]bool)
	tags := make(map[string]bool)
	events := make(map[string]bool)

	for _, a := range attrs {
		org := ""
		if a.Event != nil && a.Event.Orgc != nil {
			org = a.Event.Orgc.Name
		}
		if m.excluded[strings.ToLower(org)] {
			continue
		}
		p.Hits++
		if a.ToIDS {
			p.IDSHits++
		}
		if a.Category != "" {
			categories[a.Category] = true
		}
		for _, t := range a.Tag {
			tags[t.Name] = true
		}
		if a.Event == nil || events[a.Event.ID] {
			continue
		}
		events[a.Event.ID] = true
		p.Events = append(p.Events, osint.MISPEventRef{
			ID:          a.Event.ID,
			Info:        a.Event.Info,
			Org:         org,
			ThreatLevel: mispThreatLevel(a.Event.ThreatLevelID),
			Date:        a.Event.Date,
		})
	}
	p.Categories = sortedKeys(categories)
	p.Tags = sortedKeys(tags)
	return p
}

// mispAttributeTypes maps a target to the MISP attribute types to search.
func mispAttributeTypes(targetType osint.TargetType, value string) []string {
	switch targetType {
	case osint.TargetIP:
		return []string{"ip-src", "ip-dst"}
	case osint.TargetDomain:
		return []string{"domain", "hostname"}
	case osint.TargetURL:
		return []string{"url"}
	case osint.TargetEmail:
		return []string{"email-src", "email-dst"}
	case osint.TargetHash:
		switch len(strings.TrimSpace(value)) {
		case 32:
			return []string{"md5"}
		case 40:
			return []string{"sha1"}
		case 64:
			return []string{"sha256"}
		default:
			return []string{"md5", "sha1", "sha256"}
		}
	}
	return nil
}

func mispThreatLevel(id string) string {
	switch id {
	case mispThreatHigh:
		return "high"
	case mispThreatMedium:
		return "medium"
	case mispThreatLow:
		return "low"
	case mispThreatUndefined:
		return "undefined"
	default:
		return "unknown"
	}
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
