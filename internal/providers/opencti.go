package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/Ashfaaq98/osint-console/internal/osint"
)

const openCTIObservablesQuery = `query GetObservables($filters: FilterGroup, $first: Int) {
  stixCyberObservables(filters: $filters, first: $first) {
    edges {
      node {
        id
        entity_type
        observable_value
        x_opencti_score
        confidence
        objectLabel { value }
        indicators {
          edges {
            node {
              name
              pattern
              confidence
              valid_from
              valid_until
              objectLabel { value }
            }
          }
        }
      }
    }
  }
}`

const openCTIAboutQuery = `query { about { version } }`

// OpenCTI looks indicators up as cyber observables in an OpenCTI platform.
type OpenCTI struct {
	token         string
	baseURL       string
	minConfidence int
	client        *apiClient
	cache         *lookupCache
	logger        *log.Logger
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type openCTILabel struct {
	Value string `json:"value"`
}

type openCTIObservable struct {
	ID              string         `json:"id"`
	EntityType      string         `json:"entity_type"`
	ObservableValue string         `json:"observable_value"`
	Score           int            `json:"x_opencti_score"`
	Confidence      int            `json:"confidence"`
	ObjectLabel     []openCTILabel `json:"objectLabel"`
	Indicators      struct {
		Edges []struct {
			Node struct {
				Name        string         `json:"name"`
				Pattern     string         `json:"pattern"`
				Confidence  int            `json:"confidence"`
				ValidFrom   string         `json:"valid_from"`
				ValidUntil  string         `json:"valid_until"`
				ObjectLabel []openCTILabel `json:"objectLabel"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"indicators"`
}

type openCTISearchResponse struct {
	Data struct {
		StixCyberObservables struct {
			Edges []struct {
				Node openCTIObservable `json:"node"`
			} `json:"edges"`
		} `json:"stixCyberObservables"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

func NewOpenCTI(cfg osint.ProviderConfig, logger *log.Logger) (Provider, error) {
	opts := newOptions(cfg)
	timeout, err := opts.duration("timeout", 30*time.Second)
	if err != nil {
		return nil, err
	}
	limiter, err := opts.limiter()
	if err != nil {
		return nil, err
	}
	minConfidence, err := opts.integer("min_confidence", 0)
	if err != nil {
		return nil, err
	}
	ttl, err := opts.duration("cache_ttl", 30*time.Minute)
	if err != nil {
		return nil, err
	}
	token := opts.str("api_key", "")
	baseURL := opts.str("base_url", "")
	return &OpenCTI{
		token:         token,
		baseURL:       baseURL,
		minConfidence: minConfidence,
		client:        newAPIClient(baseURL, timeout, limiter, map[string]string{"Authorization": "Bearer " + token}),
		cache:         newLookupCache(ttl, 500),
		logger:        orDiscard(logger),
	}, nil
}

func (o *OpenCTI) Name() string { return "opencti" }

func (o *OpenCTI) SupportedTypes() osint.TypeSet {
	return osint.NewTypeSet(osint.TargetIP, osint.TargetDomain, osint.TargetURL, osint.TargetEmail, osint.TargetHash)
}

func (o *OpenCTI) configured() error {
	if o.token == "" {
		return errors.New("OpenCTI API token not configured")
	}
	if o.baseURL == "" {
		return errors.New("OpenCTI base_url not configured")
	}
	return nil
}

func (o *OpenCTI) HealthCheck(ctx context.Context) error {
	if err := o.configured(); err != nil {
		return err
	}
	var out struct {
		Errors []graphQLError `json:"errors"`
	}
	if err := o.graphQL(ctx, graphQLRequest{Query: openCTIAboutQuery}, &out); err != nil {
		return fmt.Errorf("opencti health check failed: %w", err)
	}
	if len(out.Errors) > 0 {
		return fmt.Errorf("opencti health check failed: %s", out.Errors[0].Message)
	}
	return nil
}

func (o *OpenCTI) Analyze(ctx context.Context, targetType osint.TargetType, value string) osint.ProviderResult {
	if err := o.configured(); err != nil {
		return osint.Failure(o.Name(), err.Error())
	}
	if !o.SupportedTypes().Has(targetType) {
		return osint.Failure(o.Name(), fmt.Sprintf("unsupported target type: %s", targetType))
	}
	value = strings.TrimSpace(value)
	key := strings.ToLower(value)
	if data, ok := o.cache.get(key); ok {
		return osint.Success(o.Name(), data)
	}

	observables, err := o.SearchObservables(ctx, value)
	if err != nil {
		o.logger.Printf("opencti search of %s failed: %v", value, err)
		return osint.Failure(o.Name(), err.Error())
	}

	data, err := osint.EncodePayload(o.summarize(value, observables))
	if err != nil {
		return osint.Failure(o.Name(), err.Error())
	}
	o.cache.set(key, data)
	return osint.Success(o.Name(), data)
}

// SearchObservables returns the cyber observables whose value equals value.
func (o *OpenCTI) SearchObservables(ctx context.Context, value string) ([]openCTIObservable, error) {
	req := graphQLRequest{
		Query: openCTIObservablesQuery,
		Variables: map[string]interface{}{
			"first": 5,
			"filters": map[string]interface{}{
				"mode":         "and",
				"filterGroups": []interface{}{},
				"filters": []map[string]interface{}{
					{"key": "value", "values": []string{value}},
				},
			},
		},
	}
	var out openCTISearchResponse
	if err := o.graphQL(ctx, req, &out); err != nil {
		return nil, fmt.Errorf("search observables request failed: %w", err)
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("GraphQL error: %s", out.Errors[0].Message)
	}
	observables := make([]openCTIObservable, 0, len(out.Data.StixCyberObservables.Edges))
	for _, edge := range out.Data.StixCyberObservables.Edges {
		observables = append(observables, edge.Node)
	}
	return observables, nil
}

func (o *OpenCTI) graphQL(ctx context.Context, req graphQLRequest, out interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode query: %w", err)
	}
	resp, err := o.client.do(ctx, http.MethodPost, "/graphql", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

// summarize reads the first (best) observable. Indicators under
// min_confidence are dropped.
func (o *OpenCTI) summarize(value string, observables []openCTIObservable) osint.OpenCTIPayload {
	p := osint.OpenCTIPayload{Observable: value, ThreatLevel: "informational"}
	if len(observables) == 0 {
		return p
	}
	obs := observables[0]
	p.Found = true
	p.ObservableID = obs.ID
	p.EntityType = obs.EntityType
	p.Score = obs.Score
	p.Confidence = obs.Confidence
	p.ThreatLevel = openCTIThreatLevel(obs.Score, obs.Confidence)
	for _, l := range obs.ObjectLabel {
		p.Labels = append(p.Labels, l.Value)
	}
	for _, edge := range obs.Indicators.Edges {
		n := edge.Node
		if n.Confidence < o.minConfidence {
			continue
		}
		ind := osint.OpenCTIIndicator{
			Name:       n.Name,
			Pattern:    n.Pattern,
			Confidence: n.Confidence,
			ValidFrom:  n.ValidFrom,
			ValidUntil: n.ValidUntil,
		}
		for _, l := range n.ObjectLabel {
			ind.Labels = append(ind.Labels, l.Value)
		}
		// RFC 3339 timestamps order lexically.
		if n.ValidFrom != "" && (p.FirstSeen == "" || n.ValidFrom < p.FirstSeen) {
			p.FirstSeen = n.ValidFrom
		}
		if n.ValidUntil > p.LastSeen {
			p.LastSeen = n.ValidUntil
		}
		p.Indicators = append(p.Indicators, ind)
	}
	return p
}

// openCTIThreatLevel averages the platform score and the confidence.
func openCTIThreatLevel(score, confidence int) string {
	switch combined := (score + confidence) / 2; {
	case combined >= 80:
		return "critical"
	case combined >= 60:
		return "high"
	case combined >= 40:
		return "medium"
	case combined >= 20:
		return "low"
	default:
		return "informational"
	}
}
