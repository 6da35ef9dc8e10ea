package providers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/Ashfaaq98/osint-console/internal/osint"
)

const hibpBaseURL = "https://haveibeenpwned.com/api/v3"

// HIBP checks email addresses against HaveIBeenPwned breach data.
type HIBP struct {
	apiKey            string
	includeUnverified bool
	client            *apiClient
	logger            *log.Logger
}

type hibpBreach struct {
	Name        string   `json:"Name"`
	Title       string   `json:"Title"`
	Domain      string   `json:"Domain"`
	BreachDate  string   `json:"BreachDate"`
	PwnCount    int      `json:"PwnCount"`
	DataClasses []string `json:"DataClasses"`
	IsVerified  bool     `json:"IsVerified"`
	IsSensitive bool     `json:"IsSensitive"`
}

func NewHIBP(cfg osint.ProviderConfig, logger *log.Logger) (Provider, error) {
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
	return &HIBP{
		apiKey:            apiKey,
		includeUnverified: strings.EqualFold(opts.str("include_unverified", "false"), "true"),
		client: newAPIClient(opts.str("base_url", hibpBaseURL), timeout, limiter, map[string]string{
			"hibp-api-key": apiKey,
		}),
		logger: orDiscard(logger),
	}, nil
}

func (h *HIBP) Name() string { return "hibp" }

func (h *HIBP) SupportedTypes() osint.TypeSet {
	return osint.NewTypeSet(osint.TargetEmail)
}

func (h *HIBP) Analyze(ctx context.Context, targetType osint.TargetType, value string) osint.ProviderResult {
	if h.apiKey == "" {
		return osint.Failure(h.Name(), "HaveIBeenPwned API key not configured")
	}
	if targetType != osint.TargetEmail {
		return osint.Failure(h.Name(), fmt.Sprintf("unsupported target type: %s", targetType))
	}
	email := strings.ToLower(strings.TrimSpace(value))

	params := url.Values{}
	params.Set("truncateResponse", "false")
	if h.includeUnverified {
		params.Set("includeUnverified", "true")
	}

	var breaches []hibpBreach
	err := h.client.getJSON(ctx, "/breachedaccount/"+url.PathEscape(email)+"?"+params.Encode(), &breaches)
	switch {
	case isStatus(err, http.StatusNotFound):
		// No breaches for this account.
		breaches = nil
	case isStatus(err, http.StatusUnauthorized):
		return osint.Failure(h.Name(), "HaveIBeenPwned rejected the API key")
	case err != nil:
		h.logger.Printf("hibp lookup of %s failed: %v", email, err)
		return osint.Failure(h.Name(), err.Error())
	}

	data, err := osint.EncodePayload(summarizeBreaches(email, breaches))
	if err != nil {
		return osint.Failure(h.Name(), err.Error())
	}
	return osint.Success(h.Name(), data)
}

func summarizeBreaches(email string, breaches []hibpBreach) osint.HIBPPayload {
	p := osint.HIBPPayload{Email: email, BreachCount: len(breaches), Pwned: len(breaches) > 0}
	classes := make(map[string]bool)
	for _, b := range breaches {
		if b.IsVerified {
			p.VerifiedCount++
		}
		for _, c := range b.DataClasses {
			classes[c] = true
			if strings.EqualFold(c, "Passwords") {
				p.Passwords = true
			}
		}
		p.Breaches = append(p.Breaches, osint.Breach{
			Name:        b.Name,
			Title:       b.Title,
			Domain:      b.Domain,
			BreachDate:  b.BreachDate,
			PwnCount:    b.PwnCount,
			DataClasses: b.DataClasses,
			IsVerified:  b.IsVerified,
			IsSensitive: b.IsSensitive,
		})
	}
	// Newest breach first.
	sort.SliceStable(p.Breaches, func(i, j int) bool {
		return p.Breaches[i].BreachDate > p.Breaches[j].BreachDate
	})
	p.DataClasses = sortedKeys(classes)
	return p
}
