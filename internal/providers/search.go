package providers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Ashfaaq98/osint-console/internal/osint"
)

const googleSearchBaseURL = "https://www.googleapis.com"

var priorityRank = map[string]int{"high": 1, "medium": 2, "low": 3}

// searchQuery is a templated Google query. "{target}" is replaced by the
// searched value and "{clean}" by the value without a leading "@".
type searchQuery struct {
	Platform  string
	Category  string
	Objective string
	Priority  string
	Template  string
}

func (q searchQuery) render(value string) string {
	clean := strings.TrimPrefix(value, "@")
	return strings.NewReplacer("{target}", value, "{clean}", clean).Replace(q.Template)
}

type googleSearchResponse struct {
	SearchInformation struct {
		TotalResults string `json:"totalResults"`
	} `json:"searchInformation"`
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

// googleSearch runs query sets against the Google Custom Search JSON API.
// It backs both the dorking and alias_search providers.
type googleSearch struct {
	apiKey     string
	engineID   string
	maxResults int
	priority   string
	client     *apiClient
	logger     *log.Logger
}

func newGoogleSearch(cfg osint.ProviderConfig, logger *log.Logger) (*googleSearch, error) {
	opts := newOptions(cfg)
	timeout, err := opts.duration("timeout", 30*time.Second)
	if err != nil {
		return nil, err
	}
	limiter, err := opts.limiter()
	if err != nil {
		return nil, err
	}
	maxResults, err := opts.integer("max_results", 5)
	if err != nil {
		return nil, err
	}
	if maxResults < 1 || maxResults > 10 {
		return nil, fmt.Errorf("option max_results must be between 1 and 10, got %d", maxResults)
	}
	priority := strings.ToLower(opts.str("priority", "high"))
	if _, ok := priorityRank[priority]; !ok && priority != "all" {
		return nil, fmt.Errorf("option priority must be high, medium, low or all, got %q", priority)
	}
	return &googleSearch{
		apiKey:     opts.str("api_key", ""),
		engineID:   opts.str("cse_id", ""),
		maxResults: maxResults,
		priority:   priority,
		client:     newAPIClient(opts.str("base_url", googleSearchBaseURL), timeout, limiter, nil),
		logger:     orDiscard(logger),
	}, nil
}

func (g *googleSearch) configured() error {
	if g.apiKey == "" {
		return errors.New("Google API key not configured")
	}
	if g.engineID == "" {
		return errors.New("Google Custom Search engine ID (cse_id) not configured")
	}
	return nil
}

// selected keeps the queries at or above the configured priority, highest
// priority first. "medium" keeps high and medium queries.
func (g *googleSearch) selected(queries []searchQuery) []searchQuery {
	var out []searchQuery
	for _, q := range queries {
		if g.priority == "all" || priorityRank[q.Priority] <= priorityRank[g.priority] {
			out = append(out, q)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return priorityRank[out[i].Priority] < priorityRank[out[j].Priority]
	})
	return out
}

// run executes each selected query. Individual failures are recorded in the
// payload; a rate limit or cancelled context stops the remaining queries.
// The returned error is set only when no query succeeded.
func (g *googleSearch) run(ctx context.Context, subject string, queries []searchQuery) (osint.SearchPayload, error) {
	p := osint.SearchPayload{Subject: subject}
	var firstErr error
	for _, q := range g.selected(queries) {
		res := osint.SearchQueryResult{
			Platform:  q.Platform,
			Category:  q.Category,
			Objective: q.Objective,
			Priority:  q.Priority,
			Query:     q.render(subject),
		}
		err := g.search(ctx, &res)
		p.QueriesRun++
		if err != nil {
			res.Error = err.Error()
			p.FailedQueries++
			if firstErr == nil {
				firstErr = err
			}
			p.Queries = append(p.Queries, res)
			if errors.Is(err, errRateLimited) || ctx.Err() != nil {
				g.logger.Printf("stopping search for %s after %d queries: %v", subject, p.QueriesRun, err)
				break
			}
			continue
		}
		p.TotalResults += res.TotalResults
		if res.TotalResults > 0 && q.Priority == "high" {
			label := q.Objective
			if q.Platform != "" {
				label = q.Platform
			}
			p.HighValueFindings = append(p.HighValueFindings, label)
		}
		p.Queries = append(p.Queries, res)
	}
	if p.QueriesRun > 0 && p.FailedQueries == p.QueriesRun {
		return p, firstErr
	}
	return p, nil
}

func (g *googleSearch) search(ctx context.Context, res *osint.SearchQueryResult) error {
	params := url.Values{}
	params.Set("key", g.apiKey)
	params.Set("cx", g.engineID)
	params.Set("q", res.Query)
	params.Set("num", strconv.Itoa(g.maxResults))
	params.Set("safe", "off")

	var resp googleSearchResponse
	if err := g.client.getJSON(ctx, "/customsearch/v1?"+params.Encode(), &resp); err != nil {
		return err
	}
	total, err := strconv.Atoi(resp.SearchInformation.TotalResults)
	if err != nil {
		total = len(resp.Items)
	}
	res.TotalResults = total
	for _, item := range resp.Items {
		res.Hits = append(res.Hits, osint.SearchHit{Title: item.Title, Link: item.Link, Snippet: item.Snippet})
	}
	return nil
}

func (g *googleSearch) analyze(ctx context.Context, name, subject string, queries []searchQuery) osint.ProviderResult {
	if err := g.configured(); err != nil {
		return osint.Failure(name, err.Error())
	}
	p, err := g.run(ctx, subject, queries)
	if err != nil {
		g.logger.Printf("%s search for %s failed: %v", name, subject, err)
		return osint.Failure(name, err.Error())
	}
	data, err := osint.EncodePayload(p)
	if err != nil {
		return osint.Failure(name, err.Error())
	}
	return osint.Success(name, data)
}

// domainDorks are run by the dorking provider against domain targets.
var domainDorks = []searchQuery{
	{Category: "infrastructure", Objective: "subdomains", Priority: "high",
		Template: `site:*.{target} -site:www.{target}`},
	{Category: "infrastructure", Objective: "login portals", Priority: "high",
		Template: `site:{target} (intitle:"login" | inurl:"login" | inurl:"signin" | inurl:"auth")`},
	{Category: "sensitive", Objective: "confidential documents", Priority: "high",
		Template: `site:{target} (filetype:pdf | filetype:xlsx | filetype:docx) ("confidential" | "internal" | "private")`},
	{Category: "sensitive", Objective: "exposed configuration", Priority: "medium",
		Template: `site:{target} (ext:env | ext:ini | ext:conf | ext:yml | ext:sql)`},
	{Category: "infrastructure", Objective: "directory listings", Priority: "medium",
		Template: `site:{target} intitle:"index of"`},
	{Category: "exposure", Objective: "paste site mentions", Priority: "low",
		Template: `"{target}" (site:pastebin.com | site:ghostbin.co | site:justpaste.it)`},
	{Category: "exposure", Objective: "code repository mentions", Priority: "low",
		Template: `"{target}" (site:github.com | site:gitlab.com)`},
}

// aliasPlatforms are the social and developer platforms searched for an alias.
var aliasPlatforms = []searchQuery{
	{Platform: "twitter_x", Priority: "high", Template: `site:x.com "{clean}" OR site:twitter.com "{clean}"`},
	{Platform: "linkedin", Priority: "high", Template: `site:linkedin.com "{clean}"`},
	{Platform: "github", Priority: "high", Template: `site:github.com "{clean}"`},
	{Platform: "instagram", Priority: "high", Template: `site:instagram.com "{clean}"`},
	{Platform: "facebook", Priority: "high", Template: `site:facebook.com "{clean}"`},
	{Platform: "youtube", Priority: "medium", Template: `site:youtube.com "{clean}"`},
	{Platform: "reddit", Priority: "medium", Template: `site:reddit.com "{clean}" OR site:reddit.com "u/{clean}"`},
	{Platform: "medium", Priority: "medium", Template: `site:medium.com "@{clean}"`},
	{Platform: "stackoverflow", Priority: "medium", Template: `site:stackoverflow.com "{clean}"`},
	{Platform: "hackernews", Priority: "medium", Template: `site:news.ycombinator.com "{clean}"`},
	{Platform: "tiktok", Priority: "low", Template: `site:tiktok.com "@{clean}"`},
	{Platform: "telegram", Priority: "low", Template: `"{clean}" telegram`},
	{Platform: "discord", Priority: "low", Template: `"{clean}" discord`},
}

// Dorking runs Google dork templates against a domain.
type Dorking struct {
	search *googleSearch
}

func NewDorking(cfg osint.ProviderConfig, logger *log.Logger) (Provider, error) {
	g, err := newGoogleSearch(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Dorking{search: g}, nil
}

func (d *Dorking) Name() string { return "dorking" }

func (d *Dorking) SupportedTypes() osint.TypeSet {
	return osint.NewTypeSet(osint.TargetDomain)
}

func (d *Dorking) Analyze(ctx context.Context, targetType osint.TargetType, value string) osint.ProviderResult {
	if targetType != osint.TargetDomain {
		return osint.Failure(d.Name(), fmt.Sprintf("unsupported target type: %s", targetType))
	}
	domain := strings.ToLower(strings.TrimSpace(value))
	return d.search.analyze(ctx, d.Name(), domain, domainDorks)
}

// AliasSearch looks for a username across social platforms.
type AliasSearch struct {
	search *googleSearch
}

func NewAliasSearch(cfg osint.ProviderConfig, logger *log.Logger) (Provider, error) {
	g, err := newGoogleSearch(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &AliasSearch{search: g}, nil
}

func (a *AliasSearch) Name() string { return "alias_search" }

func (a *AliasSearch) SupportedTypes() osint.TypeSet {
	return osint.NewTypeSet(osint.TargetAlias)
}

func (a *AliasSearch) Analyze(ctx context.Context, targetType osint.TargetType, value string) osint.ProviderResult {
	if targetType != osint.TargetAlias {
		return osint.Failure(a.Name(), fmt.Sprintf("unsupported target type: %s", targetType))
	}
	alias := strings.TrimSpace(value)
	if strings.TrimPrefix(alias, "@") == "" {
		return osint.Failure(a.Name(), "empty alias")
	}
	return a.search.analyze(ctx, a.Name(), alias, aliasPlatforms)
}
