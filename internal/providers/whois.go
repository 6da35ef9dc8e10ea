package providers

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Ashfaaq98/osint-console/internal/osint"
	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
	"golang.org/x/time/rate"
)

var (
	reRegistrar   = regexp.MustCompile(`(?i)Registrar:\s*(.+)`)
	reCreated     = regexp.MustCompile(`(?i)(?:Creation Date|Registered on|Registered Date|Domain Registration Date|Created):?\s*(.+)`)
	reExpires     = regexp.MustCompile(`(?i)(?:Registry Expiry Date|Expiration Date|Expiry Date|Expires on):?\s*(.+)`)
	reNameServer  = regexp.MustCompile(`(?i)Name Server:\s*([^\s\r\n]+)`)
	reEmail       = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	whoisLayouts  = []string{time.RFC3339, "2006-01-02T15:04:05Z", "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02", "02-Jan-2006", "2006.01.02", "02/01/2006"}
	rawSnippetMax = 800
)

// Whois looks up domain registration data. Results are cached per domain.
type Whois struct {
	server  string
	timeout time.Duration
	limiter *rate.Limiter
	cache   *lookupCache
	now     func() time.Time
	lookup  func(domain string) (string, error)
	logger  *log.Logger
}

func NewWhois(cfg osint.ProviderConfig, logger *log.Logger) (Provider, error) {
	opts := newOptions(cfg)
	timeout, err := opts.duration("timeout", 10*time.Second)
	if err != nil {
		return nil, err
	}
	ttl, err := opts.duration("cache_ttl", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	limiter, err := opts.limiter()
	if err != nil {
		return nil, err
	}
	w := &Whois{
		server:  opts.str("server", ""),
		timeout: timeout,
		limiter: limiter,
		cache:   newLookupCache(ttl, 500),
		now:     time.Now,
		logger:  orDiscard(logger),
	}
	client := whois.NewClient().SetTimeout(timeout)
	w.lookup = func(domain string) (string, error) {
		if w.server != "" {
			return client.Whois(domain, w.server)
		}
		return client.Whois(domain)
	}
	return w, nil
}

func (w *Whois) Name() string { return "whois" }

func (w *Whois) SupportedTypes() osint.TypeSet {
	return osint.NewTypeSet(osint.TargetDomain, osint.TargetURL)
}

func (w *Whois) Analyze(ctx context.Context, targetType osint.TargetType, value string) osint.ProviderResult {
	var domain string
	switch targetType {
	case osint.TargetDomain, osint.TargetURL:
		domain = domainFromString(value)
	default:
		return osint.Failure(w.Name(), fmt.Sprintf("unsupported target type: %s", targetType))
	}
	if domain == "" {
		return osint.Failure(w.Name(), fmt.Sprintf("no domain in %q", value))
	}

	if data, ok := w.cache.get(domain); ok {
		return osint.Success(w.Name(), data)
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return osint.Failure(w.Name(), fmt.Sprintf("rate limiter: %v", err))
		}
	}

	// The whois client has no context support.
	type reply struct {
		raw string
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		raw, err := w.lookup(domain)
		ch <- reply{raw: raw, err: err}
	}()

	var r reply
	select {
	case <-ctx.Done():
		return osint.Failure(w.Name(), fmt.Sprintf("whois lookup of %s cancelled: %v", domain, ctx.Err()))
	case r = <-ch:
	}
	if r.err != nil {
		w.logger.Printf("whois lookup of %s failed: %v", domain, r.err)
		return osint.Failure(w.Name(), fmt.Sprintf("whois lookup failed: %v", r.err))
	}
	if strings.TrimSpace(r.raw) == "" {
		return osint.Failure(w.Name(), "empty whois response")
	}

	payload := parseWhois(domain, r.raw, w.now())
	data, err := osint.EncodePayload(payload)
	if err != nil {
		return osint.Failure(w.Name(), err.Error())
	}
	w.cache.set(domain, data)
	return osint.Success(w.Name(), data)
}

// parseWhois prefers the structured parser and falls back to line patterns
// for registries it does not understand.
func parseWhois(domain, raw string, now time.Time) osint.WhoisPayload {
	p := osint.WhoisPayload{Domain: domain, AgeDays: -1}

	if info, err := whoisparser.Parse(raw); err == nil {
		if d := info.Domain; d != nil {
			p.CreatedDate = d.CreatedDate
			p.ExpirationDate = d.ExpirationDate
			p.NameServers = d.NameServers
			p.Status = d.Status
		}
		if c := info.Registrar; c != nil {
			p.Registrar = c.Name
		}
		if c := info.Registrant; c != nil {
			p.Organization = c.Organization
			p.Country = c.Country
		}
	}

	if p.Registrar == "" {
		if m := reRegistrar.FindStringSubmatch(raw); len(m) >= 2 {
			p.Registrar = strings.TrimSpace(m[1])
		}
	}
	if p.CreatedDate == "" {
		if m := reCreated.FindStringSubmatch(raw); len(m) >= 2 {
			p.CreatedDate = strings.TrimSpace(m[1])
		}
	}
	if p.ExpirationDate == "" {
		if m := reExpires.FindStringSubmatch(raw); len(m) >= 2 {
			p.ExpirationDate = strings.TrimSpace(m[1])
		}
	}
	if len(p.NameServers) == 0 {
		for _, m := range reNameServer.FindAllStringSubmatch(raw, -1) {
			p.NameServers = append(p.NameServers, strings.ToLower(strings.TrimSpace(m[1])))
		}
	}

	seen := make(map[string]bool)
	for _, e := range reEmail.FindAllString(raw, -1) {
		e = strings.ToLower(e)
		if !seen[e] {
			seen[e] = true
			p.Emails = append(p.Emails, e)
		}
	}

	if created, ok := parseWhoisDate(p.CreatedDate); ok {
		if age := int(now.Sub(created).Hours() / 24); age >= 0 {
			p.AgeDays = age
		}
	}

	p.RawSnippet = raw
	if len(p.RawSnippet) > rawSnippetMax {
		cut := rawSnippetMax
		for cut > 0 && !utf8.RuneStart(raw[cut]) {
			cut--
		}
		p.RawSnippet = raw[:cut] + "..."
	}
	return p
}

func parseWhoisDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range whoisLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	// "2024-01-02T03:04:05.0Z", "2024-01-02 03:04:05 UTC"
	if len(s) >= 10 {
		if t, err := time.Parse("2006-01-02", s[:10]); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// domainFromString extracts the host from a URL or returns a bare domain.
func domainFromString(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") || strings.HasPrefix(s, "www.") {
		if !strings.Contains(s, "://") {
			s = "http://" + s
		}
		u, err := url.Parse(s)
		if err != nil || u.Hostname() == "" {
			return ""
		}
		s = u.Hostname()
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "www."), "/")
	if strings.Count(s, ".") < 1 {
		return ""
	}
	return s
}
