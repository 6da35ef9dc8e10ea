// Package scoring turns stored analysis results into threat assessments and
// aggregates them per target and per investigation.
package scoring

import (
	"fmt"
	"strings"

	"github.com/Ashfaaq98/osint-console/internal/osint"
)

// AbuseScoreMedium is the AbuseIPDB confidence score from which an
// unflagged IP is rated medium.
const AbuseScoreMedium = 25

// Breach counts from which an exposed account is rated higher.
const (
	BreachCountMedium = 3
	BreachCountHigh   = 10
)

// Domains registered within these many days are rated medium and low.
const (
	NewDomainDays    = 30
	RecentDomainDays = 90
)

type rule func(r osint.AnalysisResult) (osint.ThreatLevel, string)

var rules = map[string]rule{
	"abuseipdb":    assessAbuseIPDB,
	"virustotal":   assessVirusTotal,
	"urlvoid":      assessURLVoid,
	"fastapi":      assessScript,
	"script":       assessScript,
	"whois":        assessWhois,
	"geoip":        assessGeoIP,
	"misp":         assessMISP,
	"intelowl":     assessIntelOwl,
	"opencti":      assessOpenCTI,
	"hibp":         assessHIBP,
	"dorking":      assessDorking,
	"alias_search": assessAliasSearch,
}

// Assess scores a single result. It is defined for every input and returns
// the same assessment for the same result.
func Assess(r osint.AnalysisResult) osint.ThreatAssessment {
	a := osint.ThreatAssessment{
		TargetID:  r.TargetID,
		ResultID:  r.ID,
		Source:    r.Source,
		Level:     osint.LevelClean,
		Timestamp: r.AnalyzedAt,
	}

	if r.Status != osint.ResultSuccess && r.Status != osint.ResultPartial {
		msg := r.Error
		if msg == "" {
			msg = "result status " + string(r.Status)
		}
		a.Description = "no assessment: " + msg
		return a
	}

	fn, ok := rules[strings.ToLower(r.Source)]
	if !ok {
		a.Description = "no scoring rule for source " + r.Source
		return a
	}
	a.Level, a.Description = fn(r)
	return a
}

// AssessAll scores every result, keeping input order.
func AssessAll(results []osint.AnalysisResult) []osint.ThreatAssessment {
	out := make([]osint.ThreatAssessment, len(results))
	for i, r := range results {
		out[i] = Assess(r)
	}
	return out
}

func assessAbuseIPDB(r osint.AnalysisResult) (osint.ThreatLevel, string) {
	var p osint.AbuseIPDBPayload
	if err := osint.DecodePayload(r.Data, &p); err != nil {
		return osint.LevelClean, "unreadable abuseipdb data"
	}
	desc := fmt.Sprintf("abuse confidence %d%% from %d reports", p.AbuseConfidenceScore, p.TotalReports)
	switch {
	case p.Malicious:
		return osint.LevelHigh, "reported malicious, " + desc
	case p.AbuseConfidenceScore >= AbuseScoreMedium:
		return osint.LevelMedium, desc
	case p.AbuseConfidenceScore > 0:
		return osint.LevelLow, desc
	default:
		return osint.LevelClean, desc
	}
}

func assessVirusTotal(r osint.AnalysisResult) (osint.ThreatLevel, string) {
	var p osint.VirusTotalPayload
	if err := osint.DecodePayload(r.Data, &p); err != nil {
		return osint.LevelClean, "unreadable virustotal data"
	}
	level := osint.ParseThreatLevel(p.ThreatLevel)
	desc := fmt.Sprintf("%d of %d engines flagged", p.MaliciousCount+p.SuspiciousCount, p.TotalEngines)
	if p.TotalEngines == 0 {
		desc = "no engine verdicts"
	}
	if p.Malicious {
		level = level.Escalate()
		desc += ", marked malicious"
	}
	return level, desc
}

func assessURLVoid(r osint.AnalysisResult) (osint.ThreatLevel, string) {
	var p osint.URLVoidPayload
	if err := osint.DecodePayload(r.Data, &p); err != nil {
		return osint.LevelClean, "unreadable urlvoid data"
	}
	if !p.Unsafe {
		return osint.LevelClean, "not blacklisted"
	}
	category := strings.ToLower(p.Category)
	desc := fmt.Sprintf("blacklisted by %d engines", p.MaliciousCount)
	if category != "" {
		desc += " as " + category
	}
	switch category {
	case "malware", "phishing":
		return osint.LevelHigh, desc
	default:
		return osint.LevelMedium, desc
	}
}

func assessScript(r osint.AnalysisResult) (osint.ThreatLevel, string) {
	var p osint.ScriptPayload
	if err := osint.DecodePayload(r.Data, &p); err != nil {
		return osint.LevelClean, "unreadable script output"
	}
	label := p.ThreatScore.Level
	if label == "" {
		label = p.ThreatLevel
	}
	level := osint.ParseThreatLevel(label)
	desc := fmt.Sprintf("threat score %d", p.ThreatScore.Score)
	if len(p.ThreatScore.Factors) > 0 {
		desc += ": " + strings.Join(p.ThreatScore.Factors, "; ")
	}
	return level, desc
}

func assessWhois(r osint.AnalysisResult) (osint.ThreatLevel, string) {
	p := osint.WhoisPayload{AgeDays: -1}
	if err := osint.DecodePayload(r.Data, &p); err != nil {
		return osint.LevelClean, "unreadable whois data"
	}
	registrar := p.Registrar
	if registrar == "" {
		registrar = "unknown registrar"
	}
	switch {
	case p.AgeDays < 0:
		return osint.LevelClean, "registration date unknown, " + registrar
	case p.AgeDays < NewDomainDays:
		return osint.LevelMedium, fmt.Sprintf("very recent domain (%d days old), %s", p.AgeDays, registrar)
	case p.AgeDays < RecentDomainDays:
		return osint.LevelLow, fmt.Sprintf("recent domain (%d days old), %s", p.AgeDays, registrar)
	default:
		return osint.LevelClean, fmt.Sprintf("registered %d days ago, %s", p.AgeDays, registrar)
	}
}

// assessMISP rates sightings by the worst event threat level among them.
// Attributes not flagged for IDS cap the rating at low.
func assessMISP(r osint.AnalysisResult) (osint.ThreatLevel, string) {
	var p osint.MISPPayload
	if err := osint.DecodePayload(r.Data, &p); err != nil {
		return osint.LevelClean, "unreadable misp data"
	}
	if p.Hits == 0 {
		return osint.LevelClean, "no MISP sightings"
	}
	desc := fmt.Sprintf("%d MISP sightings in %d events", p.Hits, len(p.Events))
	if p.IDSHits == 0 {
		return osint.LevelLow, desc
	}
	level := osint.LevelMedium
	for _, e := range p.Events {
		if e.ThreatLevel == "high" {
			level = osint.LevelHigh
			desc += ", high threat event: " + e.Info
			break
		}
	}
	return level, desc
}

// assessGeoIP is informational only.
func assessGeoIP(r osint.AnalysisResult) (osint.ThreatLevel, string) {
	var p osint.GeoIPPayload
	if err := osint.DecodePayload(r.Data, &p); err != nil {
		return osint.LevelClean, "unreadable geoip data"
	}
	if p.Private {
		return osint.LevelClean, "private address"
	}
	var parts []string
	for _, s := range []string{p.City, p.Country} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	desc := "located in " + strings.Join(parts, ", ")
	if len(parts) == 0 {
		desc = "location unknown"
	}
	if p.Organization != "" {
		desc += " (" + p.Organization + ")"
	}
	return osint.LevelClean, desc
}

func assessIntelOwl(r osint.AnalysisResult) (osint.ThreatLevel, string) {
	var p osint.IntelOwlPayload
	if err := osint.DecodePayload(r.Data, &p); err != nil {
		return osint.LevelClean, "unreadable intelowl data"
	}
	desc := fmt.Sprintf("IntelOwl verdict %s (%s confidence)", p.Verdict, p.Confidence)
	if p.Summary != "" {
		desc += ": " + p.Summary
	}
	switch p.Verdict {
	case "malicious":
		if p.Confidence == "high" {
			return osint.LevelCritical, desc
		}
		return osint.LevelHigh, desc
	case "suspicious":
		return osint.LevelMedium, desc
	default:
		return osint.LevelClean, desc
	}
}

// assessHIBP rates account exposure. Leaked passwords raise the level by one.
func assessHIBP(r osint.AnalysisResult) (osint.ThreatLevel, string) {
	var p osint.HIBPPayload
	if err := osint.DecodePayload(r.Data, &p); err != nil {
		return osint.LevelClean, "unreadable hibp data"
	}
	if !p.Pwned || p.BreachCount == 0 {
		return osint.LevelClean, "not found in any known breach"
	}
	desc := fmt.Sprintf("found in %d breaches", p.BreachCount)
	level := osint.LevelLow
	switch {
	case p.BreachCount >= BreachCountHigh:
		level = osint.LevelHigh
	case p.BreachCount >= BreachCountMedium:
		level = osint.LevelMedium
	}
	if p.Passwords {
		desc += ", passwords exposed"
		if level != osint.LevelHigh {
			level = level.Escalate()
		}
	}
	return level, desc
}

// assessDorking rates domain exposure by the high priority dorks that matched.
func assessDorking(r osint.AnalysisResult) (osint.ThreatLevel, string) {
	var p osint.SearchPayload
	if err := osint.DecodePayload(r.Data, &p); err != nil {
		return osint.LevelClean, "unreadable dorking data"
	}
	desc := fmt.Sprintf("%d search results from %d dorks", p.TotalResults, p.QueriesRun)
	sensitive := 0
	for _, q := range p.Queries {
		if q.Category == "sensitive" && q.TotalResults > 0 {
			sensitive++
		}
	}
	switch {
	case sensitive > 0:
		return osint.LevelMedium, fmt.Sprintf("%s, %d sensitive exposures", desc, sensitive)
	case len(p.HighValueFindings) > 0:
		return osint.LevelLow, desc + ", findings: " + strings.Join(p.HighValueFindings, ", ")
	default:
		return osint.LevelClean, desc
	}
}

// assessAliasSearch is informational: a public footprint is not a threat.
func assessAliasSearch(r osint.AnalysisResult) (osint.ThreatLevel, string) {
	var p osint.SearchPayload
	if err := osint.DecodePayload(r.Data, &p); err != nil {
		return osint.LevelClean, "unreadable alias search data"
	}
	var found []string
	for _, q := range p.Queries {
		if q.TotalResults > 0 && q.Platform != "" {
			found = append(found, q.Platform)
		}
	}
	if len(found) == 0 {
		return osint.LevelClean, fmt.Sprintf("no presence found on %d platforms", p.QueriesRun)
	}
	return osint.LevelClean, "present on " + strings.Join(found, ", ")
}

func assessOpenCTI(r osint.AnalysisResult) (osint.ThreatLevel, string) {
	var p osint.OpenCTIPayload
	if err := osint.DecodePayload(r.Data, &p); err != nil {
		return osint.LevelClean, "unreadable opencti data"
	}
	if !p.Found {
		return osint.LevelClean, "not known to OpenCTI"
	}
	desc := fmt.Sprintf("OpenCTI score %d, confidence %d, %d indicators", p.Score, p.Confidence, len(p.Indicators))
	if len(p.Labels) > 0 {
		desc += " (" + strings.Join(p.Labels, ", ") + ")"
	}
	if p.ThreatLevel == "informational" {
		return osint.LevelClean, desc
	}
	return osint.ParseThreatLevel(p.ThreatLevel), desc
}
