package scoring

import (
	"testing"
	"time"

	"github.com/Ashfaaq98/osint-console/internal/osint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)

func result(id, source string, data map[string]interface{}, at time.Time) osint.AnalysisResult {
	r := osint.NewAnalysisResult(id, "t1", osint.Success(source, data))
	r.AnalyzedAt = at
	return r
}

func TestAssessAbuseIPDB(t *testing.T) {
	tests := []struct {
		name  string
		data  map[string]interface{}
		level osint.ThreatLevel
	}{
		{"malicious flag wins", map[string]interface{}{"malicious": true, "abuse_confidence_score": 5}, osint.LevelHigh},
		{"score at medium threshold", map[string]interface{}{"abuse_confidence_score": 25}, osint.LevelMedium},
		{"score just below", map[string]interface{}{"abuse_confidence_score": 24}, osint.LevelLow},
		{"zero score", map[string]interface{}{"abuse_confidence_score": 0}, osint.LevelClean},
		{"stringly typed score", map[string]interface{}{"abuse_confidence_score": "60"}, osint.LevelMedium},
		{"empty data", map[string]interface{}{}, osint.LevelClean},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Assess(result("r", "abuseipdb", tt.data, now))
			assert.Equal(t, tt.level, a.Level)
			assert.NotEmpty(t, a.Description)
		})
	}
}

func TestAssessVirusTotalEscalation(t *testing.T) {
	tests := []struct {
		stated    string
		malicious bool
		want      osint.ThreatLevel
	}{
		{"unknown", false, osint.LevelClean},
		{"clean", true, osint.LevelClean},
		{"low", false, osint.LevelLow},
		{"low", true, osint.LevelMedium},
		{"medium", true, osint.LevelHigh},
		{"high", false, osint.LevelHigh},
		{"high", true, osint.LevelCritical},
	}
	for _, tt := range tests {
		data := map[string]interface{}{"threat_level": tt.stated, "malicious": tt.malicious, "total_engines": 90}
		got := Assess(result("r", "virustotal", data, now))
		assert.Equal(t, tt.want, got.Level, "%s malicious=%v", tt.stated, tt.malicious)
	}
}

func TestAssessURLVoidCategories(t *testing.T) {
	assert.Equal(t, osint.LevelHigh, Assess(result("r", "urlvoid", map[string]interface{}{"unsafe": true, "category": "Malware"}, now)).Level)
	assert.Equal(t, osint.LevelHigh, Assess(result("r", "urlvoid", map[string]interface{}{"unsafe": true, "category": "phishing"}, now)).Level)
	assert.Equal(t, osint.LevelMedium, Assess(result("r", "urlvoid", map[string]interface{}{"unsafe": true, "category": "spam"}, now)).Level)
	assert.Equal(t, osint.LevelMedium, Assess(result("r", "urlvoid", map[string]interface{}{"unsafe": true}, now)).Level)
	assert.Equal(t, osint.LevelClean, Assess(result("r", "urlvoid", map[string]interface{}{"unsafe": false, "category": "malware"}, now)).Level)
}

func TestAssessScriptOutput(t *testing.T) {
	data := map[string]interface{}{
		"threat_score": map[string]interface{}{"score": 70, "level": "HIGH", "factors": []interface{}{"Tor exit node"}},
	}
	a := Assess(result("r", "script", data, now))
	assert.Equal(t, osint.LevelHigh, a.Level)
	assert.Contains(t, a.Description, "Tor exit node")

	a = Assess(result("r", "fastapi", map[string]interface{}{"threat_level": "medium"}, now))
	assert.Equal(t, osint.LevelMedium, a.Level)
}

func TestAssessWhoisAge(t *testing.T) {
	tests := []struct {
		data map[string]interface{}
		want osint.ThreatLevel
	}{
		{map[string]interface{}{"age_days": 3, "registrar": "NameCheap"}, osint.LevelMedium},
		{map[string]interface{}{"age_days": 29}, osint.LevelMedium},
		{map[string]interface{}{"age_days": 30}, osint.LevelLow},
		{map[string]interface{}{"age_days": 89}, osint.LevelLow},
		{map[string]interface{}{"age_days": 4000}, osint.LevelClean},
		{map[string]interface{}{"age_days": -1}, osint.LevelClean},
		{map[string]interface{}{"registrar": "no dates"}, osint.LevelClean},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Assess(result("r", "whois", tt.data, now)).Level, "%v", tt.data)
	}
	assert.Contains(t, Assess(result("r", "whois", tests[0].data, now)).Description, "NameCheap")
}

func TestAssessGeoIPIsInformational(t *testing.T) {
	a := Assess(result("r", "geoip", map[string]interface{}{"city": "Frankfurt", "country": "Germany", "organization": "Hetzner"}, now))
	assert.Equal(t, osint.LevelClean, a.Level)
	assert.Equal(t, "located in Frankfurt, Germany (Hetzner)", a.Description)

	a = Assess(result("r", "geoip", map[string]interface{}{"private": true}, now))
	assert.Equal(t, "private address", a.Description)
}

func TestAssessMISPSightings(t *testing.T) {
	assert.Equal(t, osint.LevelClean, Assess(result("r", "misp", map[string]interface{}{"hits": 0}, now)).Level)
	assert.Equal(t, osint.LevelLow, Assess(result("r", "misp", map[string]interface{}{"hits": 2, "ids_hits": 0}, now)).Level)

	events := []interface{}{
		map[string]interface{}{"id": "7", "info": "Phishing wave", "threat_level": "medium"},
	}
	a := Assess(result("r", "misp", map[string]interface{}{"hits": 3, "ids_hits": 1, "events": events}, now))
	assert.Equal(t, osint.LevelMedium, a.Level)

	events = append(events, map[string]interface{}{"id": "9", "info": "Emotet C2", "threat_level": "high"})
	a = Assess(result("r", "misp", map[string]interface{}{"hits": 3, "ids_hits": 1, "events": events}, now))
	assert.Equal(t, osint.LevelHigh, a.Level)
	assert.Contains(t, a.Description, "Emotet C2")
}

func TestAssessIntelOwlVerdicts(t *testing.T) {
	tests := []struct {
		verdict, confidence string
		want                osint.ThreatLevel
	}{
		{"malicious", "high", osint.LevelCritical},
		{"malicious", "medium", osint.LevelHigh},
		{"suspicious", "low", osint.LevelMedium},
		{"benign", "low", osint.LevelClean},
		{"unknown", "info", osint.LevelClean},
	}
	for _, tt := range tests {
		a := Assess(result("r", "intelowl", map[string]interface{}{"verdict": tt.verdict, "confidence": tt.confidence}, now))
		assert.Equal(t, tt.want, a.Level, "%s/%s", tt.verdict, tt.confidence)
		assert.Contains(t, a.Description, tt.verdict)
	}
}

func TestAssessOpenCTI(t *testing.T) {
	assert.Equal(t, osint.LevelClean, Assess(result("r", "opencti", map[string]interface{}{"found": false}, now)).Level)

	a := Assess(result("r", "opencti", map[string]interface{}{
		"found": true, "score": 90, "confidence": 80, "threat_level": "critical", "labels": []interface{}{"c2"},
	}, now))
	assert.Equal(t, osint.LevelCritical, a.Level)
	assert.Contains(t, a.Description, "c2")

	a = Assess(result("r", "opencti", map[string]interface{}{"found": true, "score": 10, "threat_level": "informational"}, now))
	assert.Equal(t, osint.LevelClean, a.Level)
}

func TestAssessHIBPBreaches(t *testing.T) {
	tests := []struct {
		name      string
		count     int
		passwords bool
		want      osint.ThreatLevel
	}{
		{"not pwned", 0, false, osint.LevelClean},
		{"single breach", 1, false, osint.LevelLow},
		{"single breach with passwords", 1, true, osint.LevelMedium},
		{"several breaches", BreachCountMedium, false, osint.LevelMedium},
		{"several with passwords", BreachCountMedium, true, osint.LevelHigh},
		{"many with passwords stays high", BreachCountHigh, true, osint.LevelHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := map[string]interface{}{"pwned": tt.count > 0, "breach_count": tt.count, "passwords_exposed": tt.passwords}
			assert.Equal(t, tt.want, Assess(result("r", "hibp", data, now)).Level)
		})
	}
}

func TestAssessSearchResults(t *testing.T) {
	dorks := map[string]interface{}{
		"queries_run":   3,
		"total_results": 12,
		"queries": []interface{}{
			map[string]interface{}{"category": "infrastructure", "priority": "high", "total_results": 12},
		},
		"high_value_findings": []interface{}{"subdomains"},
	}
	a := Assess(result("r", "dorking", dorks, now))
	assert.Equal(t, osint.LevelLow, a.Level)
	assert.Contains(t, a.Description, "subdomains")

	dorks["queries"] = append(dorks["queries"].([]interface{}),
		map[string]interface{}{"category": "sensitive", "priority": "high", "total_results": 2})
	a = Assess(result("r", "dorking", dorks, now))
	assert.Equal(t, osint.LevelMedium, a.Level)
	assert.Contains(t, a.Description, "1 sensitive exposures")

	assert.Equal(t, osint.LevelClean, Assess(result("r", "dorking", map[string]interface{}{"queries_run": 3}, now)).Level)

	alias := map[string]interface{}{
		"queries_run": 5,
		"queries": []interface{}{
			map[string]interface{}{"platform": "github", "total_results": 3},
			map[string]interface{}{"platform": "linkedin", "total_results": 0},
		},
	}
	a = Assess(result("r", "alias_search", alias, now))
	assert.Equal(t, osint.LevelClean, a.Level)
	assert.Equal(t, "present on github", a.Description)
}

func TestAssessIsTotal(t *testing.T) {
	failed := osint.NewAnalysisResult("r", "t1", osint.Failure("virustotal", "VirusTotal API key not configured"))
	a := Assess(failed)
	assert.Equal(t, osint.LevelClean, a.Level)
	assert.Contains(t, a.Description, "API key not configured")

	assert.Equal(t, osint.LevelClean, Assess(result("r", "shodan", map[string]interface{}{"threat_level": "critical"}, now)).Level)
	assert.Equal(t, osint.LevelClean, Assess(osint.AnalysisResult{}).Level)

	// Wrong shapes do not panic.
	bad := map[string]interface{}{"threat_level": map[string]interface{}{"x": 1}, "malicious": []interface{}{1}}
	assert.NotPanics(t, func() { Assess(result("r", "virustotal", bad, now)) })
	assert.Equal(t, osint.LevelClean, Assess(result("r", "virustotal", bad, now)).Level)
}

func TestAssessIsDeterministic(t *testing.T) {
	r := result("r1", "virustotal", map[string]interface{}{"threat_level": "medium", "malicious": true, "malicious_count": 9, "total_engines": 80}, now)
	assert.Equal(t, Assess(r), Assess(r))
	assert.Equal(t, now, Assess(r).Timestamp)
}

func TestSummarize(t *testing.T) {
	results := []osint.AnalysisResult{
		result("a", "virustotal", map[string]interface{}{"threat_level": "low"}, now.Add(-1*time.Hour)),
		result("b", "abuseipdb", map[string]interface{}{"malicious": true}, now.Add(-48*time.Hour)),
		result("c", "urlvoid", map[string]interface{}{"unsafe": false}, now.Add(-2*time.Hour)),
		result("d", "virustotal", map[string]interface{}{"threat_level": "high", "malicious": true}, now.Add(-30*24*time.Hour)),
		osint.NewAnalysisResult("e", "t1", osint.Failure("fastapi", "analysis service unavailable")),
	}
	results[4].AnalyzedAt = now

	s := Summarize(results, Options{Now: now, TopN: 2})

	assert.Equal(t, 5, s.Total)
	assert.Equal(t, map[string]int{"virustotal": 2, "abuseipdb": 1, "urlvoid": 1, "fastapi": 1}, s.BySource)
	assert.Equal(t, map[string]int{"success": 4, "error": 1}, s.ByStatus)
	assert.Equal(t, osint.LevelCritical, s.Highest)
	assert.Equal(t, now, s.LastAnalyzedAt)

	require.Len(t, s.Top, 2)
	assert.Equal(t, "d", s.Top[0].ResultID)
	assert.Equal(t, osint.LevelCritical, s.Top[0].Level)
	assert.Equal(t, "b", s.Top[1].ResultID)

	require.Len(t, s.Activity, DefaultDays)
	assert.Equal(t, "2025-06-04", s.Activity[0].Day)
	assert.Equal(t, "2025-06-10", s.Activity[6].Day)
	assert.Equal(t, 3, s.Activity[6].Count)
	assert.Equal(t, 1, s.Activity[4].Count)
	total := 0
	for _, b := range s.Activity {
		total += b.Count
	}
	assert.Equal(t, 4, total, "result older than the window is not bucketed")

	assert.Equal(t, s, Summarize(results, Options{Now: now, TopN: 2}))
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, Options{Now: now, Days: 3})
	assert.Equal(t, 0, s.Total)
	assert.Equal(t, osint.LevelClean, s.Highest)
	assert.Empty(t, s.Top)
	require.Len(t, s.Activity, 3)
	assert.True(t, s.LastAnalyzedAt.IsZero())
}

func TestSummarizeInvestigation(t *testing.T) {
	targets := []osint.Target{
		{ID: "t1", Type: osint.TargetIP, Value: "10.0.0.1", Status: osint.StatusAnalyzed},
		{ID: "t2", Type: osint.TargetDomain, Value: "bad.example", Status: osint.StatusAnalyzed},
		{ID: "t3", Type: osint.TargetEmail, Value: "a@b.example", Status: osint.StatusPending},
	}
	bad := result("x", "urlvoid", map[string]interface{}{"unsafe": true, "category": "phishing"}, now)
	bad.TargetID = "t2"
	byTarget := map[string][]osint.AnalysisResult{
		"t1": {result("y", "abuseipdb", map[string]interface{}{"abuse_confidence_score": 10}, now)},
		"t2": {bad},
	}

	s := SummarizeInvestigation(targets, byTarget, Options{Now: now})
	assert.Equal(t, 3, s.Targets)
	assert.Equal(t, map[string]int{"analyzed": 2, "pending": 1}, s.TargetStatuses)
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, osint.LevelHigh, s.Highest)

	require.Len(t, s.PerTarget, 3)
	assert.Equal(t, "t2", s.PerTarget[0].TargetID)
	assert.Equal(t, osint.LevelHigh, s.PerTarget[0].Highest)
	assert.Equal(t, "t1", s.PerTarget[1].TargetID)
	assert.Equal(t, osint.LevelLow, s.PerTarget[1].Highest)
	assert.Equal(t, 0, s.PerTarget[2].Results)
}
