package scoring

import (
	"sort"
	"time"

	"github.com/Ashfaaq98/osint-console/internal/osint"
)

const (
	DefaultDays = 7
	DefaultTopN = 10
)

// Options controls aggregation. Now anchors the activity histogram.
type Options struct {
	Now  time.Time
	Days int
	TopN int
}

func (o Options) withDefaults() Options {
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
	if o.Days <= 0 {
		o.Days = DefaultDays
	}
	if o.TopN <= 0 {
		o.TopN = DefaultTopN
	}
	return o
}

// DayBucket counts results analyzed on one UTC calendar day.
type DayBucket struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// Summary aggregates a set of results.
type Summary struct {
	Total          int                      `json:"total"`
	BySource       map[string]int           `json:"by_source"`
	ByStatus       map[string]int           `json:"by_status"`
	ByLevel        map[string]int           `json:"by_level"`
	Top            []osint.ThreatAssessment `json:"top"`
	Activity       []DayBucket              `json:"activity"`
	Highest        osint.ThreatLevel        `json:"highest"`
	LastAnalyzedAt time.Time                `json:"last_analyzed_at,omitempty"`
}

// Summarize aggregates results: counts by source and status, the most
// severe non-clean assessments, and a daily activity histogram covering the
// last opts.Days days up to opts.Now.
func Summarize(results []osint.AnalysisResult, opts Options) Summary {
	opts = opts.withDefaults()

	s := Summary{
		Total:    len(results),
		BySource: make(map[string]int),
		ByStatus: make(map[string]int),
		ByLevel:  make(map[string]int),
		Highest:  osint.LevelClean,
		Activity: emptyActivity(opts.Now, opts.Days),
	}
	index := make(map[string]int, len(s.Activity))
	for i, b := range s.Activity {
		index[b.Day] = i
	}

	var flagged []osint.ThreatAssessment
	for _, r := range results {
		s.BySource[r.Source]++
		s.ByStatus[string(r.Status)]++
		if r.AnalyzedAt.After(s.LastAnalyzedAt) {
			s.LastAnalyzedAt = r.AnalyzedAt
		}
		if i, ok := index[dayKey(r.AnalyzedAt)]; ok {
			s.Activity[i].Count++
		}

		a := Assess(r)
		s.ByLevel[string(a.Level)]++
		s.Highest = osint.MaxLevel(s.Highest, a.Level)
		if a.Level != osint.LevelClean {
			flagged = append(flagged, a)
		}
	}

	sortBySeverity(flagged)
	if len(flagged) > opts.TopN {
		flagged = flagged[:opts.TopN]
	}
	s.Top = flagged
	return s
}

// TargetSummary is the per-target line of an investigation summary.
type TargetSummary struct {
	TargetID       string             `json:"target_id"`
	Type           osint.TargetType   `json:"type"`
	Value          string             `json:"value"`
	Status         osint.TargetStatus `json:"status"`
	Results        int                `json:"results"`
	Highest        osint.ThreatLevel  `json:"highest"`
	LastAnalyzedAt time.Time          `json:"last_analyzed_at,omitempty"`
}

// InvestigationSummary aggregates every target of an investigation.
type InvestigationSummary struct {
	Targets        int             `json:"targets"`
	TargetStatuses map[string]int  `json:"target_statuses"`
	PerTarget      []TargetSummary `json:"per_target"`
	Summary
}

// SummarizeInvestigation summarizes all results of the given targets. Targets
// are listed most severe first.
func SummarizeInvestigation(targets []osint.Target, byTarget map[string][]osint.AnalysisResult, opts Options) InvestigationSummary {
	opts = opts.withDefaults()

	var all []osint.AnalysisResult
	out := InvestigationSummary{
		Targets:        len(targets),
		TargetStatuses: make(map[string]int),
		PerTarget:      make([]TargetSummary, 0, len(targets)),
	}
	for _, t := range targets {
		out.TargetStatuses[string(t.Status)]++
		results := byTarget[t.ID]
		all = append(all, results...)

		ts := TargetSummary{
			TargetID:       t.ID,
			Type:           t.Type,
			Value:          t.Value,
			Status:         t.Status,
			Results:        len(results),
			Highest:        osint.LevelClean,
			LastAnalyzedAt: t.LastAnalyzedAt,
		}
		for _, r := range results {
			ts.Highest = osint.MaxLevel(ts.Highest, Assess(r).Level)
		}
		out.PerTarget = append(out.PerTarget, ts)
	}

	sort.SliceStable(out.PerTarget, func(i, j int) bool {
		a, b := out.PerTarget[i], out.PerTarget[j]
		if a.Highest.Rank() != b.Highest.Rank() {
			return a.Highest.Rank() > b.Highest.Rank()
		}
		if a.Value != b.Value {
			return a.Value < b.Value
		}
		return a.TargetID < b.TargetID
	})

	out.Summary = Summarize(all, opts)
	return out
}

// sortBySeverity orders critical first, then newest, then by source and id
// so that equal inputs always produce the same order.
func sortBySeverity(list []osint.ThreatAssessment) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Level.Rank() != b.Level.Rank() {
			return a.Level.Rank() > b.Level.Rank()
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.ResultID < b.ResultID
	})
}

func emptyActivity(now time.Time, days int) []DayBucket {
	end := now.UTC()
	buckets := make([]DayBucket, days)
	for i := 0; i < days; i++ {
		buckets[i] = DayBucket{Day: dayKey(end.AddDate(0, 0, i-days+1))}
	}
	return buckets
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
