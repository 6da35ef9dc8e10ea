package osint

import (
	"strings"
	"time"
)

// ThreatLevel is the normalized severity of an assessment.
type ThreatLevel string

const (
	LevelClean    ThreatLevel = "clean"
	LevelLow      ThreatLevel = "low"
	LevelMedium   ThreatLevel = "medium"
	LevelHigh     ThreatLevel = "high"
	LevelCritical ThreatLevel = "critical"
)

var levelRank = map[ThreatLevel]int{
	LevelClean:    0,
	LevelLow:      1,
	LevelMedium:   2,
	LevelHigh:     3,
	LevelCritical: 4,
}

// Rank orders levels from clean (0) to critical (4).
func (l ThreatLevel) Rank() int {
	return levelRank[l]
}

// Escalate returns the next level up. Clean and critical are unchanged.
func (l ThreatLevel) Escalate() ThreatLevel {
	switch l {
	case LevelLow:
		return LevelMedium
	case LevelMedium:
		return LevelHigh
	case LevelHigh:
		return LevelCritical
	default:
		return l
	}
}

// ParseThreatLevel maps free-form provider labels onto a ThreatLevel.
// Anything unrecognised, including "unknown", is clean.
func ParseThreatLevel(s string) ThreatLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "info", "informational":
		return LevelLow
	case "medium", "moderate", "suspicious":
		return LevelMedium
	case "high", "malicious":
		return LevelHigh
	case "critical", "severe":
		return LevelCritical
	default:
		return LevelClean
	}
}

// MaxLevel returns the more severe of a and b.
func MaxLevel(a, b ThreatLevel) ThreatLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ThreatAssessment is a derived, unpersisted view of one analysis result.
type ThreatAssessment struct {
	TargetID    string      `json:"target_id"`
	ResultID    string      `json:"result_id,omitempty"`
	Source      string      `json:"source"`
	Level       ThreatLevel `json:"level"`
	Description string      `json:"description"`
	Timestamp   time.Time   `json:"timestamp"`
}
