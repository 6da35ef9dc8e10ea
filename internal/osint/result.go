package osint

import (
	"strings"
	"time"
)

// ProviderResult is the normalized outcome of a single provider call.
// Build values with Success or Failure; the zero value is not meaningful.
type ProviderResult struct {
	Source    string                 `json:"source"`
	Status    ResultStatus           `json:"status"`
	Data      map[string]interface{} `json:"data"`
	Error     string                 `json:"error,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Success wraps a provider payload. A nil payload is stored as an empty map.
func Success(source string, data map[string]interface{}) ProviderResult {
	if data == nil {
		data = map[string]interface{}{}
	}
	return ProviderResult{
		Source:    source,
		Status:    ResultSuccess,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Failure records a failed call. Error results never carry data and always
// carry a message.
func Failure(source, message string) ProviderResult {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "unknown error"
	}
	return ProviderResult{
		Source:    source,
		Status:    ResultError,
		Data:      map[string]interface{}{},
		Error:     message,
		Timestamp: time.Now().UTC(),
	}
}

// Succeeded reports whether the result carries usable data.
func (r ProviderResult) Succeeded() bool {
	return r.Status == ResultSuccess
}

// AnalysisResult is the persisted, append-only record of one provider outcome.
type AnalysisResult struct {
	ID         string                 `json:"id"`
	TargetID   string                 `json:"target_id"`
	Source     string                 `json:"source"`
	Status     ResultStatus           `json:"status"`
	Data       map[string]interface{} `json:"data"`
	Error      string                 `json:"error,omitempty"`
	AnalyzedAt time.Time              `json:"analyzed_at"`
}

// NewAnalysisResult binds a provider outcome to a target under the given id.
func NewAnalysisResult(id, targetID string, r ProviderResult) AnalysisResult {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	data := r.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	return AnalysisResult{
		ID:         id,
		TargetID:   targetID,
		Source:     r.Source,
		Status:     r.Status,
		Data:       data,
		Error:      r.Error,
		AnalyzedAt: ts,
	}
}

// ProviderOption is one configured key/value for a provider.
type ProviderOption struct {
	Name      string `json:"name" yaml:"name"`
	Value     string `json:"value" yaml:"value"`
	Encrypted bool   `json:"encrypted,omitempty" yaml:"encrypted,omitempty"`
}

// ProviderConfig is the stored configuration for one provider.
type ProviderConfig struct {
	Name    string           `json:"name" yaml:"name"`
	Active  bool             `json:"active" yaml:"active"`
	Options []ProviderOption `json:"options,omitempty" yaml:"options,omitempty"`
}

// Option looks up an option by name, ignoring case.
func (c ProviderConfig) Option(name string) (string, bool) {
	for _, o := range c.Options {
		if strings.EqualFold(o.Name, name) {
			return o.Value, true
		}
	}
	return "", false
}

// OptionMap returns the options keyed by lower-cased name. Later entries win.
func (c ProviderConfig) OptionMap() map[string]string {
	m := make(map[string]string, len(c.Options))
	for _, o := range c.Options {
		m[strings.ToLower(o.Name)] = o.Value
	}
	return m
}
