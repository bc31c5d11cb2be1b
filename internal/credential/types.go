package credential

import (
	"strings"
	"time"
)

// Provider identifies one external API vendor with its own credential format
// and probe behaviour. The set is closed: adding a vendor means adding a
// constant here plus a row in formatRules and a probe implementation.
type Provider string

const (
	ProviderYouTube    Provider = "youtube"
	ProviderGemini     Provider = "gemini"
	ProviderOpenAI     Provider = "openai"
	ProviderAnthropic  Provider = "anthropic"
	ProviderDeepSeek   Provider = "deepseek"
	ProviderVertex     Provider = "vertex"
	ProviderScraperAPI Provider = "scraperapi"
)

// Providers lists every supported provider in a stable order.
func Providers() []Provider {
	return []Provider{
		ProviderYouTube,
		ProviderGemini,
		ProviderOpenAI,
		ProviderAnthropic,
		ProviderDeepSeek,
		ProviderVertex,
		ProviderScraperAPI,
	}
}

// ParseProvider normalizes a raw string into a known Provider.
func ParseProvider(raw string) (Provider, bool) {
	p := Provider(strings.ToLower(strings.TrimSpace(raw)))
	switch p {
	case ProviderYouTube, ProviderGemini, ProviderOpenAI, ProviderAnthropic,
		ProviderDeepSeek, ProviderVertex, ProviderScraperAPI:
		return p, true
	}
	return "", false
}

// State is the lifecycle state of a stored credential.
type State string

const (
	StateActive    State = "active"
	StateExhausted State = "exhausted"
)

// SubConfig carries the extra fields the vertex variant needs. Its presence is
// required for vertex and forbidden for every other provider.
type SubConfig struct {
	ProjectID string `json:"project_id"`
	Region    string `json:"region"`
}

// Diagnostics captures the last validation outcome for a record. Advisory
// only: nothing here affects selection or state-machine correctness.
type Diagnostics struct {
	Message     string    `json:"message,omitempty"`
	Kind        string    `json:"kind,omitempty"`
	CheckedAt   time.Time `json:"checked_at,omitempty"`
	Revalidated int       `json:"revalidated,omitempty"`
	// History keeps the most recent probe messages, newest last.
	History []string `json:"history,omitempty"`
}

// AppendHistory records a probe message, keeping the last few entries.
func (d *Diagnostics) AppendHistory(msg string) {
	if msg == "" {
		return
	}
	d.History = append(d.History, msg)
	if len(d.History) > 10 {
		d.History = d.History[len(d.History)-10:]
	}
}

// Record is one stored credential. The plaintext secret exists only inside a
// validate-or-use operation; at rest and across the API only Ciphertext is
// carried.
type Record struct {
	ID               string       `json:"id"`
	OwnerID          string       `json:"owner_id"`
	Provider         Provider     `json:"provider"`
	Ciphertext       string       `json:"-"`
	Priority         int          `json:"priority"`
	State            State        `json:"state"`
	IsCurrent        bool         `json:"is_current"`
	LastUsedAt       *time.Time   `json:"last_used_at,omitempty"`
	LastTransitionAt time.Time    `json:"last_transition_at"`
	CreatedAt        time.Time    `json:"created_at"`
	Diagnostics      *Diagnostics `json:"diagnostics,omitempty"`
	SubConfig        *SubConfig   `json:"sub_config,omitempty"`
}

// Clone returns a deep copy so callers never share mutable state with the
// store's internal representation.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.LastUsedAt != nil {
		t := *r.LastUsedAt
		out.LastUsedAt = &t
	}
	if r.Diagnostics != nil {
		d := *r.Diagnostics
		d.History = append([]string(nil), r.Diagnostics.History...)
		out.Diagnostics = &d
	}
	if r.SubConfig != nil {
		sc := *r.SubConfig
		out.SubConfig = &sc
	}
	return &out
}

// Active reports whether the record is selectable.
func (r *Record) Active() bool {
	return r != nil && r.State == StateActive
}
