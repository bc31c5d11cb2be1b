// Package probe ships live credential checks, one per supported provider.
// Each probe hits the cheapest read-only endpoint the vendor exposes and
// classifies the response without spending meaningful quota.
package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"credpool-go/internal/credential"
	apperrors "credpool-go/internal/errors"

	"github.com/tidwall/gjson"
)

const (
	defaultDialTimeout           = 10 * time.Second
	defaultTLSHandshakeTimeout   = 10 * time.Second
	defaultResponseHeaderTimeout = 30 * time.Second

	// maxProbeBody bounds how much of an error envelope we read.
	maxProbeBody = 64 * 1024
)

// checker builds the provider-specific request. The registry owns transport,
// execution and status classification.
type checker func(ctx context.Context, baseURL, plaintext string, sub *credential.SubConfig) (*http.Request, error)

// Registry implements credential.Prober by dispatching to per-provider
// checkers over a shared HTTP client.
type Registry struct {
	cli      *http.Client
	checkers map[credential.Provider]checker
	baseURLs map[credential.Provider]string
}

// Option customizes a Registry.
type Option func(*Registry)

// WithBaseURL redirects a provider's probe to an alternate endpoint; used by
// tests and by deployments that front vendors with a gateway.
func WithBaseURL(provider credential.Provider, baseURL string) Option {
	return func(r *Registry) { r.baseURLs[provider] = baseURL }
}

// WithHTTPClient replaces the shared client.
func WithHTTPClient(cli *http.Client) Option {
	return func(r *Registry) { r.cli = cli }
}

// NewRegistry builds a Registry covering every supported provider.
func NewRegistry(proxyURL string, opts ...Option) *Registry {
	tr := &http.Transport{
		Proxy: proxyFunc(proxyURL),
		DialContext: (&net.Dialer{
			Timeout:   defaultDialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
	r := &Registry{
		cli: &http.Client{Transport: tr},
		checkers: map[credential.Provider]checker{
			credential.ProviderYouTube:    youtubeCheck,
			credential.ProviderGemini:     geminiCheck,
			credential.ProviderOpenAI:     openaiCheck,
			credential.ProviderAnthropic:  anthropicCheck,
			credential.ProviderDeepSeek:   deepseekCheck,
			credential.ProviderVertex:     vertexCheck,
			credential.ProviderScraperAPI: scraperapiCheck,
		},
		baseURLs: map[credential.Provider]string{
			credential.ProviderYouTube:    "https://www.googleapis.com",
			credential.ProviderGemini:     "https://generativelanguage.googleapis.com",
			credential.ProviderOpenAI:     "https://api.openai.com",
			credential.ProviderAnthropic:  "https://api.anthropic.com",
			credential.ProviderDeepSeek:   "https://api.deepseek.com",
			credential.ProviderVertex:     "https://aiplatform.googleapis.com",
			credential.ProviderScraperAPI: "https://api.scraperapi.com",
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func proxyFunc(proxyURL string) func(*http.Request) (*url.URL, error) {
	if proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			return http.ProxyURL(parsed)
		}
	}
	return http.ProxyFromEnvironment
}

// Probe runs the provider's live check and classifies the outcome.
func (r *Registry) Probe(ctx context.Context, provider credential.Provider, plaintext string, sub *credential.SubConfig) credential.ProbeResult {
	check, ok := r.checkers[provider]
	if !ok {
		return credential.ProbeResult{
			Valid:   false,
			Message: fmt.Sprintf("no probe for provider %q", provider),
			Kind:    apperrors.KindFormatInvalid,
		}
	}
	req, err := check(ctx, r.baseURLs[provider], plaintext, sub)
	if err != nil {
		return credential.ProbeResult{Valid: false, Message: err.Error(), Kind: apperrors.KindInternal}
	}

	resp, err := r.cli.Do(req)
	if err != nil {
		return credential.ProbeResult{
			Valid:   false,
			Message: fmt.Sprintf("probe request failed: %v", err),
			Kind:    apperrors.KindTransient,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return credential.ProbeResult{Valid: true, Message: "ok"}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	kind := classify(provider, resp.StatusCode, body)
	return credential.ProbeResult{
		Valid:   false,
		Message: probeMessage(resp.StatusCode, body),
		Kind:    kind,
	}
}

// classify maps an error response to a taxonomy kind. Status is the first
// signal; vendor envelopes override it where a 403 really means quota.
func classify(provider credential.Provider, status int, body []byte) apperrors.Kind {
	kind := apperrors.ClassifyStatus(status)

	switch provider {
	case credential.ProviderYouTube, credential.ProviderGemini, credential.ProviderVertex:
		// Google APIs report quota exhaustion as 403 with a typed reason.
		if status == http.StatusForbidden {
			reason := gjson.GetBytes(body, "error.errors.0.reason").String()
			grpcStatus := gjson.GetBytes(body, "error.status").String()
			if reason == "quotaExceeded" || reason == "rateLimitExceeded" || grpcStatus == "RESOURCE_EXHAUSTED" {
				kind = apperrors.KindQuotaExceeded
			}
		}
	case credential.ProviderOpenAI, credential.ProviderDeepSeek:
		if gjson.GetBytes(body, "error.code").String() == "insufficient_quota" {
			kind = apperrors.KindQuotaExceeded
		}
	case credential.ProviderAnthropic:
		if gjson.GetBytes(body, "error.type").String() == "rate_limit_error" {
			kind = apperrors.KindQuotaExceeded
		}
	}
	return kind
}

// probeMessage prefers the vendor's error message over a bare status line.
func probeMessage(status int, body []byte) string {
	for _, path := range []string{"error.message", "error", "message"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return fmt.Sprintf("probe returned HTTP %d", status)
}
