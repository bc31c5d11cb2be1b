package probe

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"credpool-go/internal/credential"
)

// Per-provider request builders. Every endpoint here is a read-only listing
// or account call chosen to cost no (or negligible) quota.

func youtubeCheck(ctx context.Context, baseURL, plaintext string, _ *credential.SubConfig) (*http.Request, error) {
	u := fmt.Sprintf("%s/youtube/v3/i18nLanguages?part=snippet&key=%s", baseURL, url.QueryEscape(plaintext))
	return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
}

func geminiCheck(ctx context.Context, baseURL, plaintext string, _ *credential.SubConfig) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1beta/models?pageSize=1", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-goog-api-key", plaintext)
	return req, nil
}

func openaiCheck(ctx context.Context, baseURL, plaintext string, _ *credential.SubConfig) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+plaintext)
	return req, nil
}

func anthropicCheck(ctx context.Context, baseURL, plaintext string, _ *credential.SubConfig) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/models?limit=1", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", plaintext)
	req.Header.Set("anthropic-version", "2023-06-01")
	return req, nil
}

func deepseekCheck(ctx context.Context, baseURL, plaintext string, _ *credential.SubConfig) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+plaintext)
	return req, nil
}

func vertexCheck(ctx context.Context, baseURL, plaintext string, sub *credential.SubConfig) (*http.Request, error) {
	if sub == nil || sub.ProjectID == "" || sub.Region == "" {
		return nil, fmt.Errorf("vertex probe requires project and region")
	}
	u := fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/gemini-2.0-flash",
		baseURL, url.PathEscape(sub.ProjectID), url.PathEscape(sub.Region))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+plaintext)
	return req, nil
}

func scraperapiCheck(ctx context.Context, baseURL, plaintext string, _ *credential.SubConfig) (*http.Request, error) {
	u := fmt.Sprintf("%s/account?api_key=%s", baseURL, url.QueryEscape(plaintext))
	return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
}
