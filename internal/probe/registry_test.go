package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"credpool-go/internal/credential"
	apperrors "credpool-go/internal/errors"

	"github.com/stretchr/testify/require"
)

func newFakeVendor(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestProbeClassifiesSuccess(t *testing.T) {
	srv := newFakeVendor(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "sk-valid", r.Header.Get("Authorization")[len("Bearer "):])
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":[]}`))
	})
	reg := NewRegistry("", WithBaseURL(credential.ProviderOpenAI, srv.URL))

	res := reg.Probe(context.Background(), credential.ProviderOpenAI, "sk-valid", nil)
	require.True(t, res.Valid)
}

func TestProbeClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   apperrors.Kind
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, apperrors.KindUnauthorized},
		{"forbidden", http.StatusForbidden, `{"error":{"message":"forbidden"}}`, apperrors.KindUnauthorized},
		{"quota", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, apperrors.KindQuotaExceeded},
		{"server error", http.StatusInternalServerError, `{}`, apperrors.KindTransient},
		{"bad gateway", http.StatusBadGateway, `{}`, apperrors.KindTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newFakeVendor(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})
			reg := NewRegistry("", WithBaseURL(credential.ProviderOpenAI, srv.URL))

			res := reg.Probe(context.Background(), credential.ProviderOpenAI, "sk-x", nil)
			require.False(t, res.Valid)
			require.Equal(t, tc.kind, res.Kind)
		})
	}
}

func TestProbeGoogleQuotaForbiddenOverride(t *testing.T) {
	srv := newFakeVendor(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"message":"Quota exceeded","errors":[{"reason":"quotaExceeded"}]}}`))
	})
	reg := NewRegistry("", WithBaseURL(credential.ProviderYouTube, srv.URL))

	res := reg.Probe(context.Background(), credential.ProviderYouTube, "AIzaSy-key", nil)
	require.False(t, res.Valid)
	require.Equal(t, apperrors.KindQuotaExceeded, res.Kind)
	require.Equal(t, "Quota exceeded", res.Message)
}

func TestProbeOpenAIInsufficientQuotaOverride(t *testing.T) {
	srv := newFakeVendor(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"You exceeded your current quota","code":"insufficient_quota"}}`))
	})
	reg := NewRegistry("", WithBaseURL(credential.ProviderOpenAI, srv.URL))

	res := reg.Probe(context.Background(), credential.ProviderOpenAI, "sk-x", nil)
	require.Equal(t, apperrors.KindQuotaExceeded, res.Kind)
}

func TestProbeNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // guaranteed connection refused

	reg := NewRegistry("", WithBaseURL(credential.ProviderGemini, srv.URL))
	res := reg.Probe(context.Background(), credential.ProviderGemini, "AIzaSy-key", nil)
	require.False(t, res.Valid)
	require.Equal(t, apperrors.KindTransient, res.Kind)
}

func TestProbeVertexRequiresSubConfig(t *testing.T) {
	reg := NewRegistry("")
	res := reg.Probe(context.Background(), credential.ProviderVertex, "token", nil)
	require.False(t, res.Valid)
	require.Equal(t, apperrors.KindInternal, res.Kind)
}

func TestProbeVertexSendsProjectAndRegion(t *testing.T) {
	var gotPath string
	srv := newFakeVendor(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	})
	reg := NewRegistry("", WithBaseURL(credential.ProviderVertex, srv.URL))

	res := reg.Probe(context.Background(), credential.ProviderVertex, "token",
		&credential.SubConfig{ProjectID: "proj-1", Region: "us-central1"})
	require.True(t, res.Valid)
	require.Contains(t, gotPath, "/projects/proj-1/locations/us-central1/")
}

func TestProbeUnknownProviderIsRejected(t *testing.T) {
	reg := NewRegistry("")
	res := reg.Probe(context.Background(), credential.Provider("mystery"), "x", nil)
	require.False(t, res.Valid)
	require.Equal(t, apperrors.KindFormatInvalid, res.Kind)
}

func TestProbeHonorsContextCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := newFakeVendor(t, func(w http.ResponseWriter, _ *http.Request) {
		<-block
	})
	defer close(block)
	reg := NewRegistry("", WithBaseURL(credential.ProviderOpenAI, srv.URL))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := reg.Probe(ctx, credential.ProviderOpenAI, "sk-x", nil)
	require.False(t, res.Valid)
	require.Equal(t, apperrors.KindTransient, res.Kind)
}
