package credential_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"credpool-go/internal/credential"
	apperrors "credpool-go/internal/errors"
	"credpool-go/internal/storage"

	"github.com/stretchr/testify/require"
)

const testMasterKey = "0123456789abcdef0123456789abcdef"

// Sample values that satisfy the per-provider format rules.
var (
	validGeminiKey  = "AIzaSy" + strings.Repeat("A", 33)
	quotaGeminiKey  = "AIzaSy" + strings.Repeat("Q", 33)
	secondGeminiKey = "AIzaSy" + strings.Repeat("B", 33)
	validOpenAIKey  = "sk-" + strings.Repeat("o", 45)
)

// probeTable routes probes by plaintext for deterministic tests.
type probeTable map[string]credential.ProbeResult

func (pt probeTable) Probe(_ context.Context, _ credential.Provider, plaintext string, _ *credential.SubConfig) credential.ProbeResult {
	if res, ok := pt[plaintext]; ok {
		return res
	}
	return credential.ProbeResult{Valid: true, Message: "ok"}
}

func newTestCipher(t *testing.T) *credential.AESCipher {
	t.Helper()
	cipher, err := credential.NewAESCipher([]byte(testMasterKey))
	require.NoError(t, err)
	return cipher
}

func newTestPool(t *testing.T, prober credential.Prober, opts ...func(*credential.Options)) (*credential.Pool, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	options := credential.Options{
		Store:        store,
		Cipher:       newTestCipher(t),
		Prober:       prober,
		ProbeTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return credential.NewPool(options), store
}

// seedRecord inserts one encrypted record directly, bypassing import, so
// tests can control state and transition timestamps.
func seedRecord(t *testing.T, store *storage.MemoryStore, rec *credential.Record, plaintext string) {
	t.Helper()
	cipher := newTestCipher(t)
	ciphertext, err := cipher.Encrypt(plaintext, rec.OwnerID)
	require.NoError(t, err)
	rec.Ciphertext = ciphertext
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	require.NoError(t, store.InsertBatch(context.Background(), []*credential.Record{rec}))
}

func requireKind(t *testing.T, err error, kind apperrors.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, apperrors.KindOf(err))
}
