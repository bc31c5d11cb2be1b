package credential_test

import (
	"context"
	"testing"

	"credpool-go/internal/credential"
	apperrors "credpool-go/internal/errors"

	"github.com/stretchr/testify/require"
)

func TestImportClassifiesCandidates(t *testing.T) {
	prober := probeTable{
		validGeminiKey: {Valid: true, Message: "ok"},
		quotaGeminiKey: {Valid: false, Message: "quota exhausted", Kind: apperrors.KindQuotaExceeded},
	}
	pool, store := newTestPool(t, prober)
	ctx := context.Background()

	report, err := pool.Import(ctx, "owner-1", credential.ProviderGemini, []credential.Candidate{
		{Raw: validGeminiKey},
		{Raw: "bad-key"},
		{Raw: quotaGeminiKey},
	})
	require.NoError(t, err)

	accepted, quota, rejected := report.Counts()
	require.Equal(t, 1, accepted)
	require.Equal(t, 1, quota)
	require.Equal(t, 1, rejected)

	require.Equal(t, 0, report.Accepted[0].Index)
	require.Equal(t, 1, report.Rejected[0].Index)
	require.Equal(t, apperrors.KindFormatInvalid, report.Rejected[0].Kind)
	require.Equal(t, 2, report.QuotaExceeded[0].Index)

	// Rejected candidates are never persisted.
	total, err := store.CountByProvider(ctx, "owner-1", credential.ProviderGemini)
	require.NoError(t, err)
	require.Equal(t, 2, total)

	// The quota-limited key lands exhausted so a sweep can reclaim it.
	quotaRec, err := store.Get(ctx, "owner-1", report.QuotaExceeded[0].ID)
	require.NoError(t, err)
	require.Equal(t, credential.StateExhausted, quotaRec.State)

	acceptedRec, err := store.Get(ctx, "owner-1", report.Accepted[0].ID)
	require.NoError(t, err)
	require.Equal(t, credential.StateActive, acceptedRec.State)
}

func TestImportAssignsPrioritiesInInputOrderAfterExisting(t *testing.T) {
	pool, store := newTestPool(t, probeTable{})
	ctx := context.Background()

	seedRecord(t, store, &credential.Record{
		ID: "cred-existing", OwnerID: "owner-1", Provider: credential.ProviderGemini,
		Priority: 3, State: credential.StateActive,
	}, validOpenAIKey)

	report, err := pool.Import(ctx, "owner-1", credential.ProviderGemini, []credential.Candidate{
		{Raw: validGeminiKey},
		{Raw: secondGeminiKey},
	})
	require.NoError(t, err)
	require.Len(t, report.Accepted, 2)

	first, err := store.Get(ctx, "owner-1", report.Accepted[0].ID)
	require.NoError(t, err)
	second, err := store.Get(ctx, "owner-1", report.Accepted[1].ID)
	require.NoError(t, err)

	require.Equal(t, 4, first.Priority)
	require.Equal(t, 5, second.Priority)
}

func TestImportPersistsDecryptableCiphertext(t *testing.T) {
	pool, store := newTestPool(t, probeTable{})
	ctx := context.Background()

	report, err := pool.Import(ctx, "owner-1", credential.ProviderGemini, []credential.Candidate{
		{Raw: validGeminiKey},
	})
	require.NoError(t, err)
	require.Len(t, report.Accepted, 1)

	rec, err := store.Get(ctx, "owner-1", report.Accepted[0].ID)
	require.NoError(t, err)
	require.NotEmpty(t, rec.Ciphertext)
	require.NotContains(t, rec.Ciphertext, validGeminiKey)

	plain, err := pool.Decrypt(rec)
	require.NoError(t, err)
	require.Equal(t, validGeminiKey, plain)
}

func TestImportProbePanicRejectsOnlyThatCandidate(t *testing.T) {
	prober := credential.ProberFunc(func(_ context.Context, _ credential.Provider, plaintext string, _ *credential.SubConfig) credential.ProbeResult {
		if plaintext == validGeminiKey {
			panic("probe blew up")
		}
		return credential.ProbeResult{Valid: true, Message: "ok"}
	})
	pool, _ := newTestPool(t, prober)

	report, err := pool.Import(context.Background(), "owner-1", credential.ProviderGemini, []credential.Candidate{
		{Raw: validGeminiKey},
		{Raw: secondGeminiKey},
	})
	require.NoError(t, err)
	require.Len(t, report.Accepted, 1)
	require.Len(t, report.Rejected, 1)
	require.Equal(t, apperrors.KindTransient, report.Rejected[0].Kind)
}

func TestImportUnauthorizedKeyIsRejectedNotPersisted(t *testing.T) {
	prober := probeTable{
		validGeminiKey: {Valid: false, Message: "invalid api key", Kind: apperrors.KindUnauthorized},
	}
	pool, store := newTestPool(t, prober)
	ctx := context.Background()

	report, err := pool.Import(ctx, "owner-1", credential.ProviderGemini, []credential.Candidate{
		{Raw: validGeminiKey},
	})
	require.NoError(t, err)
	require.Len(t, report.Rejected, 1)
	require.Equal(t, apperrors.KindUnauthorized, report.Rejected[0].Kind)

	total, err := store.CountByProvider(ctx, "owner-1", credential.ProviderGemini)
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestImportVertexCarriesSubConfig(t *testing.T) {
	pool, store := newTestPool(t, probeTable{})
	ctx := context.Background()

	sub := &credential.SubConfig{ProjectID: "proj-1", Region: "us-central1"}
	report, err := pool.Import(ctx, "owner-1", credential.ProviderVertex, []credential.Candidate{
		{Raw: "vertex-shaped-token", SubConfig: sub},
	})
	require.NoError(t, err)
	require.Len(t, report.Accepted, 1)

	rec, err := store.Get(ctx, "owner-1", report.Accepted[0].ID)
	require.NoError(t, err)
	require.NotNil(t, rec.SubConfig)
	require.Equal(t, "proj-1", rec.SubConfig.ProjectID)
	require.Equal(t, "us-central1", rec.SubConfig.Region)
}

func TestImportEmptyInputIsANoOp(t *testing.T) {
	pool, store := newTestPool(t, probeTable{})
	ctx := context.Background()

	report, err := pool.Import(ctx, "owner-1", credential.ProviderGemini, nil)
	require.NoError(t, err)
	accepted, quota, rejected := report.Counts()
	require.Zero(t, accepted+quota+rejected)

	total, err := store.CountByProvider(ctx, "owner-1", credential.ProviderGemini)
	require.NoError(t, err)
	require.Zero(t, total)
}
