package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOfWalksWrappedChains(t *testing.T) {
	base := E(KindQuotaExceeded, "throttled")
	wrapped := fmt.Errorf("import: %w", base)
	require.Equal(t, KindQuotaExceeded, KindOf(wrapped))
	require.True(t, IsKind(wrapped, KindQuotaExceeded))

	require.Equal(t, KindInternal, KindOf(stderrors.New("plain")))
	require.Equal(t, KindInternal, KindOf(nil))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(KindTransient, "probe request failed", cause)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "transient")
	require.Contains(t, err.Error(), "connection refused")
}

func TestTerminalKinds(t *testing.T) {
	require.True(t, KindQuotaExceeded.Terminal())
	require.True(t, KindUnauthorized.Terminal())
	require.False(t, KindTransient.Terminal())
	require.False(t, KindFormatInvalid.Terminal())
	require.False(t, KindNotFound.Terminal())
}

func TestHTTPStatusMapping(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, HTTPStatus(KindFormatInvalid))
	require.Equal(t, http.StatusUnauthorized, HTTPStatus(KindUnauthorized))
	require.Equal(t, http.StatusTooManyRequests, HTTPStatus(KindQuotaExceeded))
	require.Equal(t, http.StatusNotFound, HTTPStatus(KindNotFound))
	require.Equal(t, http.StatusBadGateway, HTTPStatus(KindTransient))
	require.Equal(t, http.StatusInternalServerError, HTTPStatus(KindInternal))
}

func TestClassifyStatus(t *testing.T) {
	require.Equal(t, KindQuotaExceeded, ClassifyStatus(http.StatusTooManyRequests))
	require.Equal(t, KindUnauthorized, ClassifyStatus(http.StatusUnauthorized))
	require.Equal(t, KindUnauthorized, ClassifyStatus(http.StatusForbidden))
	require.Equal(t, KindUnauthorized, ClassifyStatus(http.StatusNotFound))
	require.Equal(t, KindTransient, ClassifyStatus(http.StatusInternalServerError))
	require.Equal(t, KindTransient, ClassifyStatus(http.StatusServiceUnavailable))
}
