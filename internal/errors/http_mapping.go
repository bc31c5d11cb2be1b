package errors

import "net/http"

// HTTPStatus maps an error kind to the management API response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindFormatInvalid:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindTransient:
		return http.StatusBadGateway
	case KindEncryptionFailure, KindDecryptionFailure, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ClassifyStatus maps an upstream HTTP status observed during a probe to the
// pool's error taxonomy. 403 is treated as unauthorized unless the response
// body says otherwise; provider-specific overrides live with each probe.
func ClassifyStatus(status int) Kind {
	switch {
	case status == http.StatusOK:
		return ""
	case status == http.StatusTooManyRequests:
		return KindQuotaExceeded
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindUnauthorized
	case status >= 500:
		return KindTransient
	case status >= 400:
		return KindUnauthorized
	default:
		return KindTransient
	}
}
