package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

const (
	ErrorCodeInvalidInput           = "INVALID_INPUT"
	ErrorCodeInstrumentNotFound     = "INSTRUMENT_NOT_FOUND"
	ErrorCodeAccountNotFound        = "ACCOUNT_NOT_FOUND"
	ErrorCodeInsufficientBalance    = "INSUFFICIENT_BALANCE"
	ErrorCodeInsufficientHolding    = "INSUFFICIENT_HOLDING"
	ErrorCodeBalanceCeilingExceeded = "BALANCE_CEILING_EXCEEDED"
	ErrorCodeNegativeBalance        = "NEGATIVE_BALANCE"
	ErrorCodeStorageFailure         = "STORAGE_FAILURE"
	ErrorCodeUnauthorized           = "UNAUTHORIZED"
	ErrorCodeRateLimited            = "RATE_LIMITED"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func AssertErrorCode(t *testing.T, resp *httptest.ResponseRecorder, expectedCode string) {
	t.Helper()
	if resp.Code != getHTTPStatusForErrorCode(expectedCode) {
		t.Fatalf("expected status %d, got %d: %s", getHTTPStatusForErrorCode(expectedCode), resp.Code, resp.Body.String())
	}

	var errResp errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}

	if errResp.Code != expectedCode {
		t.Fatalf("expected error code %q, got %q", expectedCode, errResp.Code)
	}
}

func AssertHTTPStatus(t *testing.T, resp *httptest.ResponseRecorder, expectedStatus int) {
	t.Helper()
	if resp.Code != expectedStatus {
		t.Fatalf("expected status %d, got %d: %s", expectedStatus, resp.Code, resp.Body.String())
	}
}

func getHTTPStatusForErrorCode(code string) int {
	switch code {
	case ErrorCodeInvalidInput:
		return http.StatusBadRequest
	case ErrorCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrorCodeInstrumentNotFound, ErrorCodeAccountNotFound:
		return http.StatusNotFound
	case ErrorCodeInsufficientBalance, ErrorCodeInsufficientHolding, ErrorCodeBalanceCeilingExceeded, ErrorCodeNegativeBalance:
		return http.StatusUnprocessableEntity
	case ErrorCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrorCodeStorageFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
