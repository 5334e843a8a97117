package errors

import (
	"errors"
	"net/http"
	"testing"
)

func TestNotFound(t *testing.T) {
	err := NotFound("subject", "99999999")

	if err.HTTPStatus != http.StatusNotFound {
		t.Errorf("HTTPStatus = %d", err.HTTPStatus)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("NotFound does not match ErrNotFound")
	}
	if err.Details["id"] != "99999999" {
		t.Errorf("Details = %v", err.Details)
	}
}

func TestBackendService(t *testing.T) {
	err := BackendService("ThrottlingException", "Rate exceeded")

	if err.Message != "ThrottlingException: Rate exceeded" {
		t.Errorf("Message = %q", err.Message)
	}
	if err.HTTPStatus != http.StatusBadGateway {
		t.Errorf("HTTPStatus = %d", err.HTTPStatus)
	}
	if err.Details["provider_code"] != "ThrottlingException" {
		t.Errorf("Details = %v", err.Details)
	}
}

func TestUnavailableWrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Unavailable(cause, "record store unavailable")

	if !errors.Is(err, ErrUnavailable) {
		t.Error("Unavailable does not match ErrUnavailable")
	}
	if !errors.Is(err, cause) {
		t.Error("Unavailable does not preserve the cause")
	}
	if err.HTTPStatus != http.StatusServiceUnavailable {
		t.Errorf("HTTPStatus = %d", err.HTTPStatus)
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(cause, "failed to load patient record")

	if !errors.Is(err, cause) {
		t.Error("Wrap does not preserve the cause")
	}
	if err.HTTPStatus != http.StatusInternalServerError {
		t.Errorf("HTTPStatus = %d", err.HTTPStatus)
	}

	// Wrapping an AppError keeps its original status and code.
	rewrapped := Wrap(NotFound("subject", "1"), "session start")
	if rewrapped.Code != "NOT_FOUND" || rewrapped.HTTPStatus != http.StatusNotFound {
		t.Errorf("rewrapped = %s/%d", rewrapped.Code, rewrapped.HTTPStatus)
	}
}
