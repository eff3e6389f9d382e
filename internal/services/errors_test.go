package services_test

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"audibridge/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrTranscodeFailed, "ffmpeg", "decrypt", "exit status 1", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrTranscodeFailed) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"ffmpeg", "decrypt", "exit status 1"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapWithoutDetail(t *testing.T) {
	err := services.Wrap(nil, " ", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient default marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		marker error
		want   int
	}{
		{services.ErrUnsupported, http.StatusBadRequest},
		{services.ErrValidation, http.StatusBadRequest},
		{services.ErrAuthFailed, http.StatusUnauthorized},
		{services.ErrNotFound, http.StatusNotFound},
		{services.ErrRateLimited, http.StatusTooManyRequests},
		{services.ErrTranscodeFailed, http.StatusInternalServerError},
		{services.ErrDownloadFailed, http.StatusBadGateway},
		{services.ErrStorageFailed, http.StatusBadGateway},
		{services.ErrUpstream, http.StatusBadGateway},
		{services.ErrTransient, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		err := services.Wrap(tc.marker, "component", "op", "msg", nil)
		if got := services.HTTPStatus(err); got != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.marker, tc.want, got)
		}
	}
	if got := services.HTTPStatus(errors.New("plain")); got != http.StatusInternalServerError {
		t.Fatalf("expected 500 for unmarked error, got %d", got)
	}
}
