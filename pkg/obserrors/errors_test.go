package obserrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsMatchesByKind(t *testing.T) {
	err := New(NotFound, "memory", "a/b.txt", "no such object")

	if !errors.Is(err, &Error{Kind: NotFound}) {
		t.Error("expected NotFound to match by kind")
	}

	if errors.Is(err, &Error{Kind: AlreadyExists}) {
		t.Error("did not expect AlreadyExists to match")
	}

	wrapped := fmt.Errorf("get failed: %w", err)
	if !IsKind(wrapped, NotFound) {
		t.Error("expected IsKind to see through wrapping")
	}
}

func TestKindOfDefaultsToGeneric(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != Generic {
		t.Errorf("expected Generic, got %v", got)
	}

	if got := KindOf(New(Timeout, "s3", "", "deadline")); got != Timeout {
		t.Errorf("expected Timeout, got %v", got)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout", New(Timeout, "s3", "k", "slow"), true},
		{"retryable generic", &Error{Kind: Generic, Retryable: true}, true},
		{"plain generic", &Error{Kind: Generic}, false},
		{"not found", New(NotFound, "s3", "k", ""), false},
		{"config conflict", New(ConfigConflict, "", "", "dup"), false},
		{"invalid state", New(InvalidState, "", "", "closed"), false},
		{"non-module error", errors.New("other"), false},
	}

	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Errorf("%s: IsTransient = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestFromHTTPStatus(t *testing.T) {
	cases := []struct {
		status int
		want   Kind
	}{
		{http.StatusNotFound, NotFound},
		{http.StatusNotModified, NotModified},
		{http.StatusPreconditionFailed, Precondition},
		{http.StatusConflict, AlreadyExists},
		{http.StatusUnauthorized, Unauthenticated},
		{http.StatusForbidden, PermissionDenied},
		{http.StatusRequestTimeout, Timeout},
		{http.StatusBadGateway, Generic},
	}

	for _, tc := range cases {
		err := FromHTTPStatus(tc.status, "azure", "p", "")
		if err.Kind != tc.want {
			t.Errorf("status %d: kind = %v, want %v", tc.status, err.Kind, tc.want)
		}
	}

	if !FromHTTPStatus(http.StatusServiceUnavailable, "azure", "p", "").Retryable {
		t.Error("expected 503 to be retryable")
	}

	if FromHTTPStatus(http.StatusBadRequest, "azure", "p", "").Retryable {
		t.Error("did not expect 400 to be retryable")
	}
}
