package speech

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	if got := KindOf(Conflictf("busy")); got != KindConflict {
		t.Fatalf("expected conflict, got %v", got)
	}
	if got := KindOf(fmt.Errorf("wrapped: %w", NotFoundf("gone"))); got != KindNotFound {
		t.Fatalf("expected not-found through wrapping, got %v", got)
	}
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Fatalf("expected unknown for plain error, got %v", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Conflictf("busy"), http.StatusBadRequest},
		{Validationf("missing"), http.StatusBadRequest},
		{NotFoundf("gone"), http.StatusNotFound},
		{Upstreamf(errors.New("refused"), "dial"), http.StatusInternalServerError},
		{Devicef(errors.New("busy"), "open"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Upstreamf(cause, "open recognition connection")
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to survive")
	}
}
