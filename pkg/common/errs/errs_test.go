package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	if KindOf(NotFound("missing")) != KindNotFound {
		t.Fatal("expected not-found kind")
	}
	if KindOf(Conflict("busy")) != KindConflict {
		t.Fatal("expected conflict kind")
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Fatal("expected plain errors to default to internal")
	}

	// Wrapped errors keep their kind.
	wrapped := fmt.Errorf("context: %w", Invalid("bad input"))
	if KindOf(wrapped) != KindInvalid {
		t.Fatal("expected kind to survive wrapping")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Invalid("bad"), http.StatusBadRequest},
		{Malformed("bad payload"), http.StatusBadRequest},
		{NotFound("missing"), http.StatusNotFound},
		{Unauthorized("nope"), http.StatusForbidden},
		{Conflict("busy"), http.StatusConflict},
		{Gateway(errors.New("down"), "upstream"), http.StatusBadGateway},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := HTTPStatus(c.err); got != c.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Gateway(cause, "file server unavailable")
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable through Unwrap")
	}
}
