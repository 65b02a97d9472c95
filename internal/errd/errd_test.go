package errd

import (
	"errors"
	"io"
	"testing"
)

func TestWrap(t *testing.T) {
	t.Parallel()

	f := func(in error) (err error) {
		defer Wrap(&err, "failed to %v", "read")
		return in
	}

	if err := f(nil); err != nil {
		t.Fatalf("expected nil error but got %v", err)
	}

	err := f(io.EOF)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected wrapped io.EOF but got %v", err)
	}
	if got, exp := err.Error(), "failed to read: EOF"; got != exp {
		t.Fatalf("expected %q but got %q", exp, got)
	}

	err = f(err)
	if got, exp := err.Error(), "failed to read: EOF"; got != exp {
		t.Fatalf("expected no stutter %q but got %q", exp, got)
	}
}
