package xsync

import (
	"testing"

	"github.com/sockwire/websocket/internal/test/cmp"
)

func TestGoRecover(t *testing.T) {
	t.Parallel()

	errs := Go(func() error {
		panic("anmol")
	})

	err := <-errs
	if !cmp.ErrorContains(err, "anmol") {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestGoError(t *testing.T) {
	t.Parallel()

	errs := Go(func() error {
		return nil
	})

	err := <-errs
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}
