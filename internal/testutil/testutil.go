// Package testutil holds helpers shared by tests.
package testutil

import (
	"crypto/rand"
	"flag"
	"testing"
)

var RunLong = flag.Bool("long", false, "run long/heavy tests")

// RequireLong skips t unless the -long flag is set.
func RequireLong(t *testing.T) {
	t.Helper()
	if !*RunLong {
		t.Skip("skipping long test (use -long to enable)")
	}
}

// RandomBytes returns n bytes from crypto/rand or fails t.
func RandomBytes(t testing.TB, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("random bytes: %v", err)
	}
	return b
}
