// Package testutil provides shared test helpers for histdb tests.
package testutil

import (
	"strings"
	"testing"
)

// MustNoErr fails the test immediately if err is non-nil. Use this for
// setup operations where failure means the test cannot proceed.
func MustNoErr(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

// PeerKey builds a syntactically valid 64-hex-character public key whose
// characters repeat the given seed. Seeds must be hex digits.
func PeerKey(seed byte) string {
	return strings.Repeat(string(seed), 64)
}
