// Package testenv provides helpers shared by package tests.
package testenv

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MakeAR creates testify assert and require objects for a test.
func MakeAR(t require.TestingT) (*assert.Assertions, *require.Assertions) {
	return assert.New(t), require.New(t)
}

// RandBytes fills p with non-crypto-safe random bytes.
func RandBytes(p []byte) {
	rand.Read(p)
}

// BytesEqual asserts byte equality, treating nil and zero-length slices as
// the same.
func BytesEqual(a *assert.Assertions, expected, actual []byte, msgAndArgs ...any) bool {
	if len(expected) == 0 {
		return a.Empty(actual, msgAndArgs...)
	}
	return a.Equal(expected, actual, msgAndArgs...)
}

// TempName returns a filename inside a per-test temporary directory; the
// directory is removed during test cleanup.
func TempName(t testing.TB, name string) string {
	return filepath.Join(t.TempDir(), name)
}
