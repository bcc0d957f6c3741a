// Package testhelpers provides helpers for testing.
package testhelpers

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// NoErrorN performs require.NoError on multiple errors
func NoErrorN(t *testing.T, errs ...error) {
	for _, err := range errs {
		require.NoError(t, err)
	}
}

// TempDir creates a temporary directory and returns it with a function
// removing it.
func TempDir(t *testing.T, prefix string) (string, func()) {
	dir, err := ioutil.TempDir("", prefix)
	require.NoError(t, err)
	return dir, func() {
		require.NoError(t, os.RemoveAll(dir))
	}
}

// WriteFile writes data to name inside dir and returns the full path.
func WriteFile(t *testing.T, dir, name, data string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, ioutil.WriteFile(path, []byte(data), 0600))
	return path
}
