package pathutil

import (
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
)

// HomeDir obtains the path to the user's home directory.
func HomeDir() string {
	dir, err := homedir.Dir()
	if err != nil {
		log.WithError(err).Warn("cannot determine home directory")
		return os.Getenv("HOME")
	}
	return dir
}

// Expand expands a leading ~ in path and makes the result absolute.
func Expand(path string) (string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", err
	}
	return filepath.Abs(expanded)
}
