// Package env reads typed values from environment variables.
package env

import (
	"os"
	"strconv"
	"time"
)

// Int64 returns parsed int64 value of environment variable
func Int64(name string, defvalue int64) int64 {
	if envVar, ok := os.LookupEnv(name); ok {
		if value, err := strconv.ParseInt(envVar, 10, 64); err == nil {
			return value
		}
	}
	return defvalue
}

// Duration returns parsed time.Duration value of environment variable
func Duration(name string, defvalue time.Duration) time.Duration {
	if envVar, ok := os.LookupEnv(name); ok {
		if value, err := time.ParseDuration(envVar); err == nil {
			return value
		}
	}
	return defvalue
}

// String returns the value of environment variable or defvalue when unset or empty.
func String(name, defvalue string) string {
	if envVar, ok := os.LookupEnv(name); ok && envVar != "" {
		return envVar
	}
	return defvalue
}
