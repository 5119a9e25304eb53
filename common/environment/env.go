// Package environment reads configuration overrides from the process
// environment.
//
// Every helper takes a fallback and returns it when the variable is unset,
// empty or unparseable, so a partially configured environment never aborts
// startup. Validation belongs to the caller.
package environment

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// StringOr returns the variable's value, or fallback when it is unset or
// empty.
func StringOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// FirstOf returns the value of the first named variable that is set and
// non-empty, along with its name.
func FirstOf(names ...string) (value, name string) {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v, n
		}
	}
	return "", ""
}

// BoolOr parses the variable with strconv.ParseBool.
func BoolOr(name string, fallback bool) bool {
	b, err := strconv.ParseBool(os.Getenv(name))
	if err != nil {
		return fallback
	}
	return b
}

// IntOr parses the variable as a decimal integer.
func IntOr(name string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(name))
	if err != nil {
		return fallback
	}
	return n
}

// DurationOr parses the variable with time.ParseDuration ("30s", "2m").
func DurationOr(name string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(name))
	if err != nil {
		return fallback
	}
	return d
}

// StringSliceOr splits the variable on commas and trims each element.
// Empty elements are dropped; if none remain the fallback is returned.
func StringSliceOr(name string, fallback []string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(name), ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
