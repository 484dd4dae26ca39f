// Package versionutil normalizes the version strings printed by the CLI.
package versionutil

import "strings"

// EnsureVPrefix returns s with a leading "v" if it doesn't already have one.
func EnsureVPrefix(s string) string {
	if s != "" && !strings.HasPrefix(s, "v") {
		return "v" + s
	}
	return s
}

// Normalize maps a raw build version to the printed form: empty and "dev"
// builds stay "dev", everything else gets the v prefix back (the GoReleaser
// {{.Version}} template strips it while git-describe keeps it).
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "dev" {
		return "dev"
	}
	return EnsureVPrefix(raw)
}
