package versionutil

import "testing"

func TestEnsureVPrefix(t *testing.T) {
	if got := EnsureVPrefix("1.2.3"); got != "v1.2.3" {
		t.Fatalf("expected v1.2.3, got %s", got)
	}
	if got := EnsureVPrefix("v1.2.3"); got != "v1.2.3" {
		t.Fatalf("expected v1.2.3 unchanged, got %s", got)
	}
	if got := EnsureVPrefix(""); got != "" {
		t.Fatalf("expected empty string unchanged, got %s", got)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"", "dev"},
		{"dev", "dev"},
		{"1.4.0", "v1.4.0"},
		{"v1.4.0", "v1.4.0"},
		{"v1.4.0-3-g2f9c1ab-dev", "v1.4.0-3-g2f9c1ab-dev"},
		{"  1.4.0 ", "v1.4.0"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.raw); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
