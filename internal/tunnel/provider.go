// Package tunnel supervises external reverse-tunnel agent binaries. A
// provider knows how to launch one agent (cloudflared, bore) against a
// local port and how to spot the public address in its output; the
// supervisor owns the process lifecycle.
package tunnel

import (
	"fmt"
	"strings"
)

// Provider describes one tunnel agent: the binary to run, its arguments
// for a given local port, and how to recognize the public address line.
type Provider interface {
	Name() string
	Binary() string
	Args(port int) []string
	PublicAddr(line string) (string, bool)
}

// DefaultProvider is used when no provider is named.
const DefaultProvider = "cloudflared"

// Providers lists the supported provider names.
func Providers() []string {
	return []string{"cloudflared", "bore"}
}

// Normalize maps user input to a canonical provider name. Empty input
// selects the default.
func Normalize(raw string) (string, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch raw {
	case "":
		return DefaultProvider, nil
	case "cloudflared", "cloudflare", "cf":
		return "cloudflared", nil
	case "bore":
		return "bore", nil
	default:
		return "", fmt.Errorf("unknown tunnel provider %q (expected cloudflared or bore)", raw)
	}
}

// ByName returns the provider implementation for a name, after
// normalization.
func ByName(name string) (Provider, error) {
	normalized, err := Normalize(name)
	if err != nil {
		return nil, err
	}
	switch normalized {
	case "bore":
		return Bore{}, nil
	default:
		return Cloudflared{}, nil
	}
}
