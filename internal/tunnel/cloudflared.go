package tunnel

import (
	"fmt"
	"regexp"
)

// cloudflaredURL matches the ephemeral quick-tunnel URL cloudflared prints
// once the tunnel is up. The line arrives on stderr inside an ASCII box.
var cloudflaredURL = regexp.MustCompile(`https://[a-zA-Z0-9-]+\.trycloudflare\.com`)

// Cloudflared runs a Cloudflare quick tunnel against the local HTTP
// server. No account or configuration is required.
type Cloudflared struct{}

func (Cloudflared) Name() string { return "cloudflared" }

func (Cloudflared) Binary() string { return "cloudflared" }

func (Cloudflared) Args(port int) []string {
	return []string{"tunnel", "--url", fmt.Sprintf("http://localhost:%d", port), "--no-autoupdate"}
}

func (Cloudflared) PublicAddr(line string) (string, bool) {
	if m := cloudflaredURL.FindString(line); m != "" {
		return m, true
	}
	return "", false
}
