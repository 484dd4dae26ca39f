//go:build windows

package tunnel

import "os"

// Windows has no SIGTERM; Kill is the only way to stop the agent.
func terminate(p *os.Process) error {
	return p.Kill()
}
