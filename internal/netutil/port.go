// Package netutil provides shared network helpers.
package netutil

import (
	"fmt"
	"net"

	"github.com/koltyakov/parcel/internal/domain"
)

// AllocatePort obtains a free local TCP port by binding 127.0.0.1:0, reading
// back the kernel-assigned port, and releasing the socket so the caller can
// bind it for real. Another process can claim the port in the gap between
// release and rebind; that narrow race is a documented limitation of the
// allocate-then-release approach and is not mitigated here.
func AllocatePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrPortAllocation, err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if err := ln.Close(); err != nil {
		return 0, fmt.Errorf("%w: release: %v", domain.ErrPortAllocation, err)
	}
	return port, nil
}

// RemoteIP extracts the bare IP from an address, stripping any port. Used to
// key per-source accept limits.
func RemoteIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
