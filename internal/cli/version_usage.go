package cli

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/koltyakov/parcel/internal/versionutil"
)

func printUsage() {
	fmt.Println(`parcel - share a packaged file over a public tunnel

Serve one local package over an authenticated localhost HTTP server and
publish it through a tunnel agent (cloudflared or bore).

Usage:
  parcel share <file>                   Share a package, print the URL + QR
  parcel share <file> --password SECRET Require a password for downloads
  parcel share <file> --provider bore   Use the bore tunnel agent
  parcel serve                          Run the local share control API
  parcel history --db parcel.db         List past shares
  parcel version                        Print version
  parcel help                           Show this help

Share Flags:
  --provider NAME     Tunnel provider: cloudflared|bore (default: cloudflared)
  --password SECRET   Password peers must present to download
  --name NAME         Display name overriding the file name
  --agent PATH        Explicit tunnel agent binary path
  --url-wait DUR      How long to wait for the public URL (default: 30s)
  --history-db PATH   Record the share in a SQLite history database
  --events-addr ADDR  Local control/events API address (empty disables)
  --qr-png PATH       Also write the share URL QR code as a PNG
  --no-qr             Skip the terminal QR code
  --config PATH       YAML config file with persisted defaults

Environment Variables:
  PARCEL_PROVIDER     Tunnel provider (default: cloudflared)
  PARCEL_PASSWORD     Download password for this share session
  PARCEL_AGENT        Tunnel agent binary path
  PARCEL_URL_WAIT     Public URL wait window (default: 30s)
  PARCEL_HISTORY_DB   SQLite share history path
  PARCEL_EVENTS_ADDR  Local control/events API address
  PARCEL_ADDR         Control API address for serve (default: 127.0.0.1:7070)
  PARCEL_CONFIG       YAML config file path
  PARCEL_LOG_LEVEL    Log level: debug|info|warn|error (default: info)

For detailed documentation, see: https://github.com/koltyakov/parcel`)
}

// Version is set at build time via -ldflags.
var Version = "dev"

func init() {
	if Version == "dev" {
		if desc, err := exec.Command("git", "describe", "--tags", "--always").Output(); err == nil {
			if v := strings.TrimSpace(string(desc)); v != "" {
				Version = v + "-dev"
			}
		}
	}
	Version = versionutil.Normalize(Version)
}

func printVersion() {
	fmt.Println("parcel", Version)
}
