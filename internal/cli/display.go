package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/koltyakov/parcel/internal/domain"
)

// ansiEraseLine clears an in-place progress line before a full line is
// printed over it.
const ansiEraseLine = "\r\033[2K"

// printer streams the share lifecycle to the terminal: the header, the
// public URL with its QR code, agent warnings, and transfer progress.
// It implements [domain.EventSink]; the manager calls it from the
// streaming path, so handlers stay short and never block.
type printer struct {
	out         io.Writer
	logger      *slog.Logger
	interactive bool
	noQR        bool
	qrPNG       string

	// quieted suppresses event output once the command starts its own
	// shutdown sequence.
	quieted atomic.Bool

	// downCh closes on the first disconnected event so the foreground
	// command can exit when the tunnel dies underneath it.
	downCh   chan struct{}
	downOnce sync.Once

	// nowFunc returns the current time; override in tests.
	nowFunc func() time.Time

	mu          sync.Mutex
	started     bool
	urlShown    bool
	pendingURL  string
	inline      bool
	completions int64
	bytesSent   int64
}

func newPrinter(out io.Writer, logger *slog.Logger, interactive bool) *printer {
	return &printer{
		out:         out,
		logger:      logger,
		interactive: interactive,
		downCh:      make(chan struct{}),
		nowFunc:     time.Now,
	}
}

// Down closes when the tunnel reports disconnected.
func (p *printer) Down() <-chan struct{} {
	return p.downCh
}

// ShareStarted prints the share header. When the public URL is already
// known it prints the URL block too; otherwise the URL block follows the
// connected status event.
func (p *printer) ShareStarted(st domain.ShareStatus, urlWait time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = true

	protected := ""
	if st.Protected {
		protected = ", password protected"
	}
	fmt.Fprintf(p.out, "Sharing %s (%s) via %s%s\n",
		st.FileName, formatSize(st.FileSize), st.Provider, protected)

	url := st.PublicURL
	if url == "" {
		url = p.pendingURL
	}
	if url != "" {
		p.printURLLocked(url)
		return
	}
	fmt.Fprintf(p.out, "Waiting for the public URL (up to %s)...\n", urlWait)
}

// Status implements domain.EventSink.
func (p *printer) Status(e domain.StatusEvent) {
	if e.State == domain.ShareStateDisconnected {
		p.downOnce.Do(func() { close(p.downCh) })
	}
	if p.quieted.Load() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch e.State {
	case domain.ShareStateConnected:
		if !p.started {
			p.pendingURL = e.PublicURL
			return
		}
		p.printURLLocked(e.PublicURL)
	case domain.ShareStateError:
		p.clearInlineLocked()
		fmt.Fprintf(p.out, "%s  agent: %s\n", p.stamp(), e.Error)
	case domain.ShareStateDisconnected:
		p.clearInlineLocked()
		fmt.Fprintf(p.out, "%s  tunnel disconnected\n", p.stamp())
	}
}

// Progress implements domain.EventSink.
func (p *printer) Progress(e domain.ProgressEvent) {
	if p.quieted.Load() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.completions = e.Completions
	p.bytesSent = e.BytesSent
	if !p.started {
		return
	}
	if e.Completed {
		p.clearInlineLocked()
		fmt.Fprintf(p.out, "%s  download complete (%s, %s sent)\n",
			p.stamp(), plural(e.Completions, "download"), formatSize(e.BytesSent))
		return
	}
	if !p.interactive {
		return
	}
	fmt.Fprintf(p.out, "\r%s  sending... %s", p.stamp(), formatSize(e.BytesSent))
	p.inline = true
}

// Stopping announces the shutdown sequence and silences further events.
func (p *printer) Stopping() {
	p.quieted.Store(true)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearInlineLocked()
	fmt.Fprintln(p.out, "Stopping share...")
}

// Summary prints the final transfer totals.
func (p *printer) Summary(elapsed time.Duration, completions, bytesSent int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearInlineLocked()
	fmt.Fprintf(p.out, "Stopped after %s: %s, %s sent.\n",
		elapsed.Round(time.Second), plural(completions, "download"), formatSize(bytesSent))
}

// Totals returns the last counters seen in a progress event, as a
// fallback when the session is already gone.
func (p *printer) Totals() (completions, bytesSent int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completions, p.bytesSent
}

// printURLLocked prints the URL block once: the URL itself, the terminal
// QR code, the optional PNG, and the stop hint. Caller must hold p.mu.
func (p *printer) printURLLocked(publicURL string) {
	if p.urlShown || publicURL == "" {
		return
	}
	p.urlShown = true

	fmt.Fprintf(p.out, "\n  %s\n\n", publicURL)
	if p.interactive && !p.noQR {
		if q, err := qrcode.New(publicURL, qrcode.Medium); err == nil {
			fmt.Fprint(p.out, q.ToSmallString(false))
			fmt.Fprintln(p.out)
		}
	}
	if p.qrPNG != "" {
		p.writeQRPNG(publicURL)
	}
	fmt.Fprintln(p.out, "Press Ctrl+C to stop sharing.")
}

func (p *printer) writeQRPNG(publicURL string) {
	png, err := qrcode.Encode(publicURL, qrcode.Medium, 256)
	if err == nil {
		err = os.WriteFile(p.qrPNG, png, 0o644)
	}
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("qr png write failed", "path", p.qrPNG, "err", err)
		}
		return
	}
	fmt.Fprintf(p.out, "QR code written to %s\n", p.qrPNG)
}

// clearInlineLocked erases a pending in-place progress line. Caller must
// hold p.mu.
func (p *printer) clearInlineLocked() {
	if !p.inline {
		return
	}
	p.inline = false
	fmt.Fprint(p.out, ansiEraseLine)
}

func (p *printer) stamp() string {
	return p.nowFunc().Format("15:04:05")
}

// isInteractiveOutput reports whether stdout is a terminal. Piped output
// gets plain sequential lines without the QR code or in-place progress.
func isInteractiveOutput() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func plural(n int64, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

// formatSize renders a byte count in binary units.
func formatSize(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
