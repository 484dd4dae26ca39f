package tunnel

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koltyakov/parcel/internal/domain"
)

// stopGrace is how long a terminated agent gets to exit on its own before
// it is killed.
const stopGrace = 5 * time.Second

// Supervisor launches tunnel agents for shares. BinaryPath overrides the
// PATH lookup of the provider's binary when set.
type Supervisor struct {
	Provider   Provider
	BinaryPath string
	Sink       domain.EventSink
	Logger     *slog.Logger
}

// Agent is one running tunnel agent process. The public address, once
// spotted in the agent's output, is delivered on URL; Done closes when the
// process has exited and both output scanners have drained.
type Agent struct {
	provider Provider
	shareID  string
	cmd      *exec.Cmd
	sink     domain.EventSink
	logger   *slog.Logger

	urlCh   chan string
	urlOnce sync.Once

	scanners sync.WaitGroup
	done     chan struct{}
	waitErr  error
	stopping atomic.Bool
}

// Start resolves the agent binary and spawns it against the given local
// port. A binary that cannot be found wraps [domain.ErrAgentMissing]; a
// spawn failure wraps [domain.ErrTunnelSpawn].
func (s *Supervisor) Start(shareID string, port int) (*Agent, error) {
	bin := s.BinaryPath
	if bin == "" {
		bin = s.Provider.Binary()
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAgentMissing, err)
	}

	cmd := exec.Command(path, s.Provider.Args(port)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", domain.ErrTunnelSpawn, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", domain.ErrTunnelSpawn, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTunnelSpawn, err)
	}

	a := &Agent{
		provider: s.Provider,
		shareID:  shareID,
		cmd:      cmd,
		sink:     s.Sink,
		logger:   s.Logger,
		urlCh:    make(chan string, 1),
		done:     make(chan struct{}),
	}
	s.Logger.Info("tunnel agent started",
		"share_id", shareID,
		"provider", s.Provider.Name(),
		"pid", cmd.Process.Pid,
		"port", port)

	a.scanners.Add(2)
	go a.scan(stdout)
	go a.scan(stderr)
	go a.watch()
	return a, nil
}

// PID returns the agent's process id.
func (a *Agent) PID() int {
	return a.cmd.Process.Pid
}

// URL delivers the public address once, as soon as either output stream
// yields it. The channel stays open and empty if the agent never prints
// one.
func (a *Agent) URL() <-chan string {
	return a.urlCh
}

// Done closes once the agent process has exited.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// Err returns the process exit error. Valid after Done is closed.
func (a *Agent) Err() error {
	return a.waitErr
}

// Stop terminates the agent and waits for it to exit, killing it outright
// if it outlives the grace period. Stop is idempotent.
func (a *Agent) Stop() {
	if !a.stopping.CompareAndSwap(false, true) {
		<-a.done
		return
	}
	_ = terminate(a.cmd.Process)
	select {
	case <-a.done:
	case <-time.After(stopGrace):
		a.logger.Warn("tunnel agent ignored terminate, killing",
			"share_id", a.shareID, "pid", a.cmd.Process.Pid)
		_ = a.cmd.Process.Kill()
		<-a.done
	}
}

// scan reads one output stream line by line: the provider inspects every
// line for the public address, and failure-looking lines surface as error
// status events without tearing the share down.
func (a *Agent) scan(r io.Reader) {
	defer a.scanners.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		a.logger.Debug("agent output",
			"share_id", a.shareID, "provider", a.provider.Name(), "line", line)

		if addr, ok := a.provider.PublicAddr(line); ok {
			a.urlOnce.Do(func() { a.urlCh <- addr })
			continue
		}
		if isFailureLine(line) && a.sink != nil && !a.stopping.Load() {
			a.sink.Status(domain.StatusEvent{
				ShareID: a.shareID,
				State:   domain.ShareStateError,
				Error:   line,
			})
		}
	}
}

// watch reaps the process. The scanners must drain both pipes before Wait
// is called, per the os/exec pipe contract.
func (a *Agent) watch() {
	a.scanners.Wait()
	a.waitErr = a.cmd.Wait()
	close(a.done)

	a.logger.Info("tunnel agent exited",
		"share_id", a.shareID,
		"provider", a.provider.Name(),
		"err", a.waitErr)
	if a.sink != nil && !a.stopping.Load() {
		a.sink.Status(domain.StatusEvent{
			ShareID: a.shareID,
			State:   domain.ShareStateDisconnected,
		})
	}
}

func isFailureLine(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "error") || strings.Contains(lower, "failed")
}
