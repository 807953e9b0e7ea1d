// Package engine manages an external modulator/demodulator process
// (a minimodem-compatible tool) and exposes it as a byte pipe plus a
// stream of diagnostic events.
//
// A receive-side handle is long-lived: once ready it is read
// continuously until the modem shuts down or the process dies. A
// transmit-side handle only accepts bytes to modulate. Diagnostic and
// status lines (device-ready confirmation, carrier and confidence
// reports) arrive on the process's stderr and never interleave with
// demodulated data on stdout.
package engine

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// State describes the lifecycle of an engine process
type State int

const (
	Starting State = iota
	Ready
	Running
	Terminating
	Crashed
	Stopped
)

// String returns the state name
func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Terminating:
		return "terminating"
	case Crashed:
		return "crashed"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Errors surfaced to the modem facade
var (
	ErrStartTimeout = errors.New("engine: timeout waiting for ready line")
	ErrNotRunning   = errors.New("engine: process is not running")
)

const (
	DefaultStartTimeout = 10 * time.Second
	DefaultStopGrace    = 5 * time.Second

	// Buffered diagnostic events between the stderr scanner and the
	// consumer. Newer events win when the consumer lags.
	eventBacklog = 64
)

// Config describes how to spawn and supervise one engine process
type Config struct {
	Command string   // executable, resolved via PATH
	Args    []string // full argument list

	// ReadyLine is a substring of the diagnostic line that signals
	// the process has opened its audio device. Empty skips readiness
	// detection (transmit-side engines print nothing on startup).
	ReadyLine string

	StartTimeout time.Duration // bound on readiness detection
	StopGrace    time.Duration // SIGTERM to SIGKILL escalation delay

	Logger *log.Logger
	Debug  bool
}

func (c *Config) applyDefaults() {
	if c.Command == "" {
		c.Command = "minimodem"
	}
	if c.StartTimeout == 0 {
		c.StartTimeout = DefaultStartTimeout
	}
	if c.StopGrace == 0 {
		c.StopGrace = DefaultStopGrace
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
}

// Handle owns one engine process, its pipes and its lifecycle
type Handle struct {
	cfg Config

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File

	events chan Event
	done   chan struct{}

	mu       sync.Mutex
	state    State
	stopping bool

	dropped uint64
}

// Start spawns the engine process and, when a ready line is
// configured, blocks until it appears on the diagnostic stream or the
// start timeout expires.
func Start(cfg Config) (*Handle, error) {
	cfg.applyDefaults()

	cmd := exec.Command(cfg.Command, cfg.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open engine stdin: %v", err)
	}

	// Manual pipes for stdout and stderr: Wait closes pipes created by
	// StdoutPipe, which would race with the continuous read loop and
	// turn a clean EOF into a closed-pipe error
	stdout, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open engine stdout: %v", err)
	}
	stderr, errW, err := os.Pipe()
	if err != nil {
		stdout.Close()
		outW.Close()
		return nil, fmt.Errorf("failed to open engine stderr: %v", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		stdout.Close()
		outW.Close()
		stderr.Close()
		errW.Close()
		return nil, fmt.Errorf("failed to start engine %s: %v", cfg.Command, err)
	}

	// The child holds its own copies of the write ends
	outW.Close()
	errW.Close()

	h := &Handle{
		cfg:    cfg,
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		events: make(chan Event, eventBacklog),
		done:   make(chan struct{}),
		state:  Starting,
	}

	if cfg.Debug {
		cfg.Logger.Printf("engine started: %s (pid %d)", cfg.Command, cmd.Process.Pid)
	}

	ready := make(chan struct{})
	go h.scanDiagnostics(stderr, ready)
	go h.wait()

	if cfg.ReadyLine != "" {
		select {
		case <-ready:
		case <-h.done:
			_ = h.Stop()
			return nil, fmt.Errorf("engine %s exited during startup", cfg.Command)
		case <-time.After(cfg.StartTimeout):
			_ = h.Stop()
			return nil, ErrStartTimeout
		}
	}

	h.setState(Ready)
	h.setState(Running)
	return h, nil
}

// scanDiagnostics reads the stderr stream line by line, signals
// readiness and publishes parsed events
func (h *Handle) scanDiagnostics(stderr *os.File, ready chan struct{}) {
	defer stderr.Close()
	scanner := bufio.NewScanner(stderr)
	readySeen := false

	for scanner.Scan() {
		line := scanner.Text()
		if h.cfg.Debug {
			h.cfg.Logger.Printf("engine: %s", line)
		}

		if !readySeen && h.cfg.ReadyLine != "" && strings.Contains(line, h.cfg.ReadyLine) {
			readySeen = true
			close(ready)
		}

		h.publish(ParseEvent(line))
	}
}

// publish hands an event to the consumer, shedding the oldest backlog
// entry when the channel is full
func (h *Handle) publish(ev Event) {
	select {
	case h.events <- ev:
		return
	default:
	}
	select {
	case <-h.events:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
	default:
	}
	select {
	case h.events <- ev:
	default:
	}
}

// wait reaps the process and classifies the exit
func (h *Handle) wait() {
	err := h.cmd.Wait()

	h.mu.Lock()
	if h.stopping {
		h.state = Stopped
	} else {
		h.state = Crashed
		h.cfg.Logger.Printf("engine %s exited unexpectedly: %v", h.cfg.Command, err)
	}
	h.mu.Unlock()

	close(h.done)
}

// Read reads demodulated bytes from the process output pipe. It
// blocks until data is available and returns io.EOF once the process
// has exited.
func (h *Handle) Read(p []byte) (int, error) {
	return h.stdout.Read(p)
}

// Write feeds bytes to the process input pipe for modulation
func (h *Handle) Write(p []byte) (int, error) {
	if h.State() != Running {
		return 0, ErrNotRunning
	}
	return h.stdin.Write(p)
}

// Events returns the diagnostic event stream
func (h *Handle) Events() <-chan Event {
	return h.events
}

// Done is closed once the process has exited, for any reason
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// State returns the current lifecycle state
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// DroppedEvents reports diagnostic events shed due to consumer lag
func (h *Handle) DroppedEvents() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// Stop terminates the process: the input pipe is closed, SIGTERM is
// sent, and after the grace period the process is killed. Stop is
// idempotent and unblocks any in-progress Read.
func (h *Handle) Stop() error {
	h.mu.Lock()
	if h.stopping {
		h.mu.Unlock()
		<-h.done
		return nil
	}
	h.stopping = true
	alreadyDead := h.state == Crashed || h.state == Stopped
	h.state = Terminating
	if alreadyDead {
		h.state = Stopped
	}
	h.mu.Unlock()

	_ = h.stdin.Close()

	if !alreadyDead {
		_ = h.cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-h.done:
		case <-time.After(h.cfg.StopGrace):
			h.cfg.Logger.Printf("engine %s did not exit within %v, killing", h.cfg.Command, h.cfg.StopGrace)
			_ = h.cmd.Process.Kill()
			<-h.done
		}
	}

	_ = h.stdout.Close()
	return nil
}
