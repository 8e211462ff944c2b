// Package proc supervises external agent processes: spawning, stream
// capture, resource monitoring, and bounded-concurrency execution.
package proc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Line is one captured output line from an agent process.
type Line struct {
	// Text is the line content without the trailing newline.
	Text string
	// Stderr is true when the line came from standard error.
	Stderr bool
	// At is when the line was read.
	At time.Time
}

// Process manages one external agent subprocess. Output from both streams is
// captured asynchronously into a bounded tail buffer and forwarded on a
// channel for live inspection.
type Process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser

	ctx    context.Context
	cancel context.CancelFunc

	lines      chan Line
	tail       *tailBuffer
	stderrTail *tailBuffer

	mu      sync.Mutex
	started bool
	once    sync.Once

	readers sync.WaitGroup
}

// NewProcess creates a Process for the given launch argv. The work item
// input is appended as the final argument. The context cancels the process
// when the executor or the global shutdown signal says so.
func NewProcess(ctx context.Context, argv []string, input string) *Process {
	ctx, cancel := context.WithCancel(ctx)
	args := append(append([]string(nil), argv[1:]...), input)
	return &Process{
		cmd:        exec.CommandContext(ctx, argv[0], args...),
		ctx:        ctx,
		cancel:     cancel,
		lines:      make(chan Line, 256),
		tail:       newTailBuffer(64 * 1024),
		stderrTail: newTailBuffer(16 * 1024),
	}
}

// Start launches the subprocess and begins asynchronous stream capture.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("process already started")
	}

	var err error
	p.stdout, err = p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	p.stderr, err = p.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}

	p.started = true

	p.readers.Add(2)
	go p.readStream(p.stdout, false)
	go p.readStream(p.stderr, true)

	go func() {
		p.readers.Wait()
		close(p.lines)
	}()

	return nil
}

// readStream scans one stream line by line into the tail buffers and the
// lines channel.
func (p *Process) readStream(r io.Reader, isStderr bool) {
	defer p.readers.Done()

	scanner := bufio.NewScanner(r)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		text := scanner.Text()
		if text == "" {
			continue
		}

		if isStderr {
			p.stderrTail.Append(text)
		} else {
			p.tail.Append(text)
		}

		line := Line{Text: text, Stderr: isStderr, At: time.Now()}
		select {
		case p.lines <- line:
		case <-p.ctx.Done():
			return
		default:
			// Channel full: the tail buffer already has the line, drop
			// the live copy rather than stall the reader.
		}
	}
}

// Lines returns the live output channel. It is closed when both streams end.
func (p *Process) Lines() <-chan Line {
	return p.lines
}

// SetNiceness lowers the scheduling priority of the running process.
// Best-effort: failure is reported but the process keeps running.
func (p *Process) SetNiceness(nice int) error {
	pid := p.PID()
	if pid == 0 {
		return fmt.Errorf("process not started")
	}
	if err := unix.Setpriority(unix.PRIO_PROCESS, pid, nice); err != nil {
		return fmt.Errorf("set priority: %w", err)
	}
	return nil
}

// Wait waits for the process to exit and returns its exit code.
// A negative code means the process was killed or never reported one.
func (p *Process) Wait() (int, error) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return -1, fmt.Errorf("process not started")
	}
	p.mu.Unlock()

	err := p.cmd.Wait()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("wait for process: %w", err)
	}
	return 0, nil
}

// Kill terminates the process immediately. Safe to call more than once and
// before Start.
func (p *Process) Kill() {
	p.once.Do(func() {
		p.cancel()
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

// PID returns the subprocess ID, or 0 if not started.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil && p.cmd.Process != nil {
		return p.cmd.Process.Pid
	}
	return 0
}

// OutputTail returns the captured standard output tail.
func (p *Process) OutputTail() string {
	return p.tail.String()
}

// StderrTail returns the captured standard error tail, preserved for
// diagnostics on failures.
func (p *Process) StderrTail() string {
	return p.stderrTail.String()
}

// tailBuffer keeps the most recent lines up to a byte budget.
type tailBuffer struct {
	mu       sync.Mutex
	lines    []string
	bytes    int
	maxBytes int
}

func newTailBuffer(maxBytes int) *tailBuffer {
	return &tailBuffer{maxBytes: maxBytes}
}

// Append adds a line, evicting the oldest lines once over budget.
func (b *tailBuffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines = append(b.lines, line)
	b.bytes += len(line) + 1

	for b.bytes > b.maxBytes && len(b.lines) > 1 {
		b.bytes -= len(b.lines[0]) + 1
		b.lines = b.lines[1:]
	}
}

// String returns the buffered lines joined by newlines.
func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.lines) == 0 {
		return ""
	}
	out := b.lines[0]
	for _, l := range b.lines[1:] {
		out += "\n" + l
	}
	return out
}
