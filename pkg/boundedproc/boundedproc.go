// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package boundedproc is the single abstraction for "run a child process
// with a deadline": every engine invocation, every mutator invocation and
// every reproduction trial goes through Run. It captures at most
// maxCaptureBytes of combined stdout+stderr and performs a two-phase
// shutdown (terminate, then grace period, then kill) instead of relying
// on the child to exit on its own.
package boundedproc

import (
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/google/fuzzcore/pkg/log"
)

// maxCaptureBytes bounds captured combined output.
const maxCaptureBytes = 1 << 20

// Options configures one bounded invocation.
type Options struct {
	Path string
	Args []string
	Env  []string
	Dir  string

	// Timeout is the soft deadline after which the process is asked to
	// terminate. Zero means no deadline (caller relies on ctx).
	Timeout time.Duration
	// GracePeriod is how long we wait between the terminate signal and
	// the hard kill. 10s baseline, 110s when fork mode is active and the
	// supervisor needs time to drain its children.
	GracePeriod time.Duration
}

// Result is what every call site needs to parse engine output and decide
// on crash/timeout classification.
type Result struct {
	Output      []byte
	ExitCode    int
	TimedOut    bool
	TimeElapsed time.Duration
	Err         error // non-nil only for inability to start the process
}

const defaultGrace = 10 * time.Second

// Run executes the child process, enforcing Options.Timeout with a
// two-phase terminate/kill and capping captured output at 1 MiB.
func Run(ctx context.Context, opts Options) *Result {
	grace := opts.GracePeriod
	if grace <= 0 {
		grace = defaultGrace
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.Command(opts.Path, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env
	// Bound how long Wait keeps reading a pipe that a surviving grandchild
	// still holds open after the child itself has exited.
	cmd.WaitDelay = grace

	var buf boundedBuffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return &Result{Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timedOut := false
	select {
	case err := <-done:
		return finish(&buf, start, exitCode(cmd, err), false)
	case <-runCtx.Done():
		timedOut = true
	}

	// Two-phase termination: ask nicely, then escalate.
	log.Logf(2, "boundedproc: terminating %s after timeout", opts.Path)
	if cmd.Process != nil {
		cmd.Process.Signal(terminateSignal()) //nolint:errcheck
	}
	select {
	case err := <-done:
		r := finish(&buf, start, exitCode(cmd, err), timedOut)
		return r
	case <-time.After(grace):
	}

	log.Logf(1, "boundedproc: hard-killing %s", opts.Path)
	if cmd.Process != nil {
		cmd.Process.Kill() //nolint:errcheck
	}
	<-done
	return finish(&buf, start, -1, true)
}

func finish(buf *boundedBuffer, start time.Time, code int, timedOut bool) *Result {
	return &Result{
		Output:      buf.Bytes(),
		ExitCode:    code,
		TimedOut:    timedOut,
		TimeElapsed: time.Since(start),
	}
}

func exitCode(cmd *exec.Cmd, err error) int {
	if err == nil {
		if cmd.ProcessState != nil {
			return cmd.ProcessState.ExitCode()
		}
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

// boundedBuffer is an io.Writer that keeps the first headCap bytes plus
// a rolling window of the most recent tailCap bytes, so both the engine
// banner and the crash report at the end of a huge log survive the cap.
// The dropped middle is rendered by log.JoinCut.
type boundedBuffer struct {
	mu      sync.Mutex
	head    []byte
	tail    []byte // ring over the last tailCap bytes, nil until needed
	tailPos int
	tailLen int
	total   int64
}

const (
	headCap = maxCaptureBytes / 2
	tailCap = maxCaptureBytes - headCap
)

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	b.total += int64(n)

	if len(b.head) < headCap {
		take := headCap - len(b.head)
		if take > len(p) {
			take = len(p)
		}
		b.head = append(b.head, p[:take]...)
		p = p[take:]
	}
	if len(p) == 0 {
		return n, nil
	}

	if b.tail == nil {
		b.tail = make([]byte, tailCap)
	}
	if len(p) >= tailCap {
		copy(b.tail, p[len(p)-tailCap:])
		b.tailPos = 0
		b.tailLen = tailCap
		return n, nil
	}
	wrote := copy(b.tail[b.tailPos:], p)
	copy(b.tail, p[wrote:])
	b.tailPos = (b.tailPos + len(p)) % tailCap
	b.tailLen += len(p)
	if b.tailLen > tailCap {
		b.tailLen = tailCap
	}
	return n, nil
}

func (b *boundedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tailLen == 0 {
		return b.head
	}
	var tail []byte
	if b.tailLen < tailCap {
		tail = b.tail[:b.tailLen]
	} else {
		tail = append(append([]byte{}, b.tail[b.tailPos:]...), b.tail[:b.tailPos]...)
	}
	cut := b.total - int64(len(b.head)) - int64(len(tail))
	if cut <= 0 {
		return append(append([]byte{}, b.head...), tail...)
	}
	return log.JoinCut(b.head, tail, int(cut))
}
