// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package boundedproc

import (
	"bytes"
	"context"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	res := Run(context.Background(), Options{
		Path: "/bin/sh",
		Args: []string{"-c", "echo out; echo err >&2"},
	})
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if res.ExitCode != 0 || res.TimedOut {
		t.Fatalf("unexpected result: %+v", res)
	}
	out := string(res.Output)
	if !strings.Contains(out, "out") || !strings.Contains(out, "err") {
		t.Fatalf("stdout/stderr not both captured: %q", out)
	}
}

func TestRunExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	res := Run(context.Background(), Options{
		Path: "/bin/sh",
		Args: []string{"-c", "exit 7"},
	})
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if res.ExitCode != 7 {
		t.Fatalf("expected exit code 7, got %d", res.ExitCode)
	}
}

func TestRunTimesOut(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	start := time.Now()
	res := Run(context.Background(), Options{
		Path:        "/bin/sh",
		Args:        []string{"-c", "sleep 30"},
		Timeout:     100 * time.Millisecond,
		GracePeriod: 100 * time.Millisecond,
	})
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if !res.TimedOut {
		t.Fatal("expected TimedOut")
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("termination took too long: %v", elapsed)
	}
}

func TestRunStartFailure(t *testing.T) {
	res := Run(context.Background(), Options{Path: "/nonexistent/binary"})
	if res.Err == nil {
		t.Fatal("expected a start error")
	}
}

func TestBoundedBufferCapsOutput(t *testing.T) {
	var buf boundedBuffer
	chunk := bytes.Repeat([]byte("x"), 64<<10)
	total := 0
	for total < 4*maxCaptureBytes {
		n, err := buf.Write(chunk)
		if err != nil || n != len(chunk) {
			t.Fatalf("Write returned (%d, %v)", n, err)
		}
		total += n
	}
	out := buf.Bytes()
	// The cut marker adds a few dozen bytes on top of the cap itself.
	if len(out) > maxCaptureBytes+128 {
		t.Fatalf("captured %d bytes, cap is %d", len(out), maxCaptureBytes)
	}
	if !bytes.Contains(out, []byte("<<cut ")) {
		t.Fatal("overflowing capture has no cut marker")
	}
}

func TestBoundedBufferKeepsHeadAndTail(t *testing.T) {
	var buf boundedBuffer
	buf.Write([]byte("HEADMARK")) //nolint:errcheck
	filler := bytes.Repeat([]byte("."), 64<<10)
	for i := 0; i < 4*maxCaptureBytes/len(filler); i++ {
		buf.Write(filler) //nolint:errcheck
	}
	buf.Write([]byte("TAILMARK")) //nolint:errcheck
	out := buf.Bytes()
	if !bytes.HasPrefix(out, []byte("HEADMARK")) {
		t.Fatal("head of output lost")
	}
	if !bytes.HasSuffix(out, []byte("TAILMARK")) {
		t.Fatal("tail of output lost")
	}
}
