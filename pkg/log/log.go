// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package log

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"
)

var level int32

// SetLevel controls which Logf calls are printed. Calls with v > level are dropped.
func SetLevel(v int) {
	atomic.StoreInt32(&level, int32(v))
}

// Logf prints a leveled, formatted log line to stderr. It is the one logging
// entry point used throughout the core; packages never call the standard
// log package directly.
func Logf(v int, msg string, args ...interface{}) {
	if int32(v) > atomic.LoadInt32(&level) {
		return
	}
	log.Output(2, fmt.Sprintf(msg, args...)) //nolint:errcheck
}

// Fatalf logs unconditionally and terminates the process. Reserved for
// unrecoverable startup failures (bad config, missing build dirs) - never
// called from within a session or bisection once work has started.
func Fatalf(msg string, args ...interface{}) {
	log.Output(2, fmt.Sprintf(msg, args...)) //nolint:errcheck
	os.Exit(1)
}
