// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package boundedproc

import "syscall"

// terminateSignal is the "ask nicely" signal of the two-phase shutdown.
// Engines run on Linux build workers, so SIGTERM (as opposed to os.Kill)
// is always available here.
func terminateSignal() syscall.Signal {
	return syscall.SIGTERM
}
