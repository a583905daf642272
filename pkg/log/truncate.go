// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package log

import (
	"bytes"
	"fmt"
)

// Truncate leaves up to `begin` bytes at the beginning of log and
// up to `end` bytes at the end of the log.
func Truncate(log []byte, begin, end int) []byte {
	if begin+end >= len(log) {
		return log
	}
	return JoinCut(log[:begin], log[len(log)-end:], len(log)-begin-end)
}

// JoinCut renders a log whose middle is gone: head, a cut marker, then
// tail. Truncate delegates here once it knows how much to drop; callers
// that never held the full log in memory (bounded capture buffers that
// discard the middle as it streams past) call it directly.
func JoinCut(head, tail []byte, cut int) []byte {
	var b bytes.Buffer
	b.Write(head)
	if len(head) > 0 {
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "<<cut %d bytes out>>", cut)
	if len(tail) > 0 {
		b.WriteString("\n\n")
	}
	b.Write(tail)
	return b.Bytes()
}
