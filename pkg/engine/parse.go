// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package engine

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/fuzzcore/pkg/log"
)

// crashTestcaseRegex matches libFuzzer's "Test unit written to <path>" line.
var crashTestcaseRegex = regexp.MustCompile(`Test unit written to\s*(\S+)`)

// statLineRegex matches "stat::<name>: <value>" lines.
var statLineRegex = regexp.MustCompile(`stat::([A-Za-z_]+):\s*(\S+)`)

// ParseStats extracts the final stats map from engine log lines;
// non-numeric values are logged and dropped.
func ParseStats(log_ string) map[string]int64 {
	out := map[string]int64{}
	for _, line := range strings.Split(log_, "\n") {
		m := statLineRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		v, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			logStatParseError(m[1], m[2])
			continue
		}
		out[m[1]] = v
	}
	return out
}

func logStatParseError(name, value string) {
	log.Logf(0, "engine: non-numeric stat %s=%q dropped", name, value)
}

// OverlayMergeStats overlays mergeStats onto base; new_units_added is
// taken from mergeStats while the pre-merge value is preserved as
// new_units_generated.
func OverlayMergeStats(base, mergeStats map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(base))
	for k, v := range base {
		out[k] = v
	}
	if generated, ok := out["new_units_added"]; ok {
		out["new_units_generated"] = generated
	}
	for k, v := range mergeStats {
		out[k] = v
	}
	return out
}

// FindCrashPath returns the first "Test unit written to <path>" match,
// if any.
func FindCrashPath(log_ string) (string, bool) {
	m := crashTestcaseRegex.FindStringSubmatch(log_)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// crashMarkers maps a substring observed in engine output to the stats
// counter it increments.
var crashMarkers = []struct {
	substr string
	stat   string
}{
	{"ERROR: AddressSanitizer", "asan_error_count"},
	{"libFuzzer: out-of-memory", "oom_count"},
	{"libFuzzer: timeout", "timeout_count"},
	{"libFuzzer: deadly signal", "deadly_signal_count"},
	{"ERROR: libFuzzer", "libfuzzer_error_count"},
}

// ClassifyCrashMarkers scans log_ for known sanitizer/engine marker
// substrings and increments the corresponding counters in stats.
func ClassifyCrashMarkers(log_ string, stats map[string]int64) {
	for _, marker := range crashMarkers {
		if strings.Contains(log_, marker.substr) {
			stats[marker.stat]++
		}
	}
}

// AddCustomCrashStateIfNeeded inserts a synthetic "custom-crash-state:
// <fuzzerName>" line ahead of the first SUMMARY:/DEATH: line when the
// OOM or timeout counters are nonzero, so downstream triage groups those
// crashes per-fuzzer instead of by the (meaningless) allocator stack.
func AddCustomCrashStateIfNeeded(log_, fuzzerName string, stats map[string]int64) string {
	if stats["oom_count"] == 0 && stats["timeout_count"] == 0 {
		return log_
	}
	lines := strings.Split(log_, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "SUMMARY:") || strings.HasPrefix(line, "DEATH:") {
			injected := "custom-crash-state: " + fuzzerName
			out := make([]string, 0, len(lines)+1)
			out = append(out, lines[:i]...)
			out = append(out, injected)
			out = append(out, lines[i:]...)
			return strings.Join(out, "\n")
		}
	}
	return log_
}

// Signature derives a stable (crashType, crashState) pair from a
// reproduction's combined output: crashType is the first matched marker
// substring's counter name (falling back to "unknown" when the process
// merely exited non-zero with no recognized marker), crashState is a
// short hash of a five-line window starting at the first marker line
// (the first five lines when no marker matched), so that log noise
// before the crash doesn't break identity comparison. Used by
// progression's reproduction check.
func Signature(log_ string) (crashType, crashState string) {
	lines := strings.Split(log_, "\n")
	for _, marker := range crashMarkers {
		for i, line := range lines {
			if strings.Contains(line, marker.substr) {
				crashType = marker.stat
				crashState = stateHash(lines, i)
				return
			}
		}
	}
	return "unknown", stateHash(lines, 0)
}

// stateHash hashes a small window of lines starting at idx so that
// unrelated log noise before the crash doesn't affect the result.
func stateHash(lines []string, idx int) string {
	end := idx + 5
	if end > len(lines) {
		end = len(lines)
	}
	h := sha1.New()
	for _, l := range lines[idx:end] {
		h.Write([]byte(l))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Exit codes a libFuzzer-family engine may use to signal a crash class
// without an accompanying sanitizer marker line, supplementing the
// substring heuristics above.
const (
	ExitSanitizerError  = 78
	ExitEngineInternal  = 77
	ExitOOM             = 71
	ExitTimeout         = 70
)

// ClassifyExitCode supplements ClassifyCrashMarkers when no marker line was
// found: it maps a known libFuzzer exit code to the same counters.
func ClassifyExitCode(code int, stats map[string]int64) {
	switch code {
	case ExitOOM:
		stats["oom_count"]++
	case ExitTimeout:
		stats["timeout_count"]++
	case ExitSanitizerError:
		stats["asan_error_count"]++
	}
}
