// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package engine

import (
	"strings"
	"testing"
)

func TestRemoveFuzzingArguments(t *testing.T) {
	// Property 6.
	args := []string{"-dict=/a/b.dict", "-max_len=100", "-runs=1000", "-fork=4",
		"-collect_data_flow=/bin/x", "-rss_limit_mb=2048", "-artifact_prefix=/tmp/"}
	out := RemoveFuzzingArguments(args)
	for _, a := range out {
		for _, prefix := range fuzzingOnlyFlags {
			if strings.HasPrefix(a, prefix) {
				t.Fatalf("found fuzzing-only flag %q after sanitization", a)
			}
		}
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 surviving args, got %v", out)
	}
}

func TestEnsureCommonArgumentsAddsDefaults(t *testing.T) {
	out := EnsureCommonArguments(nil)
	if !hasFlag(out, RSSLimitFlag) || !hasFlag(out, TimeoutFlag) {
		t.Fatalf("expected defaults injected, got %v", out)
	}
}

func TestEnsureCommonArgumentsRespectsExisting(t *testing.T) {
	in := []string{RSSLimitFlag + "4096"}
	out := EnsureCommonArguments(in)
	count := 0
	for _, a := range out {
		if strings.HasPrefix(a, RSSLimitFlag) {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one rss_limit flag, got %d in %v", count, out)
	}
}

func TestGracePeriod(t *testing.T) {
	if GracePeriod(false).Seconds() != 10 {
		t.Fatalf("expected 10s baseline")
	}
	if GracePeriod(true).Seconds() != 110 {
		t.Fatalf("expected 110s with fork mode")
	}
}
