// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package engine

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Flag name prefixes for the libFuzzer-style engine wire contract.
const (
	MaxTotalTimeFlag    = "-max_total_time="
	RSSLimitFlag        = "-rss_limit_mb="
	TimeoutFlag         = "-timeout="
	ArtifactPrefixFlag  = "-artifact_prefix="
	DictFlag            = "-dict="
	ForkFlag            = "-fork="
	MaxLenFlag          = "-max_len="
	ValueProfileFlag    = "-use_value_profile=1"
	CollectDataFlowFlag = "-collect_data_flow="
	MergeFlag           = "-merge=1"
	MinimizeCrashFlag   = "-minimize_crash=1"
	CleanseCrashFlag    = "-cleanse_crash=1"
	ExactArtifactFlag   = "-exact_artifact_path="
	PrintFinalStatsFlag = "-print_final_stats=1"
	RunsFlag            = "-runs="
)

const (
	DefaultRSSLimitMB    = 2048
	DefaultTimeoutSec    = 25
	MaxValueForMaxLength = 10000
)

// fuzzingOnlyFlags are stripped before merge/reproduction: they steer
// input generation, which those modes don't do.
var fuzzingOnlyFlags = []string{
	DictFlag, MaxLenFlag, RunsFlag, ForkFlag, CollectDataFlowFlag,
}

// RemoveFuzzingArguments strips every flag whose name matches one of the
// fuzzing-only set.
func RemoveFuzzingArguments(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		drop := false
		for _, prefix := range fuzzingOnlyFlags {
			if strings.HasPrefix(a, prefix) {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, a)
		}
	}
	return out
}

// EnsureCommonArguments adds -rss_limit_mb and -timeout with their
// defaults if the caller hasn't already set them.
func EnsureCommonArguments(args []string) []string {
	if !hasFlag(args, RSSLimitFlag) {
		args = append(args, fmt.Sprintf("%s%d", RSSLimitFlag, DefaultRSSLimitMB))
	}
	if !hasFlag(args, TimeoutFlag) {
		args = append(args, fmt.Sprintf("%s%d", TimeoutFlag, DefaultTimeoutSec))
	}
	return args
}

func hasFlag(args []string, prefix string) bool {
	for _, a := range args {
		if strings.HasPrefix(a, prefix) {
			return true
		}
	}
	return false
}

// ResolveDictionary ensures -dict= points at a file that exists on disk.
// If the configured path is missing, it falls back to targetPath+".dict"
// when that exists, otherwise the dict argument is stripped entirely.
func ResolveDictionary(args []string, targetPath string) []string {
	out := make([]string, 0, len(args))
	found := false
	for _, a := range args {
		if !strings.HasPrefix(a, DictFlag) {
			out = append(out, a)
			continue
		}
		path := strings.TrimPrefix(a, DictFlag)
		if fileExists(path) {
			out = append(out, a)
			found = true
		}
	}
	if !found {
		fallback := targetPath + ".dict"
		if fileExists(fallback) {
			out = append(out, DictFlag+fallback)
		}
	}
	return out
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// GracePeriod returns the two-phase shutdown grace window: 10s baseline,
// 110s when fork mode is active and the supervisor has children to drain.
func GracePeriod(forkMode bool) time.Duration {
	if forkMode {
		return 110 * time.Second
	}
	return 10 * time.Second
}
