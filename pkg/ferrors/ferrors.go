// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package ferrors is the worker's error taxonomy. Every error a
// session, engine adapter or bisector can produce is one of these typed
// values; nothing in this repo uses a sentinel error or panics across a
// session/bisection boundary.
package ferrors

import "fmt"

// InvalidTargetError means the target binary was not found under buildDir.
// The session fails; there is no retry.
type InvalidTargetError struct {
	TargetPath string
}

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("target binary not found: %s", e.TargetPath)
}

// EngineError means an engine adapter could not carry out an operation:
// the engine process could not be started, the adapter does not support
// the operation, or a required earlier step (such as Prepare) did not
// run. No adapter maps a process exit code to it, so ExitCode stays zero.
// The session runner turns it into a Failed result instead of returning it.
type EngineError struct {
	ExitCode int
	Detail   string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error (exit %d): %s", e.ExitCode, e.Detail)
}

// MergeTimedOutError is non-fatal; recorded as merge_error in stats.
type MergeTimedOutError struct{}

func (e *MergeTimedOutError) Error() string { return "merging new testcases timed out" }

// MergeFailedError is non-fatal; recorded as merge_error in stats.
type MergeFailedError struct {
	ExitCode int
}

func (e *MergeFailedError) Error() string {
	return fmt.Sprintf("merging new testcases failed (exit %d)", e.ExitCode)
}

// BuildSetupError is recoverable: the caller requeues the task after a
// back-off.
type BuildSetupError struct {
	Revision int
	JobType  string
}

func (e *BuildSetupError) Error() string {
	return fmt.Sprintf("build setup failed for revision %d (job %s)", e.Revision, e.JobType)
}

// BadBuildError means the build at Revision is unusable. The bisector
// skips this revision and continues.
type BadBuildError struct {
	Revision int
	JobType  string
}

func (e *BadBuildError) Error() string {
	return fmt.Sprintf("bad build at revision %d (job %s)", e.Revision, e.JobType)
}

// InvalidTestCaseError means the task's target testcase was already
// deleted. The caller acks and drops the task.
type InvalidTestCaseError struct {
	TestCaseID string
}

func (e *InvalidTestCaseError) Error() string {
	return fmt.Sprintf("testcase %s no longer exists", e.TestCaseID)
}

// BuildNotFoundError means Revision is not present in the job's
// RevisionList. Fatal for the current task.
type BuildNotFoundError struct {
	Revision int
}

func (e *BuildNotFoundError) Error() string {
	return fmt.Sprintf("revision %d not found in revision list", e.Revision)
}

// DeadlineExceededError is cooperative: the caller checkpoints and
// requeues rather than treating it as a hard failure.
type DeadlineExceededError struct{}

func (e *DeadlineExceededError) Error() string { return "task deadline exceeded" }

// UnknownEngineError means engine.Get was called with a name no Engine
// registered under.
type UnknownEngineError struct {
	Name string
}

func (e *UnknownEngineError) Error() string {
	return fmt.Sprintf("unknown engine: %s", e.Name)
}
