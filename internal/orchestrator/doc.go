// Package orchestrator drives a task from description to reviewed pull
// request.
//
// # Overview
//
// The Executor runs one task through a fixed sequence of states:
//
//	START → ISSUE_ENSURED → TESTS_GENERATED → TEST_FILE_WRITTEN
//	      → ARTIFACTS_GENERATED → ARTIFACTS_PERSISTED → GATE_EVALUATED
//	      → PUSHED → PR_CREATED → REVIEWED → TERMINATED(success)
//
// A NEEDS_REVISION review loops back to ARTIFACTS_GENERATED, keeping the
// issue, branch and pull request of the first pass, until MaxRevisions is
// reached.
//
// # Test gate
//
// Nothing is pushed unless the generated tests exit zero. A failing run ends
// in TERMINATED(tests-failed) with the verdict on the Report; the repository
// is never touched after GATE_EVALUATED in that case.
//
// # Errors
//
// Collaborator errors are translated into a StageError at the stage that saw
// them. Fatal ones end the run; warnings are logged, kept on the Report, and
// the run continues with a degraded result (for example a missing README).
//
// # Collaborators
//
// Every external capability is an interface (Directory, Generator, TestGate,
// Workspace, Repository, Reviewer, memory.Store) so the same Executor runs
// in-process from the CLI and inside a Temporal workflow, where each port is
// backed by an activity. The Executor starts no goroutines and reads time only
// through its clock.
package orchestrator
