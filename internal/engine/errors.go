package engine

import (
	"fmt"
	"strings"

	"github.com/glossarium/glossarium/pkg/models"
)

// The engine's error taxonomy. Any of these on a mandatory call aborts
// the run; the same condition on an optional call marks it skipped.

// MissingClientError means no ToolClient is registered for a mandatory
// fetch call's tool.
type MissingClientError struct {
	Tool   string
	CallID string
}

func (e *MissingClientError) Error() string {
	return fmt.Sprintf("no tool client registered for tool %q (call %s)", e.Tool, e.CallID)
}

// MissingHandlerError means the registry has no handler for a
// mandatory derived-stage call's tool.
type MissingHandlerError struct {
	Tool   string
	Stage  models.Stage
	CallID string
}

func (e *MissingHandlerError) Error() string {
	return fmt.Sprintf("no %s handler registered for tool %q (call %s)", e.Stage, e.Tool, e.CallID)
}

// MissingSourceEffectError means a mandatory call's source_call_id
// points at a call that was skipped, never completed, or does not
// exist in the plan.
type MissingSourceEffectError struct {
	CallID       string
	SourceCallID string
	Stage        models.Stage
}

func (e *MissingSourceEffectError) Error() string {
	if e.SourceCallID == "" {
		return fmt.Sprintf("%s call %s has no source_call_id", e.Stage, e.CallID)
	}
	return fmt.Sprintf("%s call %s: no upstream effect from source call %q", e.Stage, e.CallID, e.SourceCallID)
}

// UnsupportedStageError means a call names a stage outside the four
// known pipeline stages.
type UnsupportedStageError struct {
	CallID string
	Stage  models.Stage
}

func (e *UnsupportedStageError) Error() string {
	return fmt.Sprintf("call %s has unsupported stage %q", e.CallID, e.Stage)
}

// DependencyCycleError means a full scheduling pass completed no call:
// either the plan has a cycle or a mandatory dependency can never be
// satisfied.
type DependencyCycleError struct {
	Remaining []string
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("no schedulable calls, dependency cycle among: %s", strings.Join(e.Remaining, ", "))
}
