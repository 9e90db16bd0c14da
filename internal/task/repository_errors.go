package task

import "github.com/joshjon/kit/errtag"

// ErrTagNotFound indicates a task id or prefix matched no row.
type ErrTagNotFound struct{ errtag.NotFound }

func (ErrTagNotFound) Msg() string { return "task not found" }

func (e ErrTagNotFound) Unwrap() error {
	return errtag.Tag[errtag.NotFound](e.Cause())
}

// ErrTagAmbiguous indicates a short-id prefix matched more than one row.
type ErrTagAmbiguous struct{ errtag.Conflict }

func (ErrTagAmbiguous) Msg() string { return "id prefix matches more than one task" }

func (e ErrTagAmbiguous) Unwrap() error {
	return errtag.Tag[errtag.Conflict](e.Cause())
}

// ErrTagCycleDetected indicates AddDependency would close a cycle in the
// blocked_by graph.
type ErrTagCycleDetected struct{ errtag.Conflict }

func (ErrTagCycleDetected) Msg() string { return "dependency would introduce a cycle" }

func (e ErrTagCycleDetected) Unwrap() error {
	return errtag.Tag[errtag.Conflict](e.Cause())
}

// ErrTagNotPending indicates an operation required a task in a status it
// was not in (e.g. start on a non-open task).
type ErrTagNotPending struct{ errtag.Conflict }

func (ErrTagNotPending) Msg() string { return "task is not in the required status" }

func (e ErrTagNotPending) Unwrap() error {
	return errtag.Tag[errtag.Conflict](e.Cause())
}
