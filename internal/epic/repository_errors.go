package epic

import "github.com/joshjon/kit/errtag"

// ErrTagNotFound indicates an epic id or prefix matched no row.
type ErrTagNotFound struct{ errtag.NotFound }

func (ErrTagNotFound) Msg() string { return "epic not found" }

func (e ErrTagNotFound) Unwrap() error {
	return errtag.Tag[errtag.NotFound](e.Cause())
}

// ErrTagAmbiguous indicates a short-id prefix matched more than one row.
type ErrTagAmbiguous struct{ errtag.Conflict }

func (ErrTagAmbiguous) Msg() string { return "id prefix matches more than one epic" }

func (e ErrTagAmbiguous) Unwrap() error {
	return errtag.Tag[errtag.Conflict](e.Cause())
}
