package backend

import (
	"net/http"

	"github.com/vitrine-ops/imgsync/internal/model"
)

// Outcome is the parsed answer of a job request: Completed, Deferred or
// Rejected. Callers switch on the concrete type.
type Outcome interface {
	outcome()
}

// Completed carries a result payload, finished or still in progress.
type Completed struct {
	Payload    model.Payload
	StatusCode int
}

// Deferred means the server accepted the job and will finish it in the
// background.
type Deferred struct {
	Ticket model.Ticket
}

// Rejected is a non-success answer without a result payload.
type Rejected struct {
	StatusCode int
	Message    string
}

func (Completed) outcome() {}
func (Deferred) outcome()  {}
func (Rejected) outcome()  {}

// Err converts r into an *Error for op.
func (r Rejected) Err(op string) error {
	return &Error{Op: op, Kind: KindRejected, StatusCode: r.StatusCode, Message: r.Message}
}

// NotFound reports a 404, which the status endpoint uses for "no previous run".
func (r Rejected) NotFound() bool {
	return r.StatusCode == http.StatusNotFound
}
