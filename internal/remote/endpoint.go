package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/locationtracker/agent/internal/codec"
)

// RemoteEndpoint is the replication peer of the local store
type RemoteEndpoint interface {
	// FetchChangesSince returns documents changed after cursor and the cursor to resume from.
	// An empty cursor means from the beginning.
	FetchChangesSince(ctx context.Context, cursor string) (ChangeBatch, error)
	// Submit writes documents and reports per-document acceptance
	Submit(ctx context.Context, docs []codec.Document) ([]SubmitResult, error)
}

// ChangeBatch is one page of remote changes
type ChangeBatch struct {
	Documents []codec.Document
	Cursor    string
}

// SubmitResult is the remote verdict for one submitted document
type SubmitResult struct {
	ID       string
	Accepted bool
	Reason   string
}

// ErrTransport is matched by every TransportError
var ErrTransport = errors.New("remote transport failure")

// TransportError reports a failed exchange with the remote endpoint
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func transportErr(op string, status int, err error) error {
	return &TransportError{Op: op, StatusCode: status, Err: err}
}

// Accepted returns the ids of accepted results
func Accepted(results []SubmitResult) []string {
	ids := make([]string, 0, len(results))
	for _, r := range results {
		if r.Accepted {
			ids = append(ids, r.ID)
		}
	}
	return ids
}
