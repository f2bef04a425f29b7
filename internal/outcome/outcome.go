// Package outcome carries the result of a best-effort collaborator call.
//
// Storage and model backends never abort the conversation loop: callers branch on
// Status instead of unwinding errors. Err is kept for logging only.
package outcome

import "fmt"

type Status string

const (
	StatusOK     Status = "ok"
	StatusEmpty  Status = "empty"
	StatusFailed Status = "failed"
)

// Result is a value together with how it was obtained.
type Result[T any] struct {
	Value  T
	Status Status
	Err    error
}

func OK[T any](v T) Result[T] {
	return Result[T]{Value: v, Status: StatusOK}
}

func Empty[T any]() Result[T] {
	return Result[T]{Status: StatusEmpty}
}

// Failed records err. The zero value of T is returned as the value, so a failed
// read degrades to "nothing" without extra branching at the call site.
func Failed[T any](err error) Result[T] {
	if err == nil {
		err = fmt.Errorf("unspecified failure")
	}
	return Result[T]{Status: StatusFailed, Err: err}
}

func (r Result[T]) Ok() bool { return r.Status == StatusOK }

func (r Result[T]) Failed() bool { return r.Status == StatusFailed }

func (r Result[T]) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %v", r.Status, r.Err)
	}
	return string(r.Status)
}
