package resilience

// Status is the outcome of an outbound call.
type Status int

const (
	// StatusOK means Value holds a usable result.
	StatusOK Status = iota
	// StatusEmpty means the call succeeded but produced nothing usable.
	StatusEmpty
	// StatusFailed means the call failed; Err carries a classified error.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusEmpty:
		return "empty"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is returned by every outbound-call wrapper instead of an error so
// callers can degrade explicitly.
type Result[T any] struct {
	Status Status
	Value  T
	Err    error
}

// OK wraps a usable value.
func OK[T any](v T) Result[T] {
	return Result[T]{Status: StatusOK, Value: v}
}

// Empty reports a successful call with no usable value.
func Empty[T any]() Result[T] {
	return Result[T]{Status: StatusEmpty}
}

// Failed reports a failed call. The value is the zero value of T.
func Failed[T any](err error) Result[T] {
	return Result[T]{Status: StatusFailed, Err: err}
}

// Kind returns the failure kind, or KindUnknown for non-failed results.
func (r Result[T]) Kind() Kind {
	if r.Status != StatusFailed {
		return KindUnknown
	}
	return KindOf(r.Err)
}

// OrZero returns the value for OK results and the zero value otherwise.
func (r Result[T]) OrZero() T {
	if r.Status == StatusOK {
		return r.Value
	}
	var zero T
	return zero
}
