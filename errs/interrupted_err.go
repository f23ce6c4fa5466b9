package errs

import "errors"

/*
	A error type for an acquire whose wait was cancelled

	The wrapped cause is the context error, so errors.Is(err, context.Canceled)
	and errors.Is(err, context.DeadlineExceeded) keep working.
*/
type InterruptedErr struct {
	msg   string
	cause error
}

func (e InterruptedErr) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return e.msg + ": " + e.cause.Error()
}

func (e InterruptedErr) Unwrap() error {
	return e.cause
}

func NewInterruptedErr(cause string, err error) InterruptedErr {
	return InterruptedErr{
		msg:   cause,
		cause: err,
	}
}

func IsInterruptedErr(e error) bool {
	var target InterruptedErr
	return errors.As(e, &target)
}
