package errs

import "errors"

/*
	A error type for programming errors against the pool

	It is never returned: the pool panics with it, e.g. when a handle is
	invalidated twice or a live handle is released into a pool that did not
	hand it out.
*/
type InvariantViolationErr struct {
	msg string
}

func (e InvariantViolationErr) Error() string {
	return e.msg
}

func NewInvariantViolationErr(cause string) InvariantViolationErr {
	return InvariantViolationErr{
		msg: cause,
	}
}

func IsInvariantViolationErr(e error) bool {
	var target InvariantViolationErr
	return errors.As(e, &target)
}
