package errs

import "errors"

/*
	A error type for invoke method on closed pool

	ClosedErr is the error resulting if the pool is shut down via Pool.Close()
*/
type ClosedErr struct {
	msg string
}

func (e ClosedErr) Error() string {
	return e.msg
}

func NewDefaultClosedErr() ClosedErr {
	return NewClosedErr("pool closed err")
}

func NewClosedErr(cause string) ClosedErr {
	return ClosedErr{
		msg: cause,
	}
}

func IsClosedErr(e error) bool {
	var target ClosedErr
	return errors.As(e, &target)
}
