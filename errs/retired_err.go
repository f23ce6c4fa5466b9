package errs

import "errors"

/*
	A error type for using a connection handle after it was invalidated
*/
type RetiredErr struct {
	msg string
}

func (e RetiredErr) Error() string {
	return e.msg
}

func NewDefaultRetiredErr() RetiredErr {
	return NewRetiredErr("connection handle retired: it was returned to the pool or reclaimed")
}

func NewRetiredErr(cause string) RetiredErr {
	return RetiredErr{
		msg: cause,
	}
}

func IsRetiredErr(e error) bool {
	var target RetiredErr
	return errors.As(e, &target)
}
