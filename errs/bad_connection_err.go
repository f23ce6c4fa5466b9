package errs

import "errors"

/*
	A error type for a backing store that keeps handing out broken connections

	Acquire returns BadConnectionErr once a single call has discarded more bad
	connections than the pool tolerates.
*/
type BadConnectionErr struct {
	msg      string
	attempts int
}

func (e BadConnectionErr) Error() string {
	return e.msg
}

// Attempts is the number of bad connections discarded before giving up.
func (e BadConnectionErr) Attempts() int {
	return e.attempts
}

func NewBadConnectionErr(cause string, attempts int) BadConnectionErr {
	return BadConnectionErr{
		msg:      cause,
		attempts: attempts,
	}
}

func IsBadConnectionErr(e error) bool {
	var target BadConnectionErr
	return errors.As(e, &target)
}
