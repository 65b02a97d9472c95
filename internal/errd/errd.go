// Package errd contains helpers for decorating errors on function exit.
package errd

import (
	"fmt"

	"golang.org/x/xerrors"
)

type wrapError struct {
	msg   string
	err   error
	frame xerrors.Frame
}

func (e *wrapError) Error() string {
	return fmt.Sprint(e)
}

func (e *wrapError) Format(s fmt.State, v rune) { xerrors.FormatError(e, s, v) }

func (e *wrapError) FormatError(p xerrors.Printer) (next error) {
	p.Print(e.msg)
	e.frame.Format(p)
	return e.err
}

func (e *wrapError) Unwrap() error {
	return e.err
}

// Wrap wraps *err with msg and the caller's frame if *err is non nil.
// Intended for use with defer and a named error return.
// Errors that are already wrapped with the same message are left alone so
// helpers calling each other do not stutter.
func Wrap(err *error, f string, v ...interface{}) {
	if *err == nil {
		return
	}
	msg := fmt.Sprintf(f, v...)
	if we, ok := (*err).(*wrapError); ok && we.msg == msg {
		return
	}
	*err = &wrapError{
		msg:   msg,
		err:   *err,
		frame: xerrors.Caller(1),
	}
}
