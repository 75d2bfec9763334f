package debug

import (
	"fmt"
	"runtime"
)

// Assert panics when truth is false. Only for programmer errors; anything a
// remote peer can cause is an error instead.
//
// NOTE: shape borrowed from
// https://github.com/golang/go/blob/eaa7d9ff86b35c72cc35bd7c14b349fa414c392f/src/go/types/errors.go#L18
func Assert(truth bool, msg ...string) {
	if len(msg) > 1 {
		panic("invalid assert args")
	}
	if truth {
		return
	}

	text := "assertion failed"
	if len(msg) == 1 {
		text = fmt.Sprintf("assertion failed: %s", msg[0])
	}
	// the location is otherwise buried in the middle of the panicking stack
	if _, file, line, ok := runtime.Caller(1); ok {
		text = fmt.Sprintf("%s:%d: %s", file, line, text)
	}
	panic(text)
}
