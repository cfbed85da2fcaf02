package record

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
)

// Failure is the raw failure context attached to a record inside the
// originating process: the error value and the stack captured where it was
// logged.
type Failure struct {
	Err   error
	Stack []byte
}

// CaptureFailure builds a Failure for err with the current goroutine's stack.
func CaptureFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	return &Failure{Err: err, Stack: debug.Stack()}
}

// Render formats the failure as text: the error type and message, each
// wrapped cause on its own line, then the captured stack.
func (f *Failure) Render() string {
	if f == nil || f.Err == nil {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%T: %s", f.Err, f.Err.Error())

	seen := f.Err.Error()
	for cause := errors.Unwrap(f.Err); cause != nil; cause = errors.Unwrap(cause) {
		msg := cause.Error()
		if msg == seen {
			continue
		}
		fmt.Fprintf(&sb, "\ncaused by %T: %s", cause, msg)
		seen = msg
	}

	if len(f.Stack) > 0 {
		sb.WriteString("\n")
		sb.WriteString(strings.TrimRight(string(f.Stack), "\n"))
	}
	return sb.String()
}
