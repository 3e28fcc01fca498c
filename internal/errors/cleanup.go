// Package errors provides error-handling helpers shared by the binscope loaders and CLI.
package errors

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// DeferClose properly closes an io.Closer with logging.
// Use this in defer statements to avoid suppressing close errors.
func DeferClose(logger zerolog.Logger, closer io.Closer, msg string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn().Err(err).Msg(msg)
	}
}

// Must panics if error is not nil.
// Use only for initialization code where failure should halt the program.
func Must(err error, msg string) {
	if err != nil {
		panic(fmt.Sprintf("%s: %v", msg, err))
	}
}

// Recover converts a panic raised while parsing untrusted bytes into an error wrapping kind.
// It must be called directly in a defer statement:
//
//	defer errors.Recover(&err, binary.ErrContainerParse)
func Recover(errp *error, kind error) {
	r := recover()
	if r == nil {
		return
	}
	*errp = fmt.Errorf("%w: recovered from panic: %v", kind, r)
}
