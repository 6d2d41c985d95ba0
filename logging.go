package ring

import (
	"io"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// Logger is the structured-logging facade used throughout this package:
// a logiface.Logger bound to an izerolog event. Grounded on the teacher's
// pattern of layering logiface over a concrete backend (used in the
// teacher's own test suite; promoted here to the production logging
// dependency per SPEC_FULL.md §2) and on izerolog's documented
// WithZerolog binding.
//
// A zero-value-equivalent Logger (logiface.New[*izerolog.Event]() with no
// writer configured) is disabled and safe to use as a default: every
// call site in this package treats a nil Logger as "use the default
// disabled logger".
type Logger = logiface.Logger[*izerolog.Event]

// NewZerologLogger builds a Logger backed by a zerolog.Logger writing
// JSON lines to w, the one documented debug-logging toggle spec §6
// allows ("an optional debug-logging toggle for the library's own log
// stream").
func NewZerologLogger(w io.Writer, level logiface.Level) *Logger {
	zl := zerolog.New(w).With().Timestamp().Logger()
	return logiface.New[*izerolog.Event](
		izerolog.WithZerolog(zl),
		logiface.WithLevel[*izerolog.Event](level),
	)
}

// defaultLogger returns a disabled logger, used whenever a constructor
// receives a nil Logger option.
func defaultLogger() *Logger {
	return logiface.New[*izerolog.Event]()
}

func orDefault(l *Logger) *Logger {
	if l == nil {
		return defaultLogger()
	}
	return l
}
