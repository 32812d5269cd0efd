package posebuffer

import (
	"io"
	"log"
)

var (
	opsLogger   *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures the logging streams for the posebuffer package.
// The diag stream is accepted for symmetry with the other packages but
// nothing here logs at that level. Pass nil for any writer to disable it.
func SetLogWriters(ops, diag, trace io.Writer) {
	opsLogger = newLogger("[posebuffer] ", ops)
	traceLogger = newLogger("[posebuffer] ", trace)
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

func opsf(format string, args ...interface{}) {
	if opsLogger != nil {
		opsLogger.Printf(format, args...)
	}
}

func tracef(format string, args ...interface{}) {
	if traceLogger != nil {
		traceLogger.Printf(format, args...)
	}
}
