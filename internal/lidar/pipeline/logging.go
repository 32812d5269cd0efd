package pipeline

import (
	"io"
	"log"
	"time"
)

var (
	opsLogger   *log.Logger
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures the three logging streams for the pipeline package.
// Pass nil for any writer to disable that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	opsLogger = newLogger("[pipeline] ", ops)
	diagLogger = newLogger("[pipeline] ", diag)
	traceLogger = newLogger("[pipeline] ", trace)
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// opsf logs to the ops stream (skipped cycles, sink failures, lifecycle).
func opsf(format string, args ...interface{}) {
	if opsLogger != nil {
		opsLogger.Printf(format, args...)
	}
}

// diagf logs to the diag stream (per-cycle summaries).
func diagf(format string, args ...interface{}) {
	if diagLogger != nil {
		diagLogger.Printf(format, args...)
	}
}

// tracef logs to the trace stream (per-frame sizes and stage timings).
func tracef(format string, args ...interface{}) {
	if traceLogger != nil {
		traceLogger.Printf(format, args...)
	}
}

// stageTimer records the duration of one named stage to the trace log and
// the stage histogram.
type stageTimer struct {
	pipeline string
	frame    string
	metrics  *Metrics
	start    time.Time
}

func (m *Metrics) startStage(pipeline, frame string) stageTimer {
	return stageTimer{pipeline: pipeline, frame: frame, metrics: m, start: time.Now()}
}

func (s *stageTimer) done(stage string) {
	d := time.Since(s.start)
	s.metrics.observeStage(s.pipeline, stage, d)
	tracef("[%s] frame %s stage %s took %v", s.pipeline, s.frame, stage, d)
	s.start = time.Now()
}
