package core

import "github.com/book-expert/logger"

const logFmtProgress = "%s [%3.0f%%] %s"

// LogProgress forwards progress updates to a logger, prefixed with a fixed label
// such as "[2/5]".
type LogProgress struct {
	log    *logger.Logger
	prefix string
}

// NewLogProgress creates a logger-backed progress sink.
func NewLogProgress(log *logger.Logger, prefix string) *LogProgress {
	return &LogProgress{log: log, prefix: prefix}
}

// Report implements ProgressSink.
func (p *LogProgress) Report(fraction float64, label string) {
	p.log.Info(logFmtProgress, p.prefix, fraction*100, label)
}

// WithPrefix returns a sink that prepends prefix to every label before
// forwarding it to sink.
func WithPrefix(sink ProgressSink, prefix string) ProgressSink {
	if prefix == "" {
		return sink
	}

	return prefixedSink{sink: sink, prefix: prefix}
}

type prefixedSink struct {
	sink   ProgressSink
	prefix string
}

func (p prefixedSink) Report(fraction float64, label string) {
	p.sink.Report(fraction, p.prefix+" "+label)
}
