package observability

import (
	"time"

	"github.com/sirupsen/logrus"
)

// LogTracer implements hyperhttp.Tracer by emitting one structured log
// entry per traced phase. Grounded on nabbar-golib/logger's Fields-map
// convention for logrus field construction.
type LogTracer struct {
	log *logrus.Entry
}

// NewLogTracer wraps log (nil uses logrus.StandardLogger()) as a Tracer.
func NewLogTracer(log *logrus.Logger) *LogTracer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogTracer{log: log.WithField("component", "hyperhttp")}
}

// Trace implements hyperhttp.Tracer. Errors are logged at Warn, every
// other phase at Debug so a default-level production logger stays quiet.
func (t *LogTracer) Trace(phase, url string, elapsed time.Duration, protocol string, err error) {
	fields := logrus.Fields{
		"phase":    phase,
		"url":      url,
		"elapsed":  elapsed,
		"protocol": protocol,
	}
	if err != nil {
		t.log.WithFields(fields).WithError(err).Warn("hyperhttp request phase failed")
		return
	}
	t.log.WithFields(fields).Debug("hyperhttp request phase")
}
