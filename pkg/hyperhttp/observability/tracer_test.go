package observability

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestTracer(buf *bytes.Buffer) *LogTracer {
	log := logrus.New()
	log.SetOutput(buf)
	log.SetLevel(logrus.DebugLevel)
	log.SetFormatter(&logrus.JSONFormatter{})
	return NewLogTracer(log)
}

func TestLogTracerLogsSuccessAtDebug(t *testing.T) {
	var buf bytes.Buffer
	tr := newTestTracer(&buf)

	tr.Trace("complete", "https://example.com", 5*time.Millisecond, "h2", nil)

	require.Contains(t, buf.String(), `"phase":"complete"`)
	require.Contains(t, buf.String(), `"level":"debug"`)
}

func TestLogTracerLogsErrorAtWarn(t *testing.T) {
	var buf bytes.Buffer
	tr := newTestTracer(&buf)

	tr.Trace("connect", "https://example.com", time.Millisecond, "h1", errors.New("dial timeout"))

	require.Contains(t, buf.String(), `"level":"warning"`)
	require.Contains(t, buf.String(), "dial timeout")
}
