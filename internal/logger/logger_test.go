package logger

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStandardLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewStandardLogger(&buf)

	l.Debugf("hidden %d", 1)
	l.Infof("shown %d", 2)
	l.Errorf("bad %s", "thing")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INFO:  shown 2")
	assert.Contains(t, out, "ERROR: bad thing")
}

func TestVerboseLoggerPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := NewVerboseLogger(&buf).WithPrefix("rank[1] ")

	l.Debugf("listening")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 1)
	assert.Contains(t, lines[0], "rank[1] DEBUG: listening")
}

func TestBufferLogger(t *testing.T) {
	b := NewBufferLogger()
	b.Warnf("w%d", 1)
	b.WithPrefix("x").Infof("i")

	assert.Equal(t, []string{"WARN:  w1", "INFO:  i"}, b.Messages())
}

type logfRecorder struct{ lines []string }

func (r *logfRecorder) Logf(format string, v ...interface{}) {
	r.lines = append(r.lines, fmt.Sprintf(format, v...))
}

func TestLogfLogger(t *testing.T) {
	var r logfRecorder
	l := NewLogfLogger(&r).WithPrefix("rank[0] ")
	l.Debugf("send %s", "GREQ")
	l.WithPrefix("p ").Errorf("x")

	assert.Equal(t, []string{"rank[0] send GREQ", "rank[0] p x"}, r.lines)
}

func TestNopLogger(t *testing.T) {
	// must not panic
	NopLogger.WithPrefix("p").Errorf("nothing %v", nil)
}
