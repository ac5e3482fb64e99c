package logx

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pkt.systems/pslog"
)

func newCaptureLogger(capture *logCapture) pslog.Logger {
	return pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
}

func TestWithSessionAndTurn(t *testing.T) {
	capture := &logCapture{}
	log := WithTurn(WithSession(newCaptureLogger(capture), "s1"), "t1")
	log.Info("hello")

	entry := capture.firstEntry(t)
	assert.Equal(t, "s1", entry["session"])
	assert.Equal(t, "t1", entry["turn"])
}

func TestEmptyIDsAddNothing(t *testing.T) {
	capture := &logCapture{}
	log := WithToolCall(WithSession(newCaptureLogger(capture), ""), "", "")
	log.Info("hello")

	entry := capture.firstEntry(t)
	assert.NotContains(t, entry, "session")
	assert.NotContains(t, entry, "tool")
	assert.NotContains(t, entry, "call")
}

func TestWithRoute(t *testing.T) {
	capture := &logCapture{}
	WithRoute(newCaptureLogger(capture), "GET", "/api/x", "forward").Info("request")

	entry := capture.firstEntry(t)
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, "/api/x", entry["path"])
	assert.Equal(t, "forward", entry["route"])
}

func TestLevel(t *testing.T) {
	assert.Equal(t, pslog.InfoLevel, Level(false, false))
	assert.Equal(t, pslog.DebugLevel, Level(true, false))
	assert.Equal(t, pslog.WarnLevel, Level(true, true))
}

type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logCapture) firstEntry(t *testing.T) map[string]any {
	t.Helper()
	data := c.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		idx = len(data)
	}
	line := bytes.TrimSpace(data[:idx])
	entry := map[string]any{}
	require.NoError(t, json.Unmarshal(line, &entry), "parse log entry")
	return entry
}
