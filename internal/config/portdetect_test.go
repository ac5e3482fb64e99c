package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDetectFromOutput(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   int
	}{
		{"vite", "  VITE v5.0.0  ready in 300 ms\n\n  ➜  Local:   http://localhost:5173/\n", 5173},
		{"next", "   ▲ Next.js 14.1.0\n   - Local:        http://localhost:3001\n", 3001},
		{"ansi colored", "\x1b[32m➜\x1b[39m  \x1b[1mLocal\x1b[22m:   \x1b[36mhttp://localhost:\x1b[1m5174\x1b[22m/\x1b[39m", 5174},
		{"listening", "Server listening on port 8080", 8080},
		{"express", "App is running at http://127.0.0.1:4000", 4000},
		{"none", "compiling...", 0},
		{"out of range", "http://localhost:99999", 0},
	}
	pd := NewPortDetector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pd.DetectFromOutput(tt.output))
		})
	}
}

func TestDetectFromOutput_Exclude(t *testing.T) {
	pd := NewPortDetector(3100)
	out := "proxy on http://localhost:3100\nLocal: http://localhost:3000/"
	assert.Equal(t, 3000, pd.DetectFromOutput(out))
}

func TestParseSs(t *testing.T) {
	out := `State  Recv-Q Send-Q Local Address:Port Peer Address:Port Process
LISTEN 0      511    *:3000             *:*     users:(("node",pid=42,fd=20))
LISTEN 0      511    [::1]:24678        [::]:*  users:(("node",pid=42,fd=22))
LISTEN 0      128    0.0.0.0:22         0.0.0.0:* users:(("sshd",pid=421,fd=3))
`
	assert.Equal(t, []int{3000, 24678}, NewPortDetector().parseSs(out, 42))
	assert.Empty(t, NewPortDetector().parseSs(out, 4))
}

func TestWaitForPort(t *testing.T) {
	pd := NewPortDetector()
	calls := 0
	port := pd.WaitForPort(context.Background(), 0, func() string {
		calls++
		if calls < 3 {
			return "starting"
		}
		return "ready on http://localhost:5555"
	}, 5*time.Second)
	assert.Equal(t, 5555, port)

	port = pd.WaitForPort(context.Background(), 0, func() string { return "" }, 300*time.Millisecond)
	assert.Equal(t, 0, port)
}
