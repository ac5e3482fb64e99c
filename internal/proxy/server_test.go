package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/flycli/internal/session"
)

type received struct {
	method string
	path   string
	body   string
	host   string
	xff    string
}

// newBackend starts a fake application and returns its port.
func newBackend(t *testing.T) (int, <-chan received) {
	t.Helper()
	reqs := make(chan received, 8)
	upgrader := websocket.Upgrader{}
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer conn.Close()
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			_ = conn.WriteMessage(mt, append([]byte("echo:"), msg...))
			return
		}
		body, _ := io.ReadAll(r.Body)
		reqs <- received{
			method: r.Method,
			path:   r.URL.RequestURI(),
			body:   string(body),
			host:   r.Host,
			xff:    r.Header.Get("X-Forwarded-For"),
		}
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "1", Domain: "app.test", Path: "/"})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"from":"app"}`))
	}))
	t.Cleanup(backend.Close)
	return backend.Listener.Addr().(*net.TCPAddr).Port, reqs
}

func testPanel() fstest.MapFS {
	return fstest.MapFS{
		"index.html":    {Data: []byte("<html><head><title>panel</title></head><body></body></html>")},
		"assets/app.js": {Data: []byte("console.log('panel')")},
	}
}

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	if opts.Panel == nil {
		opts.Panel = testPanel()
	}
	s, err := New(opts)
	require.NoError(t, err)
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return s, ts
}

func TestServer_AssetsAreLocal(t *testing.T) {
	_, ts := newTestServer(t, Options{AppPort: 1})

	resp, err := http.Get(ts.URL + "/assets/app.js")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "console.log('panel')", string(body))
}

func TestServer_MissingAssetIs404(t *testing.T) {
	appPort, reqs := newBackend(t)
	_, ts := newTestServer(t, Options{AppPort: appPort})

	resp, err := http.Get(ts.URL + "/assets/missing.js")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Empty(t, reqs)
}

func TestServer_ForwardPreservesMethodAndBody(t *testing.T) {
	appPort, reqs := newBackend(t)
	_, ts := newTestServer(t, Options{AppPort: appPort})

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/anything?x=1", strings.NewReader(`{"a":1}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"from":"app"}`, string(body))
	assert.Equal(t, []string{"sid=1; Path=/"}, resp.Header.Values("Set-Cookie"))

	got := <-reqs
	assert.Equal(t, http.MethodPut, got.method)
	assert.Equal(t, "/api/anything?x=1", got.path)
	assert.Equal(t, `{"a":1}`, got.body)
	assert.Contains(t, got.host, "localhost:")
	assert.NotEmpty(t, got.xff)
}

func TestServer_DocumentCarriesAppPort(t *testing.T) {
	s, ts := newTestServer(t, Options{AppPort: 5173})

	for _, path := range []string{"/", "/index.html"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
		assert.Contains(t, string(body), "<script>window.FLYCLI_APP_PORT = 5173;</script></head>")
	}

	s.SetAppPort(4000)
	doc, err := s.Document()
	require.NoError(t, err)
	assert.Contains(t, string(doc), "window.FLYCLI_APP_PORT = 4000;")
}

func TestServer_AgentRequiresUpgrade(t *testing.T) {
	mgr := session.NewManager(context.Background(), session.Options{})
	_, ts := newTestServer(t, Options{AppPort: 1, Agent: mgr})

	resp, err := http.Get(ts.URL + "/agent")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestServer_AgentUnavailable(t *testing.T) {
	_, ts := newTestServer(t, Options{AppPort: 1})

	resp, err := http.Get(ts.URL + "/agent")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_ControlEndpoints(t *testing.T) {
	_, ts := newTestServer(t, Options{
		AppPort:      3000,
		Config:       map[string]any{"port": 3100},
		DefaultModel: "anthropic/claude-sonnet-4.5",
	})

	getJSON := func(path string) map[string]any {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	health := getJSON("/__flycli/health")
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 3000, health["appPort"])

	cfg := getJSON("/__flycli/config")
	assert.EqualValues(t, 3100, cfg["port"])

	models := getJSON("/__flycli/models")
	assert.Equal(t, "anthropic/claude-sonnet-4.5", models["default"])
	assert.NotEmpty(t, models["models"])

	resp, err := http.Get(ts.URL + "/__flycli/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "flycli_")

	resp, err = http.Get(ts.URL + "/__flycli/unknown")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_WebSocketTunnel(t *testing.T) {
	appPort, _ := newBackend(t)
	_, ts := newTestServer(t, Options{AppPort: appPort})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/_hmr"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "echo:ping", string(msg))
}

func TestServer_LauncherInjectedIntoProxiedHTML(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(testHTML))
	}))
	defer backend.Close()
	appPort := backend.Listener.Addr().(*net.TCPAddr).Port

	_, ts := newTestServer(t, Options{AppPort: appPort, InjectLauncher: true})
	resp, err := http.Get(ts.URL + "/about")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.True(t, bytes.Contains(body, []byte("data-flycli-launcher")))
	assert.Contains(t, string(body), "Hello World")
}

func TestServer_StartStop(t *testing.T) {
	s, err := New(Options{ListenPort: 0, AppPort: 3000, Panel: testPanel()})
	require.NoError(t, err)
	assert.ErrorIs(t, s.Stop(context.Background()), ErrNotRunning)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	select {
	case <-s.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server not ready")
	}
	assert.NotZero(t, s.Port())

	resp, err := http.Get("http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(s.Port())) + "/__flycli/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.False(t, s.IsRunning())
}

func TestNew_InvalidPort(t *testing.T) {
	_, err := New(Options{ListenPort: 70000})
	require.Error(t, err)
}
