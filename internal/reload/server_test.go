package reload

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/villasimius/sitebuild/internal/pipeline"
)

func newTestServer(t *testing.T, upstream *httptest.Server, delay time.Duration) (*Server, *httptest.Server) {
	t.Helper()
	u, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	s, err := NewServer(Config{Addr: "127.0.0.1:0", Proxy: u.Host, Delay: delay}, nil)
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = s.Shutdown(context.Background())
	})
	return s, ts
}

func dial(t *testing.T, s *Server, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+SocketPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	require.Eventually(t, func() bool { return s.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) (Message, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		return Message{}, err
	}
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg, nil
}

func htmlUpstream() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			io.WriteString(w, "<html><body><h1>home</h1></body></html>")
		default:
			w.Header().Set("Content-Type", "text/css")
			io.WriteString(w, "body{}</body>")
		}
	}))
}

func TestProxyInjectsClientScript(t *testing.T) {
	upstream := htmlUpstream()
	defer upstream.Close()
	_, ts := newTestServer(t, upstream, 0)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `<h1>home</h1><script src="/__sitebuild/client.js"></script></body>`)
	assert.Equal(t, int64(len(body)), resp.ContentLength)

	resp, err = http.Get(ts.URL + "/stylesheets/app.css")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "body{}</body>", string(body))
}

func TestProxyUpstreamDown(t *testing.T) {
	upstream := htmlUpstream()
	_, ts := newTestServer(t, upstream, 0)
	upstream.Close()

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, string(body), ClientPath)
}

func TestClientScriptAndStatus(t *testing.T) {
	upstream := htmlUpstream()
	defer upstream.Close()
	s, ts := newTestServer(t, upstream, 0)

	resp, err := http.Get(ts.URL + ClientPath)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "javascript")
	assert.Contains(t, string(body), SocketPath)

	s.Record(&pipeline.Report{
		Task:     "sass",
		Started:  time.Now(),
		Finished: time.Now(),
		Failures: []pipeline.StageError{{Task: "sass", Producer: "sass", Kind: pipeline.KindTransform, Err: assertErr("<undefined mixin>")}},
	})
	s.SetMetrics(func() pipeline.MetricsSnapshot { return pipeline.MetricsSnapshot{TotalRuns: 1} })
	bc := pipeline.NewBuildContext(false, true)
	s.SetSession(bc)

	resp, err = http.Get(ts.URL + StatusPath)
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "sass")
	assert.Contains(t, string(body), "&lt;undefined mixin&gt;")
	assert.Contains(t, string(body), "1 run(s)")
	assert.Contains(t, string(body), "development session "+bc.RunID())
	assert.Contains(t, string(body), bc.Started().Format("2006-01-02 15:04:05"))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestNotifyClientsReloadCoalesces(t *testing.T) {
	upstream := htmlUpstream()
	defer upstream.Close()
	s, ts := newTestServer(t, upstream, 80*time.Millisecond)
	conn := dial(t, s, ts)

	start := time.Now()
	for i := 0; i < 5; i++ {
		s.NotifyClientsReload(context.Background())
	}

	msg, err := readMessage(t, conn, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, MessageReload, msg.Type)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	// The five requests produced a single broadcast.
	_, err = readMessage(t, conn, 250*time.Millisecond)
	assert.Error(t, err)
}

func TestNotifyError(t *testing.T) {
	upstream := htmlUpstream()
	defer upstream.Close()
	s, ts := newTestServer(t, upstream, 0)
	conn := dial(t, s, ts)

	s.NotifyError(context.Background(), "sass", "Undefined variable $brand")
	msg, err := readMessage(t, conn, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, MessageError, msg.Type)
	assert.Equal(t, "sass", msg.Target)
	assert.Equal(t, "Undefined variable $brand", msg.Content)

	s.Record(&pipeline.Report{Task: "sass"})
	msg, err = readMessage(t, conn, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, MessageClear, msg.Type)
}

// cleanRun is a report in which every named producer succeeded.
func cleanRun(task string, producers ...string) *pipeline.Report {
	members := make([]pipeline.MemberReport, len(producers))
	for i, p := range producers {
		members[i] = pipeline.MemberReport{Name: p}
	}
	return &pipeline.Report{Task: task, Stages: []pipeline.StageReport{{Members: members}}}
}

func TestUnrelatedCleanRunKeepsOverlay(t *testing.T) {
	upstream := htmlUpstream()
	defer upstream.Close()
	s, ts := newTestServer(t, upstream, 0)
	conn := dial(t, s, ts)

	s.NotifyError(context.Background(), "sass", "Undefined mixin")
	msg, err := readMessage(t, conn, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, MessageError, msg.Type)

	s.Record(cleanRun("fonts", "fonts"))
	s.Record(cleanRun("images:refresh", "optimize", "images"))
	// Messages arrive in broadcast order, so the reload comes first unless
	// one of the clean runs cleared the overlay.
	s.NotifyClientsReload(context.Background())
	msg, err = readMessage(t, conn, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, MessageReload, msg.Type)

	s.Record(cleanRun("watch:init", "clean", "fonts", "sass"))
	msg, err = readMessage(t, conn, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, MessageClear, msg.Type)
}

func TestRecoveryShowsRemainingFailure(t *testing.T) {
	upstream := htmlUpstream()
	defer upstream.Close()
	s, ts := newTestServer(t, upstream, 0)
	conn := dial(t, s, ts)

	s.NotifyError(context.Background(), "sass", "Undefined mixin")
	s.NotifyError(context.Background(), "lint:js", "Unexpected token")
	for i := 0; i < 2; i++ {
		_, err := readMessage(t, conn, 2*time.Second)
		require.NoError(t, err)
	}

	s.Record(cleanRun("sass", "sass"))
	msg, err := readMessage(t, conn, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, MessageError, msg.Type)
	assert.Equal(t, "lint:js", msg.Target)
	assert.Equal(t, "Unexpected token", msg.Content)

	s.Record(cleanRun("lint:js", "lint:js"))
	msg, err = readMessage(t, conn, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, MessageClear, msg.Type)
}

func TestCleanRunWithoutFailuresSendsNothing(t *testing.T) {
	upstream := htmlUpstream()
	defer upstream.Close()
	s, ts := newTestServer(t, upstream, 0)
	conn := dial(t, s, ts)

	s.Record(cleanRun("build", "clean", "sass"))
	s.NotifyClientsReload(context.Background())
	msg, err := readMessage(t, conn, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, MessageReload, msg.Type)
}

func TestSocketRejectsForeignOrigin(t *testing.T) {
	upstream := htmlUpstream()
	defer upstream.Close()
	_, ts := newTestServer(t, upstream, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+SocketPath, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"http://evil.example"}},
	})
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
}

func TestNewServerRejectsBadProxy(t *testing.T) {
	_, err := NewServer(Config{Addr: "127.0.0.1:0", Proxy: "ftp://x"}, nil)
	assert.Error(t, err)
}

func TestInjectScript(t *testing.T) {
	assert.Equal(t, `<p>x</p><script src="/__sitebuild/client.js"></script>`, string(InjectScript([]byte("<p>x</p>"))))

	once := InjectScript([]byte("<BODY></BODY>"))
	assert.Equal(t, `<BODY><script src="/__sitebuild/client.js"></script></BODY>`, string(once))
	assert.Equal(t, once, InjectScript(once))
}

func TestStartAndShutdown(t *testing.T) {
	upstream := htmlUpstream()
	defer upstream.Close()
	u, _ := url.Parse(upstream.URL)

	s, err := NewServer(Config{Addr: "127.0.0.1:0", Proxy: u.Host}, nil)
	require.NoError(t, err)
	addr, err := s.Listen()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr.String() + ClientPath)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
