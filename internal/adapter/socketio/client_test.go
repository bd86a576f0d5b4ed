package socketio_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"driverlink/internal/adapter/socketio"
	"driverlink/internal/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const openFrame = `0{"sid":"sid-1","upgrades":[],"pingInterval":25000,"pingTimeout":20000,"maxPayload":1000000}`

// fakeServer speaks just enough Engine.IO/Socket.IO to drive the client.
type fakeServer struct {
	srv *httptest.Server
	wg  sync.WaitGroup

	// script runs after the namespace handshake; returning ends the connection.
	script func(fs *fakeServer, conn *websocket.Conn, n int)
	reject string

	mu       sync.Mutex
	tokens   []string
	received []string
	conns    int
}

func newFakeServer(t *testing.T, script func(fs *fakeServer, conn *websocket.Conn, n int)) *fakeServer {
	t.Helper()
	fs := &fakeServer{script: script}
	up := websocket.Upgrader{}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/socket.io/" || r.URL.Query().Get("EIO") != "4" || r.URL.Query().Get("transport") != "websocket" {
			http.Error(w, "bad endpoint", http.StatusBadRequest)
			return
		}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.wg.Add(1)
		defer fs.wg.Done()
		defer func() { _ = conn.Close() }()
		fs.handle(conn)
	}))
	t.Cleanup(func() {
		fs.srv.Close()
		fs.wg.Wait()
	})
	return fs
}

func (fs *fakeServer) handle(conn *websocket.Conn) {
	fs.mu.Lock()
	fs.conns++
	n := fs.conns
	reject := fs.reject
	fs.mu.Unlock()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(openFrame)); err != nil {
		return
	}
	_, msg, err := conn.ReadMessage()
	if err != nil || !strings.HasPrefix(string(msg), "40") {
		return
	}
	var auth struct {
		Token string `json:"token"`
	}
	_ = json.Unmarshal(msg[2:], &auth)
	fs.mu.Lock()
	fs.tokens = append(fs.tokens, auth.Token)
	fs.mu.Unlock()

	if reject != "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`44{"message":"`+reject+`"}`))
		_, _, _ = conn.ReadMessage()
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`40{"sid":"ns-1"}`)); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			fs.mu.Lock()
			fs.received = append(fs.received, string(msg))
			fs.mu.Unlock()
		}
	}()
	if fs.script != nil {
		fs.script(fs, conn, n)
	}
	_ = conn.Close()
	<-done
}

func (fs *fakeServer) messages() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.received...)
}

func (fs *fakeServer) url() string {
	return fs.srv.URL + "/api"
}

func fastOptions() socketio.Options {
	o := socketio.DefaultOptions()
	o.Timeout = 2 * time.Second
	o.ReconnectionDelay = 5 * time.Millisecond
	o.ReconnectionDelayMax = 20 * time.Millisecond
	o.RandomizationFactor = 0
	return o
}

// recorder collects handler calls.
type recorder struct {
	mu        sync.Mutex
	connects  int
	reasons   []string
	errs      []error
	attempts  []int
	failed    int
	events    map[string][]string
	connected chan struct{}
	gaveUp    chan struct{}
	event     chan struct{}
	transport domain.RealtimeTransport
}

func newRecorder() *recorder {
	return &recorder{
		events:    map[string][]string{},
		connected: make(chan struct{}, 10),
		gaveUp:    make(chan struct{}, 1),
		event:     make(chan struct{}, 10),
	}
}

func (r *recorder) handlers() domain.RealtimeHandlers {
	return domain.RealtimeHandlers{
		OnConnect: func() {
			r.mu.Lock()
			r.connects++
			t := r.transport
			r.mu.Unlock()
			if t != nil {
				_ = t.Emit(domain.EventJoin, "42")
			}
			r.connected <- struct{}{}
		},
		OnDisconnect: func(reason string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.reasons = append(r.reasons, reason)
		},
		OnConnectError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
		OnReconnectAttempt: func(n int) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.attempts = append(r.attempts, n)
		},
		OnReconnectFailed: func() {
			r.mu.Lock()
			r.failed++
			r.mu.Unlock()
			r.gaveUp <- struct{}{}
		},
		OnEvent: func(event string, payload json.RawMessage) {
			r.mu.Lock()
			r.events[event] = append(r.events[event], string(payload))
			r.mu.Unlock()
			r.event <- struct{}{}
		},
	}
}

func (r *recorder) dial(t *testing.T, baseURL string, opts socketio.Options) domain.RealtimeTransport {
	t.Helper()
	d, err := socketio.NewDialer(baseURL, opts, nil)
	require.NoError(t, err)
	tr, err := d.NewTransport("tok-1", r.handlers())
	require.NoError(t, err)
	r.mu.Lock()
	r.transport = tr
	r.mu.Unlock()
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func wait(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestEndpointURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:5000/api":      "ws://localhost:5000/socket.io/?EIO=4&transport=websocket",
		"https://api.example.com/api/v1/": "wss://api.example.com/socket.io/?EIO=4&transport=websocket",
		"https://api.example.com":         "wss://api.example.com/socket.io/?EIO=4&transport=websocket",
	}
	for in, want := range tests {
		got, err := socketio.EndpointURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"ftp://x", "localhost:5000", "http://"} {
		_, err := socketio.EndpointURL(bad)
		assert.Error(t, err, bad)
	}
}

func TestClient_ConnectJoinPingAndEvent(t *testing.T) {
	release := make(chan struct{})
	fs := newFakeServer(t, func(_ *fakeServer, conn *websocket.Conn, n int) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("2"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`42["notification",{"title":"New job"}]`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`42/other,["notification","wrong namespace"]`))
		<-release
	})
	defer close(release)

	rec := newRecorder()
	tr := rec.dial(t, fs.url(), fastOptions())
	tr.Open()
	tr.Open()

	wait(t, rec.connected, "connect")
	wait(t, rec.event, "notification")

	assert.Eventually(t, func() bool {
		msgs := fs.messages()
		return contains(msgs, `42["join","42"]`) && contains(msgs, "3")
	}, 2*time.Second, 10*time.Millisecond, "join and pong reach the server")

	rec.mu.Lock()
	assert.Equal(t, 1, rec.connects)
	assert.Equal(t, []string{`{"title":"New job"}`}, rec.events[domain.EventNotification])
	rec.mu.Unlock()
	fs.mu.Lock()
	assert.Equal(t, []string{"tok-1"}, fs.tokens)
	fs.mu.Unlock()

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Emit("x", 1), socketio.ErrNotConnected)
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	release := make(chan struct{})
	fs := newFakeServer(t, func(fs *fakeServer, conn *websocket.Conn, n int) {
		if n == 1 {
			// drop the first connection once the room join has arrived
			deadline := time.Now().Add(2 * time.Second)
			for !contains(fs.messages(), `42["join","42"]`) && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			return
		}
		<-release
	})
	defer close(release)

	rec := newRecorder()
	tr := rec.dial(t, fs.url(), fastOptions())
	tr.Open()

	wait(t, rec.connected, "first connect")
	wait(t, rec.connected, "reconnect")

	assert.Eventually(t, func() bool {
		n := 0
		for _, m := range fs.messages() {
			if m == `42["join","42"]` {
				n++
			}
		}
		return n == 2
	}, 2*time.Second, 10*time.Millisecond, "join is sent once per connect")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 2, rec.connects)
	assert.Equal(t, []int{1}, rec.attempts)
	require.Len(t, rec.reasons, 1)
	assert.Equal(t, 0, rec.failed)
}

func TestClient_GivesUpAfterAttempts(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	opts := fastOptions()
	opts.ReconnectionAttempts = 2
	rec := newRecorder()
	tr := rec.dial(t, base, opts)
	tr.Open()

	wait(t, rec.gaveUp, "reconnect failed")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []int{1, 2}, rec.attempts)
	assert.Len(t, rec.errs, 3)
	assert.Equal(t, 1, rec.failed)
	assert.Zero(t, rec.connects)
}

func TestClient_ServerRejectsToken(t *testing.T) {
	fs := newFakeServer(t, nil)
	fs.mu.Lock()
	fs.reject = "invalid token"
	fs.mu.Unlock()

	rec := newRecorder()
	tr := rec.dial(t, fs.url(), fastOptions())
	tr.Open()

	wait(t, rec.gaveUp, "rejection")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.errs, 1)
	var ce *socketio.ConnectError
	require.True(t, errors.As(rec.errs[0], &ce))
	assert.Equal(t, "invalid token", ce.Message)
	assert.Empty(t, rec.attempts, "a rejected token is not retried")
}

func TestClient_CloseBeforeOpen(t *testing.T) {
	d, err := socketio.NewDialer("http://127.0.0.1:1/api", fastOptions(), nil)
	require.NoError(t, err)
	tr, err := d.NewTransport("tok", domain.RealtimeHandlers{})
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	tr.Open()
	assert.ErrorIs(t, tr.Emit(domain.EventJoin, "1"), socketio.ErrNotConnected)

	_, err = d.NewTransport("", domain.RealtimeHandlers{})
	assert.Error(t, err)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
