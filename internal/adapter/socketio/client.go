// Package socketio is a minimal Socket.IO v4 client over a single WebSocket
// transport, with bounded reconnection.
package socketio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"driverlink/internal/domain"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by Emit while no namespace connection is up.
var ErrNotConnected = errors.New("socketio: not connected")

// Options configure connection and reconnection behavior.
type Options struct {
	Timeout              time.Duration // dial, handshake and write timeout
	Reconnection         bool
	ReconnectionAttempts int
	ReconnectionDelay    time.Duration
	ReconnectionDelayMax time.Duration
	RandomizationFactor  float64
	Namespace            string
}

// DefaultOptions mirrors the socket.io-client settings the app ships with.
func DefaultOptions() Options {
	return Options{
		Timeout:              20 * time.Second,
		Reconnection:         true,
		ReconnectionAttempts: 3,
		ReconnectionDelay:    time.Second,
		ReconnectionDelayMax: 5 * time.Second,
		RandomizationFactor:  0.5,
		Namespace:            "/",
	}
}

// EndpointURL derives the Socket.IO WebSocket endpoint from the REST base
// URL: the REST path prefix is dropped and the scheme switched to ws/wss.
func EndpointURL(apiBaseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(apiBaseURL))
	if err != nil {
		return "", fmt.Errorf("socketio: api url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("socketio: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("socketio: api url %q has no host", apiBaseURL)
	}
	u.Path = "/socket.io/"
	u.RawPath = ""
	u.RawQuery = url.Values{"EIO": {"4"}, "transport": {"websocket"}}.Encode()
	u.Fragment = ""
	return u.String(), nil
}

// Dialer creates Clients for one endpoint. It implements domain.RealtimeDialer.
type Dialer struct {
	endpoint string
	opts     Options
	ws       *websocket.Dialer
	log      *zap.Logger
}

var _ domain.RealtimeDialer = (*Dialer)(nil)

// NewDialer returns a Dialer for the Socket.IO server behind apiBaseURL.
func NewDialer(apiBaseURL string, opts Options, log *zap.Logger) (*Dialer, error) {
	endpoint, err := EndpointURL(apiBaseURL)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.ReconnectionDelay <= 0 {
		opts.ReconnectionDelay = def.ReconnectionDelay
	}
	if opts.ReconnectionDelayMax < opts.ReconnectionDelay {
		opts.ReconnectionDelayMax = opts.ReconnectionDelay
	}
	if opts.Namespace == "" {
		opts.Namespace = "/"
	}
	return &Dialer{
		endpoint: endpoint,
		opts:     opts,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.Timeout,
		},
		log: log.Named("socketio"),
	}, nil
}

// NewTransport returns an unopened Client authenticating with token.
func (d *Dialer) NewTransport(token string, h domain.RealtimeHandlers) (domain.RealtimeTransport, error) {
	if token == "" {
		return nil, errors.New("socketio: token is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		d:      d,
		token:  token,
		h:      h,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}, nil
}

func (d *Dialer) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.opts.ReconnectionDelay
	b.MaxInterval = d.opts.ReconnectionDelayMax
	b.Multiplier = 2
	b.RandomizationFactor = d.opts.RandomizationFactor
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(max(d.opts.ReconnectionAttempts, 0)))
}

// Client is one logical Socket.IO connection. Reconnection reuses the same
// Client; callbacks run on its single background goroutine.
type Client struct {
	d     *Dialer
	token string
	h     domain.RealtimeHandlers

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	started   bool
	conn      *websocket.Conn
	connected bool

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Open starts connecting in the background. Calls after the first, or
// after Close, do nothing.
func (c *Client) Open() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.ctx.Err() != nil {
		return
	}
	c.started = true
	go c.run()
}

// Close disconnects, stops reconnection and waits for the background
// goroutine to exit. It must not be called from a handler.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()

		c.mu.Lock()
		started, conn, connected := c.started, c.conn, c.connected
		c.mu.Unlock()

		if conn != nil {
			if connected {
				_ = c.write(conn, packet{Type: sioDisconnect, Namespace: c.d.opts.Namespace, AckID: -1}.encode())
			}
			_ = conn.Close()
		}
		if started {
			<-c.done
		}
	})
	return nil
}

// Emit sends event with payload as its single argument.
func (c *Client) Emit(event string, payload any) error {
	c.mu.Lock()
	conn, connected := c.conn, c.connected
	c.mu.Unlock()
	if conn == nil || !connected {
		return ErrNotConnected
	}
	p, err := eventPacket(c.d.opts.Namespace, event, payload)
	if err != nil {
		return err
	}
	return c.write(conn, p.encode())
}

func (c *Client) write(conn *websocket.Conn, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.d.opts.Timeout))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// outcome is how one connection ended.
type outcome struct {
	connected bool   // the namespace handshake completed
	reason    string // disconnect reason, when connected
	err       error  // connect error, when not connected
	final     bool   // the server ended the session; do not reconnect
}

func (c *Client) run() {
	defer close(c.done)
	log := c.d.log
	bo := c.d.backOff()
	attempt := 0

	for {
		out := c.session()
		if c.ctx.Err() != nil {
			return
		}

		if out.connected {
			c.call(func() { c.h.OnDisconnect(out.reason) }, c.h.OnDisconnect != nil)
			bo.Reset()
			attempt = 0
		} else {
			c.call(func() { c.h.OnConnectError(out.err) }, c.h.OnConnectError != nil)
		}
		if out.final || !c.d.opts.Reconnection {
			if !out.connected && out.final {
				c.call(c.h.OnReconnectFailed, c.h.OnReconnectFailed != nil)
			}
			return
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			log.Debug("reconnection attempts exhausted", zap.Int("attempts", attempt))
			c.call(c.h.OnReconnectFailed, c.h.OnReconnectFailed != nil)
			return
		}

		timer := time.NewTimer(wait)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		attempt++
		c.call(func() { c.h.OnReconnectAttempt(attempt) }, c.h.OnReconnectAttempt != nil)
	}
}

func (c *Client) call(fn func(), ok bool) {
	if ok && c.ctx.Err() == nil {
		fn()
	}
}

// session runs one WebSocket connection from dial to close.
func (c *Client) session() outcome {
	opts := c.d.opts

	dialCtx, cancel := context.WithTimeout(c.ctx, opts.Timeout)
	conn, resp, err := c.d.ws.DialContext(dialCtx, c.d.endpoint, nil)
	cancel()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return outcome{err: fmt.Errorf("socketio: dial: %w", err)}
	}

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return outcome{}
	}
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.connected = false
		c.mu.Unlock()
		_ = conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(opts.Timeout))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		return outcome{err: fmt.Errorf("socketio: handshake: %w", err)}
	}
	info, err := decodeOpen(frame)
	if err != nil {
		return outcome{err: err}
	}

	if err := c.write(conn, connectPacket(opts.Namespace, c.token).encode()); err != nil {
		return outcome{err: fmt.Errorf("socketio: connect: %w", err)}
	}

	connected := false
	for {
		if connected {
			_ = conn.SetReadDeadline(time.Now().Add(info.liveness()))
		}
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if !connected {
				return outcome{err: fmt.Errorf("socketio: connect: %w", err)}
			}
			return outcome{connected: true, reason: readFailure(err)}
		}
		if len(frame) == 0 {
			continue
		}

		switch frame[0] {
		case eioPing:
			if err := c.write(conn, []byte{eioPong}); err != nil {
				if !connected {
					return outcome{err: err}
				}
				return outcome{connected: true, reason: "transport error"}
			}
			continue
		case eioClose:
			if !connected {
				return outcome{err: errors.New("socketio: closed during handshake")}
			}
			return outcome{connected: true, reason: "transport close"}
		case eioMessage:
		default:
			continue
		}

		p, err := decodePacket(frame[1:])
		if err != nil {
			c.d.log.Debug("skip packet", zap.Error(err))
			continue
		}
		if p.Namespace != opts.Namespace {
			continue
		}

		switch p.Type {
		case sioConnect:
			if connected {
				continue
			}
			connected = true
			c.mu.Lock()
			c.connected = true
			c.mu.Unlock()
			c.d.log.Debug("namespace connected", zap.String("sid", info.SID))
			c.call(c.h.OnConnect, c.h.OnConnect != nil)
		case sioConnectError:
			return outcome{err: p.connectError(), final: true}
		case sioDisconnect:
			return outcome{connected: connected, reason: "io server disconnect", err: errors.New("socketio: server disconnect"), final: true}
		case sioEvent:
			if !connected {
				continue
			}
			name, arg, err := p.event()
			if err != nil {
				c.d.log.Debug("skip event", zap.Error(err))
				continue
			}
			c.call(func() { c.h.OnEvent(name, arg) }, c.h.OnEvent != nil)
		}
	}
}

func readFailure(err error) string {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return "ping timeout"
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return "transport close"
	}
	return "transport error"
}
