// Package transport owns the single long-lived WebSocket connection: token
// refresh on every (re)connect, exponential-backoff reconnection bounded by
// a token-bucket rate limiter, the Disconnected/Connecting/Connected status
// machine, and graceful socket deprecation. It is deliberately ignorant of
// the envelope tree above it — it forwards raw inbound payloads to a single
// sink and accepts raw outbound payloads to send.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/agentflow/convruntime/internal/backoff"
	"github.com/agentflow/convruntime/internal/config"
	"github.com/agentflow/convruntime/internal/observability"
	"github.com/agentflow/convruntime/internal/protocol"
	"github.com/agentflow/convruntime/internal/tokenauth"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 45 * time.Second
	pingPeriod = 15 * time.Second
	maxPayload = 1 << 20
)

// StatusChange is delivered to status-change subscribers; Err is set only
// when the transition was caused by a failure (connect timeout, socket
// error, auth rejection).
type StatusChange struct {
	Status protocol.ConnectionStatus
	Err    error
}

// Transport owns one socket at a time, identified by a monotonically
// increasing generation number so deprecation and reconnection races can be
// told apart from the current connection.
type Transport struct {
	cfg           config.TransportConfig
	tokenProvider tokenauth.TokenProvider
	onEnvelope    func(protocol.ConversationEnvelope)
	logger        *observability.Logger
	metrics       *observability.Metrics
	dialer        *websocket.Dialer
	limiter       *rate.Limiter

	mu         sync.Mutex
	status     protocol.ConnectionStatus
	conn       *websocket.Conn
	generation uint64
	deprecated map[uint64]bool
	cancelLoop context.CancelFunc
	running    bool
	writeCh    chan []byte
	statusSubs []func(StatusChange)
	waiters    []chan error
}

// Option configures a Transport at construction time.
type Option func(*Transport)

// WithDialer overrides the default gorilla/websocket.Dialer, primarily for
// tests that need to point at an in-process test server.
func WithDialer(d *websocket.Dialer) Option {
	return func(t *Transport) { t.dialer = d }
}

// WithRateLimiter overrides the default reconnect-attempt rate limiter.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(t *Transport) { t.limiter = l }
}

// New constructs a Transport. onEnvelope receives every inbound
// ConversationEnvelope as it arrives, in socket order.
func New(cfg config.TransportConfig, tokenProvider tokenauth.TokenProvider, onEnvelope func(protocol.ConversationEnvelope), logger *observability.Logger, metrics *observability.Metrics, opts ...Option) *Transport {
	t := &Transport{
		cfg:           cfg,
		tokenProvider: tokenProvider,
		onEnvelope:    onEnvelope,
		logger:        logger,
		metrics:       metrics,
		dialer:        &websocket.Dialer{HandshakeTimeout: cfg.Timeout},
		limiter:       rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		status:        protocol.Disconnected,
		deprecated:    make(map[uint64]bool),
		writeCh:       make(chan []byte, 64),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Status returns the current connection status.
func (t *Transport) Status() protocol.ConnectionStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// OnStatusChange registers a handler invoked on every status transition.
// Returns an unregister function.
func (t *Transport) OnStatusChange(fn func(StatusChange)) func() {
	t.mu.Lock()
	t.statusSubs = append(t.statusSubs, fn)
	idx := len(t.statusSubs) - 1
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if idx < len(t.statusSubs) {
			t.statusSubs[idx] = func(StatusChange) {}
		}
	}
}

// Connect is idempotent from the caller's view: if a previous connect loop
// is running, it is stopped first (equivalent to disconnecting), then a
// fresh reconnect loop starts from Connecting. It returns immediately; use
// GetConnectedSocket to wait for the first successful connection.
func (t *Transport) Connect(ctx context.Context) {
	t.mu.Lock()
	if t.cancelLoop != nil {
		t.cancelLoop()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	t.cancelLoop = cancel
	t.running = true
	t.mu.Unlock()

	go t.runLoop(loopCtx)
}

// Disconnect's behaviour depends on state: while Connecting, the pending
// connect attempt abandons itself on arrival (it checks t.running before
// publishing Connected); while Connected, the socket is closed and cleared;
// while already Disconnected, this is a no-op.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	if t.cancelLoop != nil {
		t.cancelLoop()
		t.cancelLoop = nil
	}
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	t.setStatus(protocol.Disconnected, nil)
	t.failWaiters(fmt.Errorf("transport: disconnected"))
}

// DeprecateSocket drops the reference to the socket identified by
// generation without closing it, so in-flight messages can complete before
// the server closes naturally. A stale generation (no longer current) is
// ignored.
func (t *Transport) DeprecateSocket(generation uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if generation != t.generation {
		return
	}
	t.deprecated[generation] = true
	t.conn = nil
}

// CurrentGeneration returns the generation number of the socket currently
// considered live, for pairing with a later DeprecateSocket call.
func (t *Transport) CurrentGeneration() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generation
}

// GetConnectedSocket blocks until the status reaches Connected (returning
// the live generation number), triggering a connect attempt if the
// transport is currently Disconnected. It returns an error if status
// transitions to Disconnected before reaching Connected, or if ctx is
// cancelled first.
func (t *Transport) GetConnectedSocket(ctx context.Context) (uint64, error) {
	t.mu.Lock()
	if t.status == protocol.Connected {
		gen := t.generation
		t.mu.Unlock()
		return gen, nil
	}
	if t.status == protocol.Disconnected {
		t.mu.Unlock()
		t.Connect(ctx)
		t.mu.Lock()
	}
	ch := make(chan error, 1)
	t.waiters = append(t.waiters, ch)
	t.mu.Unlock()

	select {
	case err := <-ch:
		if err != nil {
			return 0, err
		}
		return t.CurrentGeneration(), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Emit sends one ConversationEnvelope to the current socket, in call order.
// It is the Manager's sole outbound path to the wire.
func (t *Transport) Emit(env protocol.ConversationEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return protocol.Validation("transport: marshal envelope: " + err.Error())
	}
	t.mu.Lock()
	connected := t.status == protocol.Connected
	t.mu.Unlock()
	if !connected {
		return protocol.Network("transport: not connected", nil)
	}
	select {
	case t.writeCh <- data:
		return nil
	default:
		return protocol.Network("transport: outbound buffer full", nil)
	}
}

func (t *Transport) setStatus(status protocol.ConnectionStatus, err error) {
	t.mu.Lock()
	t.status = status
	subs := make([]func(StatusChange), len(t.statusSubs))
	copy(subs, t.statusSubs)
	t.mu.Unlock()

	t.metrics.SetConnectionStatus(int(status))
	for _, fn := range subs {
		fn(StatusChange{Status: status, Err: err})
	}
	if status == protocol.Connected {
		t.notifyWaiters(nil)
	} else if status == protocol.Disconnected {
		if err == nil {
			err = fmt.Errorf("transport: disconnected")
		}
		t.notifyWaiters(err)
	}
}

func (t *Transport) notifyWaiters(err error) {
	t.mu.Lock()
	waiters := t.waiters
	t.waiters = nil
	t.mu.Unlock()
	for _, ch := range waiters {
		ch <- err
	}
}

func (t *Transport) failWaiters(err error) {
	t.notifyWaiters(err)
}

// runLoop drives reconnection: build URL and query, fetch a fresh token,
// dial, pump messages until the socket errors out, then back off and retry.
// Unlimited attempts by default; cfg.ReconnectionAttempts > 0 bounds it.
func (t *Transport) runLoop(ctx context.Context) {
	policy := backoff.BackoffPolicy{
		InitialMs: float64(t.cfg.ReconnectionDelay.Milliseconds()),
		MaxMs:     float64(t.cfg.ReconnectionDelayMax.Milliseconds()),
		Factor:    2,
		Jitter:    0.2,
	}
	if policy.InitialMs == 0 {
		policy.InitialMs = 200
	}
	if policy.MaxMs == 0 {
		policy.MaxMs = 30000
	}

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		attempt++
		if t.cfg.ReconnectionAttempts > 0 && attempt > t.cfg.ReconnectionAttempts {
			t.setStatus(protocol.Disconnected, fmt.Errorf("transport: reconnection attempts exhausted"))
			return
		}

		if err := t.limiter.Wait(ctx); err != nil {
			return
		}
		t.metrics.ReconnectAttempted()
		t.setStatus(protocol.Connecting, nil)

		token, tokenErr := t.tokenProvider.GetValidToken(ctx)
		if tokenErr != nil {
			t.logger.Warn(ctx, "token acquisition failed, connecting without one", "error", tokenErr)
			token = ""
		}

		conn, err := t.dial(ctx, token)
		if err != nil {
			t.logger.Warn(ctx, "connect attempt failed", "attempt", attempt, "error", err)
			if t.cfg.Reconnection != nil && !*t.cfg.Reconnection {
				t.setStatus(protocol.Disconnected, err)
				return
			}
			if sleepErr := backoff.SleepWithBackoff(ctx, policy, attempt); sleepErr != nil {
				return
			}
			continue
		}

		t.mu.Lock()
		if !t.running {
			t.mu.Unlock()
			_ = conn.Close()
			return
		}
		t.generation++
		gen := t.generation
		t.conn = conn
		t.mu.Unlock()

		t.setStatus(protocol.Connected, nil)
		attempt = 0

		t.pump(ctx, conn, gen)

		t.mu.Lock()
		stillCurrent := t.conn == conn
		if stillCurrent {
			t.conn = nil
		}
		running := t.running
		t.mu.Unlock()
		if !running {
			return
		}
		if stillCurrent {
			t.setStatus(protocol.Connecting, fmt.Errorf("transport: connection lost"))
		}
	}
}

func (t *Transport) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	target, err := t.wsURL(token)
	if err != nil {
		return nil, protocol.Validation("transport: invalid base url: " + err.Error())
	}
	dialCtx := ctx
	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}
	conn, _, err := t.dialer.DialContext(dialCtx, target, http.Header{})
	if err != nil {
		return nil, protocol.Network("transport: dial failed", err)
	}
	return conn, nil
}

// wsURL swaps the configured base URL's scheme http->ws, https->wss, and
// attaches organizationId/tenantId as query parameters. For localhost the
// path defaults to /socket.io; a non-empty existing path is left untouched.
func (t *Transport) wsURL(token string) (string, error) {
	u, err := url.Parse(t.cfg.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		if strings.Contains(u.Hostname(), "localhost") || u.Hostname() == "127.0.0.1" {
			u.Path = "/socket.io"
		}
	}
	q := u.Query()
	if token != "" {
		q.Set("token", token)
	}
	if t.cfg.OrganizationID != "" {
		q.Set("organizationId", t.cfg.OrganizationID)
	}
	if t.cfg.TenantID != "" {
		q.Set("tenantId", t.cfg.TenantID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// pump runs the read loop (blocking) and a concurrent write loop + ping
// ticker, until the connection errors or ctx is cancelled.
func (t *Transport) pump(ctx context.Context, conn *websocket.Conn, generation uint64) {
	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go t.writeLoop(pumpCtx, conn, generation)

	conn.SetReadLimit(maxPayload)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env protocol.ConversationEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.logger.Warn(ctx, "dropping malformed inbound envelope", "error", err)
			continue
		}
		if err := protocol.ValidateConversationEnvelope(data); err != nil {
			t.logger.Warn(ctx, "dropping envelope failing schema validation", "error", err)
			continue
		}
		t.onEnvelope(env)
	}
}

func (t *Transport) writeLoop(ctx context.Context, conn *websocket.Conn, generation uint64) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-t.writeCh:
			t.mu.Lock()
			deprecated := t.deprecated[generation]
			t.mu.Unlock()
			if deprecated {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
