package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klaxonbot/klaxon/src/structs"
	"golang.org/x/time/rate"
)

type GatewayStatus = string

const (
	StatusDisconnected  GatewayStatus = "DISCONNECTED"
	StatusConnecting    GatewayStatus = "CONNECTING"
	StatusAwaitingHello GatewayStatus = "AWAITING_HELLO"
	StatusIdentifying   GatewayStatus = "IDENTIFYING"
	StatusResuming      GatewayStatus = "RESUMING"
	StatusReady         GatewayStatus = "READY"
	StatusReconnecting  GatewayStatus = "RECONNECTING"
	StatusClosing       GatewayStatus = "CLOSING"
)

// Dispatcher receives decoded application events. Publish must not block
// for long; fan-out concurrency is the dispatcher's own business.
type Dispatcher interface {
	Publish(event structs.EventName, data json.RawMessage)
}

type Config struct {
	BotToken  string
	BotIntent []GatewayIntent
	Shard     []uint

	// GatewayURL overrides the default endpoint. Mostly useful in tests.
	GatewayURL string

	// HandshakeTimeout bounds the wait for ready/resumed after a dial.
	// Exceeding it is treated as a transport error.
	HandshakeTimeout time.Duration

	// MaxReconnectAttempts is the ceiling of consecutive failed redials
	// before the client gives up for good.
	MaxReconnectAttempts int

	// BackoffCeiling caps the exponential reconnect delay.
	BackoffCeiling time.Duration

	// OnConnectionLost fires on every recoverable disconnect, before the
	// reconnect attempt. OnFatal fires once when the client gives up.
	OnConnectionLost func(reason error)
	OnFatal          func(err error)

	Dispatcher Dispatcher
	Logger     *slog.Logger
}

const (
	gatewayVersion           = 10
	defaultGatewayHost       = "gateway.discord.gg"
	defaultHandshakeTimeout  = 20 * time.Second
	defaultReconnectAttempts = 8
	defaultBackoffCeiling    = time.Minute
	defaultBackoffBase       = time.Second
)

// Gateway owns one logical client connection: the socket, the Session,
// the heartbeat loop and the outbound rate limit gate. A new physical
// socket gets fresh HeartbeatState and RateLimitBucket instances but the
// same Session, so an interrupted stream can be resumed.
type Gateway struct {
	mu       sync.RWMutex // guards status, wsConn, heartbeat, sendBucket, pending
	sendMu   sync.Mutex   // serializes socket writes
	wsURL    string
	wsConn   *websocket.Conn
	wsDialer *websocket.Dialer

	session    *Session
	heartbeat  *HeartbeatState
	sendBucket *RateLimitBucket

	dialLimiter     *rate.Limiter
	identifyLimiter *rate.Limiter

	// generation numbers physical connections so that callbacks from a
	// superseded connection (a stale heartbeat loop, a late read error)
	// cannot act on the current one.
	generation   atomic.Uint64
	connCancel   context.CancelFunc
	ctx          context.Context
	clientCancel context.CancelFunc

	// failedAttempts counts consecutive connections that never reached
	// ready, across reconnect cycles. A remote that accepts every dial and
	// then kills the handshake still exhausts the ceiling. Reset by
	// enterReady.
	failedAttempts atomic.Uint32

	status  GatewayStatus
	pending []*structs.RawEvent

	backoffBase time.Duration

	cfg        Config
	botIntents uint64
	dispatcher Dispatcher
	log        *slog.Logger
}

func NewGateway(cfg Config) *Gateway {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaultReconnectAttempts
	}
	if cfg.BackoffCeiling <= 0 {
		cfg.BackoffCeiling = defaultBackoffCeiling
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	wsURL := cfg.GatewayURL
	if wsURL == "" {
		u := url.URL{
			Scheme:   "wss",
			Host:     defaultGatewayHost,
			RawQuery: fmt.Sprintf("v=%v&encoding=json", gatewayVersion),
		}
		wsURL = u.String()
	}

	var intents uint64
	for _, v := range cfg.BotIntent {
		intents |= v
	}

	return &Gateway{
		wsDialer:        websocket.DefaultDialer,
		wsURL:           wsURL,
		session:         NewSession(),
		dialLimiter:     NewDialLimiter(),
		identifyLimiter: NewIdentifyLimiter(),
		status:          StatusDisconnected,
		backoffBase:     defaultBackoffBase,
		cfg:             cfg,
		botIntents:      intents,
		dispatcher:      cfg.Dispatcher,
		log:             cfg.Logger,
	}
}

func (g *Gateway) Status() GatewayStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status
}

func (g *Gateway) Session() *Session {
	return g.session
}

// HeartbeatLiveness reports the current connection's heartbeat timestamps
// for telemetry. Zero values before the first hello.
func (g *Gateway) HeartbeatLiveness() (lastSent, lastAck time.Time, acked bool) {
	g.mu.RLock()
	hb := g.heartbeat
	g.mu.RUnlock()
	if hb == nil {
		return time.Time{}, time.Time{}, false
	}
	return hb.Liveness()
}

func (g *Gateway) Open(ctx context.Context) error {
	g.mu.Lock()
	if g.status != StatusDisconnected {
		g.mu.Unlock()
		return ErrGatewayIsAlreadyOpen
	}
	g.status = StatusConnecting
	g.mu.Unlock()

	g.ctx, g.clientCancel = context.WithCancel(ctx)
	if err := g.connect(g.ctx); err != nil {
		g.setStatus(StatusDisconnected)
		return err
	}
	return nil
}

// connect dials one physical connection and starts its read loop. The
// resume endpoint is preferred whenever the session is still resumable.
func (g *Gateway) connect(ctx context.Context) error {
	if err := g.dialLimiter.Wait(ctx); err != nil {
		return err
	}

	target := g.wsURL
	if g.session.CanResume() {
		if resumeURL := g.resumeTarget(); resumeURL != "" {
			target = resumeURL
		}
	}

	g.setStatus(StatusConnecting)
	g.log.Info("connecting to gateway", "url", target)
	conn, _, err := g.wsDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("failed to dial gateway: %w", err)
	}

	gen := g.generation.Add(1)
	connCtx, cancel := context.WithCancel(ctx)

	g.mu.Lock()
	g.wsConn = conn
	g.connCancel = cancel
	g.heartbeat = nil
	g.sendBucket = NewRateLimitBucket(defaultSendCapacity, defaultSendWindow)
	g.pending = nil
	g.status = StatusAwaitingHello
	g.mu.Unlock()

	// The whole hello to ready/resumed handshake must finish within the
	// deadline; enterReady clears it.
	conn.SetReadDeadline(time.Now().Add(g.cfg.HandshakeTimeout))
	go g.listen(connCtx, conn, gen)
	return nil
}

// resumeTarget rebuilds the resume URL with the protocol query attached.
func (g *Gateway) resumeTarget() string {
	raw := g.session.ResumeGatewayURL()
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		g.log.Warn("invalid resume gateway url, falling back to the original endpoint", "url", raw)
		return ""
	}
	u.RawQuery = fmt.Sprintf("v=%v&encoding=json", gatewayVersion)
	return u.String()
}

// listen is the read loop for one physical connection.
func (g *Gateway) listen(ctx context.Context, conn *websocket.Conn, gen uint64) {
	for {
		select {
		case <-ctx.Done():
			g.log.Debug("gateway stopped listening", "generation", gen)
			return
		default:
			_, message, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil || g.generation.Load() != gen {
					return
				}
				g.handleReadError(gen, err)
				return
			}
			if err := g.acceptEvent(ctx, conn, gen, message); err != nil {
				// Malformed frames are logged and dropped; they do not
				// tear down the connection.
				g.log.Error("failed to process inbound event", "error", err.Error())
			}
		}
	}
}

// handleReadError classifies a transport failure. Close codes that cannot
// be recovered by retrying surface as a fatal client error; everything
// else routes to reconnect, resuming when the code allows it.
func (g *Gateway) handleReadError(gen uint64, err error) {
	resumable := true
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if fatalCloseCode(closeErr.Code) {
			g.fail(fmt.Errorf("gateway closed: %w", closeCodeError(closeErr.Code)))
			return
		}
		resumable = resumableCloseCode(closeErr.Code)
	}
	// The read deadline is only armed while the handshake is in flight, so
	// a timeout here means ready/resumed never arrived in time.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		g.reconnect(gen, fmt.Errorf("%w: %v", ErrHandshakeTimeout, err), resumable)
		return
	}
	g.reconnect(gen, fmt.Errorf("transport error: %w", err), resumable)
}

// acceptEvent decodes one inbound frame and drives the state machine.
func (g *Gateway) acceptEvent(ctx context.Context, conn *websocket.Conn, gen uint64, rawMessage []byte) error {
	e := &structs.RawEvent{}
	if err := json.Unmarshal(rawMessage, e); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}

	switch e.Op {
	case OpcodeHello:
		return g.onHello(ctx, e, gen)
	case OpcodeHeartbeat:
		// Remote requested an immediate heartbeat.
		return g.sendHeartbeat(ctx)
	case OpcodeHeartbeatAck:
		g.mu.RLock()
		hb := g.heartbeat
		g.mu.RUnlock()
		if hb != nil {
			hb.Ack()
		}
		return nil
	case OpcodeReconnect:
		g.log.Info("remote requested reconnect")
		go g.reconnect(gen, ErrReconnectRequested, true)
		return nil
	case OpcodeInvalidSession:
		return g.onInvalidSession(ctx, e, gen)
	case OpcodeDispatch:
		return g.onDispatch(conn, e)
	default:
		g.log.Warn("unexpected opcode, frame dropped", "op_code", e.Op)
		return nil
	}
}

func (g *Gateway) onHello(ctx context.Context, e *structs.RawEvent, gen uint64) error {
	d := &structs.HelloEvent{}
	if err := json.Unmarshal(e.D, d); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}

	hb := NewHeartbeatState(time.Duration(d.HeartbeatInterval) * time.Millisecond)
	g.mu.Lock()
	g.heartbeat = hb
	g.mu.Unlock()
	go g.heartbeating(ctx, hb, gen)

	if g.session.CanResume() {
		g.setStatus(StatusResuming)
		g.log.Info("resuming session", "session_id", g.session.ID())
		return g.sendPayload(ctx, g.session.ResumePayload(g.cfg.BotToken))
	}
	return g.identify(ctx)
}

func (g *Gateway) identify(ctx context.Context) error {
	g.setStatus(StatusIdentifying)
	if err := g.identifyLimiter.Wait(ctx); err != nil {
		return err
	}
	payload := g.session.IdentifyPayload(Identity{
		Token:   g.cfg.BotToken,
		Intents: g.botIntents,
		Shard:   g.cfg.Shard,
		Properties: structs.IdentifyEventProperties{
			Os:      "linux",
			Browser: "klaxon",
			Device:  "klaxon",
		},
	})
	if err := g.sendPayload(ctx, payload); err != nil {
		return fmt.Errorf("failed to send identify event: %w", err)
	}
	g.log.Info("identify event sent")
	return nil
}

func (g *Gateway) onInvalidSession(ctx context.Context, e *structs.RawEvent, gen uint64) error {
	// d is a lone boolean: whether the session may still be resumed.
	var resumable bool
	if len(e.D) > 0 {
		if err := json.Unmarshal(e.D, &resumable); err != nil {
			resumable = false
		}
	}

	if g.Status() == StatusResuming {
		// Resume is attempted at most once per disconnect. A rejected
		// resume degrades to a fresh identify on the same connection.
		g.log.Warn("resume rejected, falling back to identify")
		g.session.Invalidate(false)
		return g.identify(ctx)
	}

	g.log.Warn("session invalidated by remote", "resumable", resumable)
	go g.reconnect(gen, ErrInvalidSession, resumable)
	return nil
}

func (g *Gateway) onDispatch(conn *websocket.Conn, e *structs.RawEvent) error {
	// Sequence advances on every dispatch frame, even those processed
	// right before a reconnect directive: a later resume must carry the
	// freshest sequence known.
	g.session.RecordSequence(e.S)

	switch e.T {
	case structs.EventNameReady:
		readyEvent := &structs.ReadyEvent{}
		if err := json.Unmarshal(e.D, readyEvent); err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		g.session.Establish(readyEvent.SessionID, readyEvent.ResumeGatewayURL)
		g.log.Info("gateway is ready", "session_id", readyEvent.SessionID)
		g.publish(e)
		g.enterReady(conn)
		return nil
	case structs.EventNameResumed:
		g.log.Info("session resumed", "session_id", g.session.ID())
		// Replayed dispatches arrived first on the wire; flush them before
		// announcing the resume.
		g.enterReady(conn)
		g.publish(e)
		return nil
	}

	g.mu.Lock()
	if g.status != StatusReady {
		// Dispatch frames replayed while the resume handshake is still in
		// flight are held back and republished in order on resumed.
		g.pending = append(g.pending, e)
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	g.publish(e)
	return nil
}

// enterReady transitions to the connected state and flushes, in arrival
// order, any dispatch frames buffered during the handshake.
func (g *Gateway) enterReady(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Time{})
	g.failedAttempts.Store(0)
	g.mu.Lock()
	g.status = StatusReady
	buffered := g.pending
	g.pending = nil
	g.mu.Unlock()
	for _, e := range buffered {
		g.publish(e)
	}
}

func (g *Gateway) publish(e *structs.RawEvent) {
	if g.dispatcher == nil {
		return
	}
	g.dispatcher.Publish(e.T, e.D)
}

// reconnect tears down the physical connection identified by gen and
// redials with exponential backoff. The generation swap makes sure only
// the first trigger for a given connection wins; a zombied-heartbeat
// signal and a read error racing each other produce a single reconnect.
func (g *Gateway) reconnect(gen uint64, reason error, resumable bool) {
	if !g.generation.CompareAndSwap(gen, gen+1) {
		return
	}

	g.mu.Lock()
	if g.status == StatusClosing || g.status == StatusDisconnected {
		g.mu.Unlock()
		return
	}
	g.status = StatusReconnecting
	conn := g.wsConn
	cancel := g.connCancel
	g.wsConn = nil
	g.connCancel = nil
	g.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		deadline := time.Now().Add(time.Second)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseServiceRestart, ""), deadline)
		conn.Close()
	}
	if !resumable {
		g.session.Invalidate(false)
	}

	g.log.Warn("gateway connection lost, reconnecting", "reason", reason.Error())
	if g.cfg.OnConnectionLost != nil {
		g.cfg.OnConnectionLost(reason)
	}

	for {
		attempt := int(g.failedAttempts.Add(1))
		if attempt > g.cfg.MaxReconnectAttempts {
			g.fail(fmt.Errorf("%w after %d attempts: last reason: %v",
				ErrReconnectExhausted, g.cfg.MaxReconnectAttempts, reason))
			return
		}
		delay := backoffDelay(g.backoffBase, g.cfg.BackoffCeiling, attempt)
		select {
		case <-g.ctx.Done():
			return
		case <-time.After(delay):
		}
		if err := g.connect(g.ctx); err != nil {
			g.log.Error("reconnect attempt failed", "attempt", attempt, "error", err.Error())
			continue
		}
		return
	}
}

// backoffDelay computes an exponential delay with jitter in the upper
// half of the step, capped at the ceiling.
func backoffDelay(base, ceiling time.Duration, attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt-1)) * float64(base))
	if d > ceiling {
		d = ceiling
	}
	return d/2 + time.Duration(rand.Float64()*float64(d/2))
}

// fail is the terminal error path: no session could be established and
// no further retries will happen until the caller opens a new client.
func (g *Gateway) fail(err error) {
	g.mu.Lock()
	g.status = StatusDisconnected
	conn := g.wsConn
	cancel := g.connCancel
	g.wsConn = nil
	g.connCancel = nil
	g.mu.Unlock()

	g.generation.Add(1)
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if g.clientCancel != nil {
		g.clientCancel()
	}
	g.log.Error("gateway giving up", "error", err.Error())
	if g.cfg.OnFatal != nil {
		g.cfg.OnFatal(err)
	}
}

// Close shuts the client down for good: the heartbeat loop is cancelled,
// the socket closed gracefully, and no reconnect is attempted.
func (g *Gateway) Close() error {
	g.mu.Lock()
	if g.status == StatusDisconnected || g.status == StatusClosing {
		g.mu.Unlock()
		return nil
	}
	g.status = StatusClosing
	conn := g.wsConn
	cancel := g.connCancel
	g.wsConn = nil
	g.connCancel = nil
	g.mu.Unlock()

	g.generation.Add(1)
	if cancel != nil {
		cancel()
	}
	if g.clientCancel != nil {
		g.clientCancel()
	}

	var err error
	if conn != nil {
		deadline := time.Now().Add(time.Second)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = conn.Close()
	}
	g.setStatus(StatusDisconnected)
	g.log.Info("gateway connection stopped")
	return err
}

// UpdatePresence sends a presence update. Application control frames
// share the same outbound budget as heartbeats.
func (g *Gateway) UpdatePresence(ctx context.Context, p structs.PresenceUpdate) error {
	if g.Status() != StatusReady {
		return ErrGatewayNotConnected
	}
	return g.sendEvent(ctx, OpcodePresenceUpdate, p)
}

func (g *Gateway) sendEvent(ctx context.Context, op GatewayOpcode, d interface{}) error {
	return g.sendPayload(ctx, structs.Event{Op: op, D: d})
}

// sendPayload is the single gate to the socket: every outbound frame
// consumes a slot from the connection's rate limit bucket first, so no
// component can oversend by writing directly.
func (g *Gateway) sendPayload(ctx context.Context, e structs.Event) error {
	g.mu.RLock()
	conn := g.wsConn
	bucket := g.sendBucket
	g.mu.RUnlock()
	if conn == nil || bucket == nil {
		return ErrGatewayNotConnected
	}

	wait, err := bucket.Acquire(ctx)
	if err != nil {
		return err
	}
	if wait > 0 {
		g.log.Debug("outbound frame delayed by rate limit", "wait", wait.String())
	}

	data, err := json.Marshal(&e)
	if err != nil {
		return fmt.Errorf("failed to marshal gateway event: %w", err)
	}
	g.sendMu.Lock()
	defer g.sendMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (g *Gateway) setStatus(status GatewayStatus) {
	g.mu.Lock()
	g.status = status
	g.mu.Unlock()
}
