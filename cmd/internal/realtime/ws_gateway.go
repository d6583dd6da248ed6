package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/PedroAbreu017/Help-Desk-System-sub001/cmd/internal/auth/session"
	v1 "github.com/PedroAbreu017/Help-Desk-System-sub001/shared/contracts/notify/v1"
)

const (
	wsSubprotocolV1 = "helpdesk.notify.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Origin is required by default and only localhost is allowed, so a
	// misconfigured deployment fails closed.
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Handshake reject reasons. Each maps to a distinct cause so clients can
// decide between renewing the credential and giving up.
const (
	RejectMissingToken   = "missing_token"
	RejectTokenMalformed = "token_malformed"
	RejectTokenExpired   = "token_expired"
	RejectSessionRevoked = "session_revoked"
	RejectSessionInvalid = "session_invalid"
)

// SessionValidator authenticates handshake credentials. *session.Service
// satisfies it.
type SessionValidator interface {
	ValidateAccessToken(ctx context.Context, token string, now time.Time) (session.AccessClaims, error)
}

// ReadMarker records that a user marked a notification as read. Optional;
// when nil, mark-read events are acknowledged in logs only.
type ReadMarker interface {
	MarkRead(ctx context.Context, userID, notificationID string) error
}

// WSGateway is the websocket entrypoint for the notification socket.
//
// It enforces origin policy, subprotocol selection, and handshake
// authentication, then runs the per-connection loop: writer, heartbeats,
// rate limits, and event dispatch into the Hub.
type WSGateway struct {
	log      *slog.Logger
	hub      *Hub
	sessions SessionValidator
	reads    ReadMarker

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks: Accept authorizes
	// same-host origins by default but cross-origin needs OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewWSGateway constructs a gateway with secure defaults. sessions must not
// be nil: every connection is authenticated before the Hub sees it.
func NewWSGateway(log *slog.Logger, hub *Hub, sessions SessionValidator, reads ReadMarker) (*WSGateway, error) {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if hub == nil {
		hub = NewHub(log)
	}
	if sessions == nil {
		return nil, errors.New("realtime: nil session validator")
	}

	g := &WSGateway{log: log, hub: hub, sessions: sessions, reads: reads}

	// InsecureSkipVerify is a dev-only knob for TLS verification; it is not
	// an origin policy.
	g.devInsecure = envBoolWS("HELPDESK_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("HELPDESK_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("HELPDESK_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("HELPDESK_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("HELPDESK_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("HELPDESK_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("HELPDESK_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("HELPDESK_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("HELPDESK_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("HELPDESK_WS_RATE_WINDOW", rateLimitWindow)

	return g, nil
}

// Hub exposes the gateway's hub for publishers.
func (g *WSGateway) Hub() *Hub { return g.hub }

// ServeHTTP adapter so the gateway can be mounted as an http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS authenticates the handshake, upgrades it, and runs the connection
// loop until the peer leaves or a policy violation ends the session.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// Authentication happens before the upgrade: an unauthenticated caller
	// never reaches the Hub, never counts in stats.
	claims, reason := g.authenticateHandshake(r)
	if reason != "" {
		metricHandshakeRejects.WithLabelValues(reason).Inc()
		g.log.Info("ws.reject.auth", "reason", reason, "remote", r.RemoteAddr)
		http.Error(w, reason, http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	now := time.Now().UTC()
	connectionID, err := newConnectionID(now)
	if err != nil {
		g.log.Error("ws.connection_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "id generation failed")
		return
	}

	client := NewConn(connectionID, claims.UserID, claims.Role, g.sendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// shutdown is idempotent. It does NOT close client.Send; the Hub drops
	// for closing connections via Done instead.
	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reasonText string) {
		closeOnce.Do(func() {
			g.hub.Unregister(client)
			client.Close()
			_ = conn.Close(code, reasonText)
			cancel()
		})
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail",
						"connection_id", connectionID,
						"close_status", websocket.CloseStatus(err),
						"err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "connection_id", connectionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	// Only after the writer is running: hello.ack first so it is the first
	// frame on the wire, then registration, whose stats push queues behind it.
	g.sendHelloAck(ctx, client)
	g.hub.Register(client)

	g.log.Info("ws.connect", "connection_id", connectionID, "user_id", claims.UserID, "role", claims.Role)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "connection_id", connectionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		eventNow := time.Now().UTC()
		if !rl.Allow(eventNow) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeTicketJoin:
			if err := g.onTicketJoin(client, env); err != nil {
				g.trySendError(ctx, client, "join_failed", err.Error())
			}

		case v1.TypeTicketLeave:
			if err := g.onTicketLeave(client, env); err != nil {
				g.trySendError(ctx, client, "leave_failed", err.Error())
			}

		case v1.TypeNotifyRead:
			if err := g.onNotifyRead(ctx, client, env); err != nil {
				g.trySendError(ctx, client, "mark_read_failed", err.Error())
			}

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- handshake auth ----

// authenticateHandshake extracts and validates the bearer credential. It
// returns the claims on success, or a reject reason.
func (g *WSGateway) authenticateHandshake(r *http.Request) (session.AccessClaims, string) {
	token := handshakeToken(r)
	if token == "" {
		return session.AccessClaims{}, RejectMissingToken
	}

	claims, err := g.sessions.ValidateAccessToken(r.Context(), token, time.Now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, session.ErrTokenExpired):
			return session.AccessClaims{}, RejectTokenExpired
		case errors.Is(err, session.ErrTokenMalformed):
			return session.AccessClaims{}, RejectTokenMalformed
		case errors.Is(err, session.ErrSessionRevoked):
			return session.AccessClaims{}, RejectSessionRevoked
		default:
			return session.AccessClaims{}, RejectSessionInvalid
		}
	}
	return claims, ""
}

// handshakeToken pulls the credential from the Authorization header, falling
// back to the token query parameter for browser WebSocket clients that
// cannot set headers.
func handshakeToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h != "" {
		const prefix = "Bearer "
		if len(h) >= len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// ---- event handlers ----

func (g *WSGateway) sendHelloAck(ctx context.Context, client *Conn) {
	payload, _ := json.Marshal(v1.HelloAckPayload{
		ConnectionID: client.ConnectionID,
		UserID:       client.UserID,
		Role:         client.Role,
	})
	ack := newEnvelope(v1.TypeHelloAck, payload, time.Now().UTC())
	if !g.enqueue(ctx, client, ack) {
		g.log.Warn("ws.hello_ack.drop", "connection_id", client.ConnectionID)
	}
}

func (g *WSGateway) onTicketJoin(client *Conn, env v1.Envelope) error {
	var p v1.TicketJoinPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	ticketID := strings.TrimSpace(p.TicketID)
	if ticketID == "" {
		return errors.New("missing ticket_id")
	}

	g.hub.JoinRoom(ticketID, client)
	return nil
}

func (g *WSGateway) onTicketLeave(client *Conn, env v1.Envelope) error {
	var p v1.TicketLeavePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	ticketID := strings.TrimSpace(p.TicketID)
	if ticketID == "" {
		return errors.New("missing ticket_id")
	}

	g.hub.LeaveRoom(ticketID, client)
	return nil
}

func (g *WSGateway) onNotifyRead(ctx context.Context, client *Conn, env v1.Envelope) error {
	var p v1.NotifyReadPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	id := strings.TrimSpace(p.NotificationID)
	if id == "" {
		return errors.New("missing notification_id")
	}

	if g.reads != nil {
		if err := g.reads.MarkRead(ctx, client.UserID, id); err != nil {
			return fmt.Errorf("mark read: %w", err)
		}
	}

	g.log.Info("ws.notification.read", "connection_id", client.ConnectionID, "user_id", client.UserID, "notification_id", id)
	return nil
}

// ---- send helpers ----

func (g *WSGateway) trySendError(ctx context.Context, client *Conn, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	env := newEnvelope(v1.TypeError, p, time.Now().UTC())
	_ = g.enqueue(ctx, client, env)
}

func (g *WSGateway) enqueue(ctx context.Context, client *Conn, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	id, err := newEnvelopeID(ts)
	if err != nil {
		id = "00000000000000000000000000"
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      ts,
		Payload: payload,
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors come from json.Unmarshal, not conn.Read. This
	// string fallback covers errors propagated as text.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored when explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port and scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host with
	// filepath.Match patterns. Only hosts from the allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
