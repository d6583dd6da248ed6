// Package main provides a CI-friendly smoke test for the notification socket.
//
// It validates:
//   - login over HTTP and an authenticated handshake + subprotocol selection
//   - hello.ack session establishment (first frame)
//   - user.stats push containing the connected identity
//   - stats fan-out when a second connection of the same identity appears
//   - ticket room join acceptance (no error frame)
//   - error envelope on an unsupported client event
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "github.com/PedroAbreu017/Help-Desk-System-sub001/shared/contracts/notify/v1"
)

const (
	defaultSubprotocol = "helpdesk.notify.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

type smokeClient struct {
	name         string
	conn         *websocket.Conn
	connectionID string
	userID       string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		baseURL  = flag.String("base", "http://127.0.0.1:8080", "HTTP base URL of the server")
		wsURL    = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		username = flag.String("user", "admin", "Username to log in with")
		password = flag.String("pass", "", "Password to log in with")
		ticketID = flag.String("ticket", "ticket-smoke-1", "Ticket room to join")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if strings.TrimSpace(*password) == "" {
		fatalf("missing -pass")
	}

	root := context.Background()

	access := mustLogin(root, *baseURL, *username, *password, *timeout)
	if *verbose {
		fmt.Printf("logged in: user=%s\n", *username)
	}

	a := mustConnect(root, "A", *wsURL, *origin, access, *timeout)
	defer closeWS(a.conn)

	mustStatsContain(root, a, a.userID, *timeout)

	mustJoinTicket(root, a, *ticketID, *timeout)

	// A second connection of the same identity must push fresh stats to A.
	b := mustConnect(root, "B", *wsURL, *origin, access, *timeout)
	mustStatsContain(root, a, b.userID, *timeout)

	closeWS(b.conn)
	mustStatsContain(root, a, a.userID, *timeout)

	mustErrorOnUnsupported(root, a, *timeout)

	fmt.Printf("OK: user=%s A=%s B=%s ticket=%s\n", a.userID, a.connectionID, b.connectionID, *ticketID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustLogin(parent context.Context, baseURL, username, password string, stepTimeout time.Duration) string {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{
		"username": username,
		"password": password,
	})
	if err != nil {
		fatalf("marshal login body: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/auth/login", bytes.NewReader(body))
	if err != nil {
		fatalf("new login request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("login: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fatalf("login status=%d", resp.StatusCode)
	}

	var out struct {
		Success bool `json:"success"`
		Session struct {
			AccessToken string `json:"access_token"`
		} `json:"session"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("decode login response: %v", err)
	}
	if !out.Success || strings.TrimSpace(out.Session.AccessToken) == "" {
		fatalf("login response missing access token")
	}
	return out.Session.AccessToken
}

func mustConnect(parent context.Context, name, wsURL, origin, accessToken string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+accessToken)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, defaultSubprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	// hello.ack is pushed by the server; it must be the first frame.
	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout, nil)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello.ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.ConnectionID) == "" || strings.TrimSpace(p.UserID) == "" {
		fatalf("hello.ack missing connection_id/user_id (%s)", name)
	}
	c.connectionID = p.ConnectionID
	c.userID = p.UserID

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustJoinTicket(parent context.Context, c *smokeClient, ticketID string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeTicketJoin,
		ID:      fmt.Sprintf("%s-join", c.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.TicketJoinPayload{TicketID: ticketID}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	// Join has no ack; an error frame within the grace window means rejection.
	mustAssertNoType(parent, c, v1.TypeError, 750*time.Millisecond)
}

func mustStatsContain(parent context.Context, c *smokeClient, userID string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeUserStats, stepTimeout, nil)

	var p v1.UserStatsPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal user.stats payload (%s): %v", c.name, err)
	}
	if p.ConnectedUserCount <= 0 {
		fatalf("user.stats count=%d (%s)", p.ConnectedUserCount, c.name)
	}
	for _, id := range p.ConnectedUserIDs {
		if id == userID {
			return
		}
	}
	fatalf("user.stats missing %q (%s): %v", userID, c.name, p.ConnectedUserIDs)
}

func mustErrorOnUnsupported(parent context.Context, c *smokeClient, stepTimeout time.Duration) {
	// A server-to-client type sent inbound is well-formed but unsupported.
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHelloAck,
		ID:      fmt.Sprintf("%s-unsupported", c.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(struct{}{}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	got := c.mustReadUntilErrorType(parent, stepTimeout)
	var ep v1.ErrorPayload
	if err := json.Unmarshal(got.Payload, &ep); err != nil {
		fatalf("unmarshal error payload (%s): %v", c.name, err)
	}
	if ep.Code != "unsupported" {
		fatalf("error code mismatch (%s): got=%q want=%q", c.name, ep.Code, "unsupported")
	}
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if env.Type == forbiddenType {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("unexpected %s received (%s): code=%q msg=%q", forbiddenType, c.name, ep.Code, ep.Message)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			// Stats pushes arrive on every membership change; skip them
			// unless they are what we wait for.
			if env.Type == v1.TypeUserStats {
				continue
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func (c *smokeClient) mustReadUntilErrorType(parent context.Context, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for error frame (%s): %v", c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for error frame (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for error frame (%s)", c.name)
			}
			if env.Type == v1.TypeError {
				return env
			}
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
