package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/websocket"
)

var (
	ErrSessionAlreadyActive = errors.New("relayer: session already active")
	ErrSessionClosed        = errors.New("relayer: session closed")
)

type Status int

const (
	PreFlight Status = iota
	OnFlight
	Continue
	CleanExit
	Errored
)

func (s Status) String() string {
	switch s {
	case PreFlight:
		return "PreFlight"
	case OnFlight:
		return "OnFlight"
	case Continue:
		return "Continue"
	case CleanExit:
		return "CleanExit"
	case Errored:
		return "Errored"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

func (s Status) Terminal() bool { return s == CleanExit || s == Errored }

// Result is what a session ended with. TxHash is set on CleanExit, Reason on
// Errored.
type Result struct {
	Status  Status
	TxHash  string
	Reason  string
	Message json.RawMessage
}

type SessionConfig struct {
	DialAttempts int
	DialBackoff  time.Duration
	WriteTimeout time.Duration
}

var DefaultSessionConfig = SessionConfig{
	DialAttempts: 5,
	DialBackoff:  250 * time.Millisecond,
	WriteTimeout: 10 * time.Second,
}

// Session runs one withdrawal over a relayer's websocket. It starts in
// PreFlight, accepts exactly one Send, and ends in CleanExit or Errored, at
// which point the connection is closed and the status never changes again.
type Session struct {
	conn   *websocket.Conn
	config SessionConfig

	mu     sync.Mutex
	status Status
	last   json.RawMessage
	result Result
	done   chan struct{}
}

// WebsocketURL turns an http(s) relayer endpoint into its ws(s) channel URL.
func WebsocketURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("relayer: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// Dial opens the channel, retrying with backoff until it is ready or the
// attempts run out.
func Dial(ctx context.Context, endpoint string, config SessionConfig) (*Session, error) {
	wsURL, err := WebsocketURL(endpoint)
	if err != nil {
		return nil, err
	}
	if config.DialAttempts <= 0 {
		config.DialAttempts = 1
	}

	var conn *websocket.Conn
	backoff := config.DialBackoff
	for attempt := 1; ; attempt++ {
		conn, _, err = websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err == nil {
			break
		}
		if attempt >= config.DialAttempts || ctx.Err() != nil {
			return nil, fmt.Errorf("relayer: open %s: %w", wsURL, err)
		}
		log.Debug("relayer channel not ready", "url", wsURL, "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	s := &Session{
		conn:   conn,
		config: config,
		status: PreFlight,
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Send transmits the withdraw request. Only one request per session is
// allowed, and only from PreFlight.
func (s *Session) Send(cmd Command) error {
	data, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != PreFlight {
		return fmt.Errorf("%w: status %s", ErrSessionAlreadyActive, s.status)
	}
	if s.config.WriteTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.finishLocked(Result{Status: Errored, Reason: fmt.Sprintf("send: %v", err)})
		return err
	}
	s.status = OnFlight
	return nil
}

// Await blocks until the session reaches a terminal state or ctx ends.
func (s *Session) Await(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Close abandons a running session. It is a no-op after a terminal state.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishLocked(Result{Status: Errored, Reason: ErrSessionClosed.Error()})
}

func (s *Session) readLoop() {
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			s.finishLocked(Result{Status: Errored, Reason: fmt.Sprintf("channel closed: %v", err)})
			s.mu.Unlock()
			return
		}
		if s.handle(msg) {
			return
		}
	}
}

// handle applies one inbound message and reports whether the session is
// now terminal. Keys are matched by presence so a relayer that changes the
// shape of a value still ends the session.
func (s *Session) handle(msg []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return true
	}

	var in map[string]json.RawMessage
	if err := json.Unmarshal(msg, &in); err != nil {
		log.Debug("ignoring undecodable relayer message", "msg", string(msg), "err", err)
		s.progressLocked(msg)
		return false
	}

	if reason, ok := errorValue(in["error"]); ok {
		s.finishLocked(Result{Status: Errored, Reason: reason, Message: msg})
		return true
	}
	var network string
	if raw, ok := in["network"]; ok && json.Unmarshal(raw, &network) == nil && network == "invalidRelayerAddress" {
		s.finishLocked(Result{Status: Errored, Reason: "invalid relayer address", Message: msg})
		return true
	}

	var update map[string]json.RawMessage
	if raw, ok := in["withdraw"]; ok && json.Unmarshal(raw, &update) == nil {
		if errored, ok := update["errored"]; ok {
			reason := "withdraw errored"
			var body map[string]json.RawMessage
			if json.Unmarshal(errored, &body) == nil {
				if r, ok := errorValue(body["reason"]); ok {
					reason = r
				}
			}
			s.finishLocked(Result{Status: Errored, Reason: reason, Message: msg})
			return true
		}
		if finalized, ok := update["finalized"]; ok {
			var body struct {
				TxHash string `json:"txHash"`
			}
			if err := json.Unmarshal(finalized, &body); err != nil {
				log.Debug("finalized message without a readable tx hash", "msg", string(msg), "err", err)
			}
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			s.finishLocked(Result{Status: CleanExit, TxHash: body.TxHash, Message: msg})
			return true
		}
	}
	s.progressLocked(msg)
	return false
}

// errorValue reports whether raw carries an error and renders it: strings as
// themselves, anything else as its JSON text. Absent, null and "" are not
// errors.
func errorValue(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	var str string
	if json.Unmarshal(raw, &str) == nil {
		return str, str != ""
	}
	return string(raw), true
}

func (s *Session) progressLocked(msg []byte) {
	s.last = msg
	if s.status == OnFlight || s.status == Continue {
		s.status = Continue
	}
}

func (s *Session) finishLocked(r Result) {
	if s.status.Terminal() {
		return
	}
	s.status = r.Status
	if r.Message == nil {
		r.Message = s.last
	}
	s.result = r
	s.conn.Close()
	close(s.done)
}
