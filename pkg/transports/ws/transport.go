// Package ws implements a text transport over WebSocket connections. Each
// connection is one conversation.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/harunnryd/closer/pkg/configutil"
	"github.com/harunnryd/closer/pkg/errorsx"
	"github.com/harunnryd/closer/pkg/transports"
)

type Config struct {
	ServerAddr     string   `mapstructure:"server_addr"`
	WebsocketPath  string   `mapstructure:"ws_path"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	SendBuffer     int      `mapstructure:"send_buffer"`
}

var SettingsSchema = configutil.Schema{
	Optional: []string{"server_addr", "ws_path", "allow_any_origin", "allowed_origins", "send_buffer"},
}

// ParseSettings validates and decodes the transports.settings block.
func ParseSettings(raw map[string]any) (Config, error) {
	var cfg Config
	if err := configutil.ValidateAndDecode("transports.settings", raw, SettingsSchema, &cfg); err != nil {
		return Config{}, err
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	return c
}

// Message is the JSON frame exchanged with clients.
type Message struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Room      string `json:"room,omitempty"`
	Final     bool   `json:"final,omitempty"`
}

const (
	MessageUserText  = "user_text"
	MessageAgentText = "agent_text"
	MessageSession   = "session"
	MessageHangup    = "hangup"
)

var ErrUnknownSession = errors.New("ws: unknown session")

type Transport struct {
	cfg      Config
	server   *http.Server
	addr     atomic.Value
	upgrader websocket.Upgrader

	recvMu sync.RWMutex
	recvCh chan transports.Event
	closed bool

	mu       sync.Mutex
	sessions map[string]*session

	draining atomic.Bool
}

func New(cfg Config) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		recvCh:   make(chan transports.Event, 512),
		sessions: make(map[string]*session),
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	return t
}

func (t *Transport) Name() string { return "websocket" }

func (t *Transport) Recv() <-chan transports.Event { return t.recvCh }

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{"ws_url": "ws://" + t.Addr() + t.cfg.WebsocketPath}
}

// Addr returns the listen address once the server is started.
func (t *Transport) Addr() string {
	if v, ok := t.addr.Load().(string); ok {
		return v
	}
	return t.cfg.ServerAddr
}

func (t *Transport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(t.cfg.WebsocketPath, t)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if t.draining.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ln, err := net.Listen("tcp", t.cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("ws listen: %w", err)
	}
	t.addr.Store(ln.Addr().String())
	t.server = &http.Server{
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           t.Handler(),
	}
	go func() {
		<-ctx.Done()
		_ = t.server.Close()
	}()
	go func() {
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ws_transport_server_error", "error", err.Error())
		}
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.draining.Store(true)
	if t.server != nil {
		_ = t.server.Close()
	}
	t.mu.Lock()
	for _, sess := range t.sessions {
		_ = sess.close()
	}
	t.sessions = make(map[string]*session)
	t.mu.Unlock()
	t.recvMu.Lock()
	if !t.closed {
		t.closed = true
		close(t.recvCh)
	}
	t.recvMu.Unlock()
	return nil
}

var unsafeRoom = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sessionID := uuid.NewString()
	room := unsafeRoom.ReplaceAllString(strings.TrimSpace(r.URL.Query().Get("room")), "_")
	if room == "" {
		room = "room-" + sessionID[:8]
	}
	sess := &session{conn: conn, sendCh: make(chan Message, t.cfg.SendBuffer)}
	t.attach(sessionID, sess)
	go sess.loop()
	_ = sess.enqueue(Message{Type: MessageSession, SessionID: sessionID, Room: room})

	t.emit(transports.Event{
		Kind:      transports.EventSessionStart,
		SessionID: sessionID,
		Room:      room,
		TraceID:   uuid.NewString(),
	})

	reason := "transport_closed"
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = "completed"
			}
			break
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Warn("ws_decode_failed", "session_id", sessionID, "reason_code", string(errorsx.ReasonTransportDecode))
			continue
		}
		if msg.Type == MessageHangup {
			reason = "completed"
			break
		}
		if msg.Type != MessageUserText || strings.TrimSpace(msg.Text) == "" {
			continue
		}
		t.emit(transports.Event{
			Kind:      transports.EventUserText,
			SessionID: sessionID,
			Room:      room,
			Text:      msg.Text,
		})
	}
	t.emit(transports.Event{
		Kind:      transports.EventSessionEnd,
		SessionID: sessionID,
		Room:      room,
		Reason:    reason,
	})
	t.detach(sessionID)
}

func (t *Transport) Send(r transports.Reply) error {
	sess := t.session(r.SessionID)
	if sess == nil {
		return errorsx.Wrap(fmt.Errorf("%w: %s", ErrUnknownSession, r.SessionID), errorsx.ReasonTransportSend)
	}
	return sess.enqueue(Message{Type: MessageAgentText, SessionID: r.SessionID, Text: r.Text, Final: r.Final})
}

func (t *Transport) emit(ev transports.Event) {
	t.recvMu.RLock()
	defer t.recvMu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.recvCh <- ev:
	default:
		slog.Warn("ws_recv_queue_full", "session_id", ev.SessionID, "kind", string(ev.Kind))
	}
}

func (t *Transport) attach(id string, sess *session) {
	t.mu.Lock()
	t.sessions[id] = sess
	t.mu.Unlock()
}

func (t *Transport) detach(id string) {
	t.mu.Lock()
	sess := t.sessions[id]
	delete(t.sessions, id)
	t.mu.Unlock()
	if sess != nil {
		_ = sess.close()
	}
}

func (t *Transport) session(id string) *session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[id]
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

type session struct {
	conn   *websocket.Conn
	sendCh chan Message
	mu     sync.Mutex
	closed bool
}

func (s *session) enqueue(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errorsx.Wrap(errors.New("ws: session closed"), errorsx.ReasonTransportSend)
	}
	select {
	case s.sendCh <- msg:
		return nil
	default:
		return errorsx.Wrap(errors.New("ws: send buffer full"), errorsx.ReasonTransportSend)
	}
}

// loop writes queued messages. A final reply is followed by a normal close.
func (s *session) loop() {
	for msg := range s.sendCh {
		b, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
		if msg.Final {
			deadline := time.Now().Add(time.Second)
			_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "conversation ended"), deadline)
			return
		}
	}
}

func (s *session) close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.sendCh)
	}
	s.mu.Unlock()
	return s.conn.Close()
}
