package bus

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrSessionClosed = errors.New("bus: session closed")
	ErrSendBuffer    = errors.New("bus: send buffer full")
)

const (
	defaultSendBuffer = 16
	writeTimeout      = 10 * time.Second
)

// Sender is the reply side of a session, handed to the Handler with each inbound message.
type Sender interface {
	ID() string
	// Controlled reports whether the session is under this agent's control.
	Controlled() bool
	Send(msg Message) error
}

// Handler receives inbound messages.
type Handler interface {
	HandleMessage(ctx context.Context, from Sender, msg Message)
}

type HubConfig struct {
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
	// Per-session send buffer; messages are dropped for a session whose buffer is full.
	SendBuffer int
	// Optional origin check for the WebSocket upgrade (same host by default).
	CheckOrigin func(r *http.Request) bool
}

// Hub keeps track of connected sessions and delivers messages to them.
// It is the message bus and the session host of the agent.
type Hub struct {
	log        zerolog.Logger
	upgrader   websocket.Upgrader
	sendBuffer int

	mu       sync.RWMutex
	sessions map[string]*Session
	handler  Handler

	skipWaiting atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHub(config HubConfig) *Hub {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = defaultSendBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		log:        logger.With().Str("component", "bus").Logger(),
		upgrader:   websocket.Upgrader{CheckOrigin: config.CheckOrigin},
		sendBuffer: config.SendBuffer,
		sessions:   map[string]*Session{},
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetHandler sets the receiver of inbound messages.
func (h *Hub) SetHandler(handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

// SkipWaiting makes every session attaching from now on controlled immediately.
func (h *Hub) SkipWaiting() {
	h.skipWaiting.Store(true)
}

// ClaimSessions takes control of all currently attached sessions.
func (h *Hub) ClaimSessions(ctx context.Context) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.sessions {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.controlled.Store(true)
	}
	h.log.Debug().Int("sessions", len(h.sessions)).Msg("Claimed sessions")
	return nil
}

// Broadcast sends a message to all controlled sessions,
// and to uncontrolled ones as well if includeUncontrolled is set.
// Delivery is best effort: a session that cannot take the message misses it.
func (h *Hub) Broadcast(ctx context.Context, msg Message, includeUncontrolled bool) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		if includeUncontrolled || s.Controlled() {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.enqueue(data); err != nil {
			h.log.Warn().Err(err).Str("session", s.id).Stringer("message", msg).Msg("Message dropped")
		}
	}
	h.log.Trace().Stringer("message", msg).Int("sessions", len(targets)).Msg("Broadcast message")
	return nil
}

// Sessions returns the number of attached sessions.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// ServeHTTP upgrades the request to a WebSocket and serves the session until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("Could not upgrade session connection")
		return
	}
	s := &Session{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.sendBuffer),
		done: make(chan struct{}),
	}
	s.controlled.Store(h.skipWaiting.Load())

	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()
	h.log.Debug().Str("session", s.id).Bool("controlled", s.Controlled()).Msg("Session attached")

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.writePump(s)
	}()

	h.readLoop(s)

	h.mu.Lock()
	delete(h.sessions, s.id)
	h.mu.Unlock()
	s.close()
	h.log.Debug().Str("session", s.id).Msg("Session detached")
}

// Close disconnects all sessions.
func (h *Hub) Close() {
	h.cancel()
	h.mu.RLock()
	for _, s := range h.sessions {
		s.close()
	}
	h.mu.RUnlock()
	h.wg.Wait()
}

func (h *Hub) readLoop(s *Session) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn().Err(err).Str("session", s.id).Msg("Session read failed")
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.log.Warn().Err(err).Str("session", s.id).Msg("Could not decode message")
			continue
		}
		h.mu.RLock()
		handler := h.handler
		h.mu.RUnlock()
		if handler == nil {
			h.log.Trace().Str("session", s.id).Stringer("message", msg).Msg("No handler, message ignored")
			continue
		}
		handler.HandleMessage(h.ctx, s, msg)
	}
}

func (h *Hub) writePump(s *Session) {
	defer s.conn.Close()
	for {
		select {
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.Warn().Err(err).Str("session", s.id).Msg("Session write failed")
				s.close()
				return
			}
		case <-s.done:
			s.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "agent stopped"),
				time.Now().Add(time.Second),
			)
			return
		case <-h.ctx.Done():
			return
		}
	}
}

// Session is a single connected front-end page.
type Session struct {
	id         string
	conn       *websocket.Conn
	send       chan []byte
	done       chan struct{}
	once       sync.Once
	controlled atomic.Bool
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Controlled() bool {
	return s.controlled.Load()
}

// Send queues a message for this session only.
func (s *Session) Send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.enqueue(data)
}

func (s *Session) enqueue(data []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.send <- data:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return ErrSendBuffer
	}
}

func (s *Session) close() {
	s.once.Do(func() { close(s.done) })
}
