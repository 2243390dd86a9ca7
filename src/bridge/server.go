package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	// maxMessageSize bounds one inbound frame; generated text can be long.
	maxMessageSize = 1 << 20
)

// HandlerFunc serves one inbound channel. The returned value becomes the
// reply payload for two-way messages and is discarded otherwise.
type HandlerFunc func(ctx context.Context, from Role, env Envelope) (any, error)

// Server accepts UI connections on /ws and routes their envelopes to handlers.
type Server struct {
	hub      *Hub
	upgrader websocket.Upgrader
	log      *zap.SugaredLogger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	ctx    context.Context
	cancel context.CancelFunc
}

func NewServer(hub *Hub, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The bridge only listens on loopback and the UI is served from
			// its own dev server origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:      log,
		handlers: make(map[string]HandlerFunc),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Server) Handle(channel string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[channel] = h
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/ws", s.handleWS)
	return r
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bridge listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Infow("bridge listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		s.cancel()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.cancel()
	s.hub.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("bridge shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	stats := s.hub.Stats()
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"main":    stats[RoleMain],
		"overlay": stats[RoleOverlay],
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	role := Role(r.URL.Query().Get("role"))
	if !role.Valid() {
		http.Error(w, "role must be main or overlay", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("websocket upgrade failed", "error", err)
		return
	}

	c := s.hub.register(role)
	go s.writePump(conn, c)
	go s.readPump(conn, c)
}

func (s *Server) readPump(conn *websocket.Conn, c *client) {
	defer func() {
		s.hub.unregister(c)
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warnw("bridge read error", "client_id", c.id, "error", err)
			}
			return
		}
		s.dispatch(c, env)
	}
}

func (s *Server) writePump(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(env); err != nil {
				s.log.Debugw("bridge write failed", "client_id", c.id, "error", err)
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

func (s *Server) dispatch(c *client, env Envelope) {
	s.mu.RLock()
	h, ok := s.handlers[env.Channel]
	s.mu.RUnlock()

	var (
		result any
		err    error
	)
	if !ok {
		err = fmt.Errorf("unknown channel %q", env.Channel)
	} else {
		result, err = s.invoke(h, c.role, env)
	}

	if env.ID == "" {
		if err != nil {
			s.log.Warnw("bridge message failed", "channel", env.Channel, "role", c.role, "error", err)
		}
		return
	}

	reply, mErr := NewEnvelope(env.Channel, result)
	if mErr != nil {
		err = mErr
	}
	reply.ID = env.ID
	if err != nil {
		reply.Payload = nil
		reply.Error = err.Error()
	}
	s.hub.reply(c, reply)
}

func (s *Server) invoke(h HandlerFunc, role Role, env Envelope) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("panic in bridge handler", "channel", env.Channel, "panic", r)
			err = fmt.Errorf("internal error handling %s", env.Channel)
		}
	}()
	return h(s.ctx, role, env)
}
