package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/geminiglobal/zinc/internal/remote"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Config holds server configuration
type Config struct {
	// Addr to listen on (default: ":8787")
	Addr string

	// APIKey every request must present (required)
	APIKey string

	// AllowedOrigins for CORS and websocket upgrades (default: all)
	AllowedOrigins []string

	// Tokens maps bearer tokens to user ids. When empty the token itself is
	// taken as the user id.
	Tokens map[string]string

	// Logger for server activity (default: no-op)
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Addr:           ":8787",
		AllowedOrigins: []string{"*"},
		Logger:         zap.NewNop(),
	}
}

// client is one realtime subscriber.
type client struct {
	conn           *websocket.Conn
	organizationID string
	userID         string
}

// broadcast is a message addressed to one organization's subscribers.
type broadcast struct {
	organizationID string
	msg            remote.Message
}

// Server serves the REST table API and the realtime change feed.
type Server struct {
	cfg      Config
	store    *Store
	listener net.Listener
	server   *http.Server
	handler  http.Handler

	// Realtime client management
	clients   map[*websocket.Conn]*client
	clientsMu sync.RWMutex

	// Message broadcasting
	broadcast chan broadcast

	// Lifecycle management
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool

	logger *zap.Logger
}

// NewServer creates a server over store. The broadcast loop starts
// immediately so Handler can be mounted without Start (as httptest does);
// call Stop to release it.
func NewServer(config *Config, store *Store) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if store == nil {
		return nil, fmt.Errorf("hub store is required")
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("hub API key is required")
	}
	cfg := *config
	if cfg.Addr == "" {
		cfg.Addr = DefaultConfig().Addr
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		store:     store,
		clients:   make(map[*websocket.Conn]*client),
		broadcast: make(chan broadcast, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    cfg.Logger,
	}
	s.handler = s.routes()

	s.wg.Add(1)
	go s.broadcastLoop()

	return s, nil
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/rest/v1").Subrouter()
	api.Use(s.authenticate)
	api.HandleFunc("/contacts", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/contacts", s.handleInsert).Methods(http.MethodPost)
	api.HandleFunc("/contacts/{id}", s.handleUpdate).Methods(http.MethodPatch)
	api.HandleFunc("/contacts/{id}", s.handleDelete).Methods(http.MethodDelete)

	rt := r.PathPrefix("/realtime/v1").Subrouter()
	rt.Use(s.authenticate)
	rt.HandleFunc("/contacts", s.handleRealtime)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "apikey"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	return c.Handler(r)
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.started = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("hub listening", zap.String("addr", ln.Addr().String()))
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop closes realtime clients, shuts the HTTP server down and waits for
// background goroutines.
func (s *Server) Stop() error {
	s.logger.Info("stopping hub")
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	var shutdownErr error
	if s.started {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()
	s.logger.Info("hub stopped")
	return shutdownErr
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// ClientCount returns the number of connected realtime clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// publish queues a change for the organization's subscribers.
func (s *Server) publish(organizationID string, change remote.Change) {
	data, err := json.Marshal(change)
	if err != nil {
		s.logger.Error("failed to marshal change", zap.Error(err))
		return
	}
	msg := remote.Message{Type: remote.MessageTypeChange, Timestamp: time.Now(), Data: data}

	select {
	case s.broadcast <- broadcast{organizationID: organizationID, msg: msg}:
	case <-s.ctx.Done():
	default:
		s.logger.Warn("broadcast channel full, dropping change",
			zap.String("kind", string(change.Kind)), zap.String("id", change.RowID()))
	}
}

// broadcastLoop delivers queued messages to subscribers of the addressed
// organization.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case b := <-s.broadcast:
			data, err := json.Marshal(b.msg)
			if err != nil {
				s.logger.Error("failed to marshal message", zap.Error(err))
				continue
			}

			s.clientsMu.RLock()
			targets := make([]*websocket.Conn, 0, len(s.clients))
			for conn, c := range s.clients {
				if c.organizationID == b.organizationID {
					targets = append(targets, conn)
				}
			}
			s.clientsMu.RUnlock()

			for _, conn := range targets {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.logger.Debug("failed to send to client", zap.Error(err))
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleRealtime upgrades to a websocket and registers the subscriber.
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("organization_id")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "organization_id is required")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, organizationID: orgID, userID: userFrom(r.Context())}
	s.clientsMu.Lock()
	s.clients[conn] = c
	count := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Info("realtime client connected",
		zap.String("organization", orgID), zap.String("user", c.userID), zap.Int("total", count))

	welcome, _ := json.Marshal(remote.Message{Type: remote.MessageTypeWelcome, Timestamp: time.Now()})
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	_ = conn.Write(ctx, websocket.MessageText, welcome)
	cancel()

	s.readLoop(conn)
}

// readLoop holds the connection open until the client leaves. Clients do
// not send anything meaningful.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		count := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Info("realtime client disconnected", zap.Int("total", count))
		return
	}
	s.clientsMu.Unlock()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

type ctxKey struct{}

func userFrom(ctx context.Context) string {
	u, _ := ctx.Value(ctxKey{}).(string)
	return u
}

// authenticate checks the API key and bearer token and resolves the token
// to the user that every write is attributed to.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("apikey")
		if key == "" {
			key = r.URL.Query().Get("apikey")
		}
		if key != s.cfg.APIKey {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || token == r.Header.Get("Authorization") {
			token = r.URL.Query().Get("access_token")
		}
		token = strings.TrimSpace(token)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing or invalid JWT")
			return
		}

		user := token
		if len(s.cfg.Tokens) > 0 {
			var ok bool
			if user, ok = s.cfg.Tokens[token]; !ok || user == "" {
				writeError(w, http.StatusUnauthorized, "invalid JWT")
				return
			}
		}

		ctx := context.WithValue(r.Context(), ctxKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
