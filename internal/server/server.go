package server

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/shaunagostinho/brewbridge/internal/brewer"
	"github.com/shaunagostinho/brewbridge/internal/state"
)

// StateReader is the read side of the state store.
type StateReader interface {
	Snapshot() state.Snapshot
	Version() uint64
}

// Commander accepts device commands.
type Commander interface {
	Submit(ctx context.Context, command string) error
	Refresh(ctx context.Context)
}

// Server exposes device state over HTTP and pushes changes to WebSocket clients.
type Server struct {
	cfg      *Config
	state    StateReader
	commands Commander
	webFS    fs.FS
	gatherer prometheus.Gatherer
	limiter  *rate.Limiter
	log      zerolog.Logger

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// statusResponse is the JSON shape of /status and WebSocket frames.
type statusResponse struct {
	Status      string   `json:"status"`
	Water       *int     `json:"water"`
	Beans       *int     `json:"beans"`
	Logs        []string `json:"logs"`
	LastUpdate  *string  `json:"lastUpdate"`
	Initialized bool     `json:"initialized"`
	Connected   bool     `json:"connected"`
	Brewing     bool     `json:"brewing"`
}

type commandRequest struct {
	Command string `json:"command"`
}

type commandResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// New creates a new Server. gatherer may be nil when metrics are disabled.
func New(cfg *Config, st StateReader, commands Commander, webFS fs.FS, gatherer prometheus.Gatherer, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		state:    st,
		commands: commands,
		webFS:    webFS,
		gatherer: gatherer,
		log:      logger.With().Str("component", "server").Logger(),
		clients:  make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	if cfg.Server.CommandRate > 0 {
		burst := cfg.Server.CommandBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.Server.CommandRate), burst)
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Embedded web page; loading it asks the brewer for fresh telemetry
	files := http.FileServer(http.FS(s.webFS))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			s.commands.Refresh(r.Context())
		}
		files.ServeHTTP(w, r)
	})

	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/command", s.handleCommand)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/config", s.handleConfig)

	if s.cfg.Server.Metrics && s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Run serves HTTP and pushes state changes until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go s.pushLoop(ctx)

	srv := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	s.log.Info().Str("addr", s.cfg.Server.ListenAddr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(s.state.Snapshot()))
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, commandResponse{Message: "too many commands, slow down"})
		return
	}

	var command string
	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct == "application/json" {
		var req commandRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		command = req.Command
	} else {
		command = r.FormValue("command")
	}

	if err := s.commands.Submit(r.Context(), command); err != nil {
		var rej *brewer.Rejection
		if errors.As(err, &rej) {
			writeJSON(w, http.StatusOK, commandResponse{Message: rej.Message})
			return
		}
		s.log.Error().Err(err).Str("command", command).Msg("command failed")
		writeJSON(w, http.StatusInternalServerError, commandResponse{Message: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{Success: true})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data, err := s.cfg.ToJSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 16),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	total := len(s.clients)
	s.clientsMu.Unlock()
	s.log.Debug().Int("clients", total).Msg("websocket client connected")

	// Current state first, then changes from pushLoop
	if data, err := json.Marshal(toStatusResponse(s.state.Snapshot())); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (keep-alive, detects disconnect)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			total := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			s.log.Debug().Int("clients", total).Msg("websocket client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// pushLoop broadcasts a snapshot whenever the store version moves.
func (s *Server) pushLoop(ctx context.Context) {
	interval := s.cfg.Server.Push()
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := s.state.Version()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if v := s.state.Version(); v != last {
				last = v
				s.broadcast(toStatusResponse(s.state.Snapshot()))
			}
		}
	}
}

func (s *Server) broadcast(resp statusResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

func toStatusResponse(snap state.Snapshot) statusResponse {
	resp := statusResponse{
		Status:      snap.Status,
		Water:       snap.Water,
		Beans:       snap.Beans,
		Logs:        snap.Logs,
		Initialized: snap.Initialized,
		Connected:   snap.Connected,
		Brewing:     snap.Brewing,
	}
	if resp.Logs == nil {
		resp.Logs = []string{}
	}
	if snap.LastUpdate != nil {
		ts := snap.LastUpdate.Format("15:04:05")
		resp.LastUpdate = &ts
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
