// Package server exposes the decoder over HTTP: key derivation for a UID,
// full scans of uploaded 1K dumps, and the latest published result per tag.
package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/dyluth/spoolscan/internal/hardware"
	"github.com/dyluth/spoolscan/internal/keyderiv"
	"github.com/dyluth/spoolscan/internal/mifare"
	"github.com/dyluth/spoolscan/internal/publish"
	"github.com/dyluth/spoolscan/internal/scan"
	"github.com/dyluth/spoolscan/pkg/spooltag"
)

// Store is the result store behind /healthz and /tags. *publish.Publisher
// implements it.
type Store interface {
	Ping(ctx context.Context) error
	Publish(ctx context.Context, result spooltag.ScanResult) error
	Latest(ctx context.Context, uid string) (*spooltag.ScanResult, error)
}

// Server handles the HTTP API.
type Server struct {
	cfg     scan.Config
	deriver *keyderiv.Deriver
	store   Store
	base    *slog.Logger
	logger  *slog.Logger
	server  *http.Server
	addr    string
}

// Option configures a Server.
type Option func(*Server)

// WithStore enables publishing decoded results and the /tags endpoint.
func WithStore(s Store) Option {
	return func(srv *Server) { srv.store = s }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(srv *Server) {
		if l != nil {
			srv.logger = l
		}
	}
}

// New creates a server that scans uploaded dumps with cfg.
func New(cfg scan.Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		cfg:     cfg,
		deriver: keyderiv.NewDeriver(cfg.Secret),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.base = s.logger
	s.logger = s.base.With("component", "server")
	return s, nil
}

// Router returns the routes:
//
//	GET  /healthz
//	GET  /keys/{uid}
//	POST /decode[?uid=hex]
//	GET  /tags/{uid}
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthCheckHandler).Methods(http.MethodGet)
	r.HandleFunc("/keys/{uid}", s.keysHandler).Methods(http.MethodGet)
	r.HandleFunc("/decode", s.decodeHandler).Methods(http.MethodPost)
	r.HandleFunc("/tags/{uid}", s.latestHandler).Methods(http.MethodGet)
	return r
}

// Start binds addr and serves in the background. Bind errors are returned.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.addr = ln.Addr().String()
	s.server = &http.Server{
		Handler:      s.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: s.cfg.Deadline + 5*time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "event_type", "server_error", "error", err)
		}
	}()
	s.logger.Info("http server started", "event_type", "server_started", "addr", s.addr)
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status string `json:"status"`
	Redis  string `json:"redis"`
	Error  string `json:"error,omitempty"`
}

// KeysResponse lists the derived key for each sector.
type KeysResponse struct {
	UID  string   `json:"uid"`
	Keys []string `json:"keys"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// healthCheckHandler returns 200 when the store (if any) is reachable and
// 503 otherwise.
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{Status: "healthy", Redis: "disabled"}
	if s.store == nil {
		writeJSON(w, http.StatusOK, response)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		response.Status = "unhealthy"
		response.Redis = "disconnected"
		response.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}
	response.Redis = "connected"
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) keysHandler(w http.ResponseWriter, r *http.Request) {
	uid, err := parseUID(mux.Vars(r)["uid"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	keys := s.deriver.DeriveKeys(uid)
	response := KeysResponse{UID: fmt.Sprintf("%X", uid), Keys: make([]string, len(keys))}
	for i, k := range keys {
		response.Keys[i] = k.String()
	}
	writeJSON(w, http.StatusOK, response)
}

// decodeHandler runs a full scan against the uploaded dump. Every scan
// outcome is a 200 carrying the ScanResult; 4xx is reserved for requests
// that could not be scanned at all.
func (s *Server) decodeHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, mifare.DumpSize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("dump must be %d bytes", mifare.DumpSize))
		return
	}

	var uid []byte
	if q := r.URL.Query().Get("uid"); q != "" {
		if uid, err = parseUID(q); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	link, err := hardware.NewDumpLink(body, uid)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	opts := []scan.Option{scan.WithLogger(s.base)}
	if s.store != nil {
		opts = append(opts, scan.WithPublisher(s.store))
	}
	scanner, err := scan.New(link, s.cfg, opts...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, scanner.Scan(r.Context()))
}

func (s *Server) latestHandler(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, errors.New("publishing is not configured"))
		return
	}
	uid, err := parseUID(mux.Vars(r)["uid"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.store.Latest(r.Context(), fmt.Sprintf("%X", uid))
	if err != nil {
		if publish.IsNotFound(err) {
			writeError(w, http.StatusNotFound, fmt.Errorf("no result for tag %X", uid))
			return
		}
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func parseUID(s string) ([]byte, error) {
	uid, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("uid must be hex: %w", err)
	}
	if !keyderiv.ValidUIDLength(len(uid)) {
		return nil, fmt.Errorf("uid must be 4, 7 or 10 bytes, got %d", len(uid))
	}
	return uid, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
