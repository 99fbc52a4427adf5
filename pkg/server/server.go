// Package server exposes the cancel-object plugin over HTTP: the operator
// API, file uploads, job control, history, metrics and a websocket feed of
// plugin messages.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cancelobject/pkg/auth"
	"cancelobject/pkg/errors"
	"cancelobject/pkg/history"
	"cancelobject/pkg/log"
	"cancelobject/pkg/metrics"
	"cancelobject/pkg/plugin"
	"cancelobject/pkg/printer"
	"cancelobject/pkg/storage"
)

const maxUploadSize = 512 << 20

// Config wires a Server. History and Metrics are optional.
type Config struct {
	Addr    string
	Plugin  *plugin.Plugin
	Files   *storage.FileManager
	Jobs    *printer.Controller
	History *history.Store
	Auth    *auth.Authenticator
	Metrics *metrics.CancelMetrics
	Hub     *Hub
	Logger  *log.Logger
}

// Server is the HTTP front of the plugin.
type Server struct {
	plugin  *plugin.Plugin
	files   *storage.FileManager
	jobs    *printer.Controller
	history *history.Store
	auth    *auth.Authenticator
	metrics *metrics.CancelMetrics
	hub     *Hub
	log     *log.Logger

	addr      string
	startTime time.Time

	mu         sync.Mutex
	httpServer *http.Server
	stopped    bool
	running    atomic.Bool
}

// New creates a server. Nothing listens until Start.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.GetLogger("server")
	}
	authn := cfg.Auth
	if authn == nil {
		authn = auth.NewAuthenticator("")
	}
	hub := cfg.Hub
	if hub == nil {
		hub = NewHub(logger.WithPrefix("hub"))
	}
	if cfg.Metrics != nil {
		hub.mu.Lock()
		hub.gauge = cfg.Metrics.WebsocketClients
		hub.mu.Unlock()
	}
	return &Server{
		plugin:    cfg.Plugin,
		files:     cfg.Files,
		jobs:      cfg.Jobs,
		history:   cfg.History,
		auth:      authn,
		metrics:   cfg.Metrics,
		hub:       hub,
		log:       logger,
		addr:      cfg.Addr,
		startTime: time.Now(),
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/plugin/"+plugin.Identifier, s.handlePlugin)
	mux.HandleFunc("/api/files/local", s.handleFiles)
	mux.HandleFunc("/api/files/local/", s.handleFile)
	mux.HandleFunc("/api/job", s.handleJob)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/server", s.handleServerInfo)
	mux.Handle("/sockjs", s.hub)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	return s.corsMiddleware(mux)
}

// Start listens on the configured address and blocks until Shutdown.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	if s.httpServer != nil {
		s.mu.Unlock()
		return errors.New(errors.ErrRuntime, "server already started")
	}
	s.httpServer = srv
	s.mu.Unlock()

	s.running.Store(true)
	s.log.Info("API server starting on %s", s.addr)

	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown disconnects websocket clients and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.running.Store(false)
	s.hub.Close()
	s.mu.Lock()
	s.stopped = true
	srv := s.httpServer
	s.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// CORS middleware for browser frontends.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Api-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handlePlugin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.plugin.Query()
		s.writeJSON(w, http.StatusOK, map[string]any{
			"objects":   s.plugin.Objects(),
			"cancelled": s.plugin.Cancelled(),
			"active":    s.plugin.Active(),
			"skipping":  s.plugin.Skipping(),
			"settings":  s.plugin.SettingsView(),
		})
	case http.MethodPost:
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.writeError(w, errors.BadRequestError("invalid JSON body"))
			return
		}
		command, _ := body["command"].(string)
		caller := s.auth.FromRequest(r)
		if err := s.plugin.HandleCommand(r.Context(), caller, command, body); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		s.methodNotAllowed(w, "GET, POST")
	}
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		files, err := s.files.List()
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"files": files})
	case http.MethodPost:
		s.handleUpload(w, r)
	default:
		s.methodNotAllowed(w, "GET, POST")
	}
}

// handleUpload stores a multipart "file" field through the preprocessing
// hook. Optional form values: "path" (stored name), "select" and "print".
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, errors.BadRequestError("missing multipart field 'file'"))
		return
	}
	defer file.Close()
	if formBool(r, "print") {
		if err := s.requireOperator(r, "start print jobs"); err != nil {
			s.writeError(w, err)
			return
		}
	}

	name := r.FormValue("path")
	if name == "" {
		name = header.Filename
	} else if strings.HasSuffix(name, "/") {
		name = path.Join(name, header.Filename)
	}

	info, err := s.files.Save(name, s.plugin.PreprocessFile(name, file))
	if err != nil {
		s.writeError(w, err)
		return
	}

	selectFile := formBool(r, "select") || formBool(r, "print")
	if selectFile {
		if err := s.jobs.Select(r.Context(), info.Path); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if formBool(r, "print") {
		if err := s.jobs.Start(r.Context()); err != nil {
			s.writeError(w, err)
			return
		}
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{
		"done":  true,
		"files": map[string]any{"local": info},
	})
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/files/local/")
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.serveFile(w, r, name)
	case http.MethodDelete:
		if err := s.files.Delete(name); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		s.methodNotAllowed(w, "GET, HEAD, DELETE")
	}
}

// serveFile returns a stored file as written to disk, i.e. after
// normalization.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, name string) {
	f, err := s.files.Open(name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.writeError(w, errors.Wrap(err, errors.ErrIO, "stat file"))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	http.ServeContent(w, r, path.Base(name), info.ModTime(), f)
}

type jobRequest struct {
	Command string `json:"command"`
	File    string `json:"file"`
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.jobs.Status())
		return
	case http.MethodPost:
	default:
		s.methodNotAllowed(w, "GET, POST")
		return
	}

	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.BadRequestError("invalid JSON body"))
		return
	}

	var err error
	switch req.Command {
	case "select":
		err = s.jobs.Select(r.Context(), req.File)
	case "start":
		err = s.requireOperator(r, "start print jobs")
		if err == nil && req.File != "" {
			err = s.jobs.Select(r.Context(), req.File)
		}
		if err == nil {
			err = s.jobs.Start(r.Context())
		}
	case "cancel":
		err = s.requireOperator(r, "cancel print jobs")
		if err == nil {
			err = s.jobs.Cancel()
		}
	default:
		err = errors.BadRequestError("unknown job command '" + req.Command + "'")
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.jobs.Status())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, "GET")
		return
	}
	if s.history == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"jobs": []history.Job{}})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, errors.BadRequestError("limit must be an integer"))
			return
		}
		limit = n
	}
	jobs, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"plugin":        plugin.Identifier,
		"running":       s.running.Load(),
		"uptime":        time.Since(s.startTime).Seconds(),
		"auth_enabled":  s.auth.Enabled(),
		"clients":       s.hub.Clients(),
		"history":       s.history != nil,
		"metrics":       s.metrics != nil,
		"caller":        s.auth.FromRequest(r).Subject,
		"gcodes_root":   s.files.Root(),
		"printer_state": s.jobs.Status().State,
	})
}

// requireOperator rejects anonymous callers once tokens are configured.
// Without a secret every caller is anonymous and job control stays open.
func (s *Server) requireOperator(r *http.Request, action string) error {
	if s.auth.Enabled() && s.auth.FromRequest(r).IsAnonymous() {
		return errors.ForbiddenError(action)
	}
	return nil
}

func formBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.FormValue(key))
	return err == nil && v
}

// JSON response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.WithError(err).Debug("write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).Error("request failed")
	}
	s.writeJSON(w, status, map[string]any{
		"error": err.Error(),
		"code":  errors.CodeOf(err),
	})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	s.writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
}

// statusFor maps error codes to HTTP statuses.
func statusFor(err error) int {
	switch errors.CodeOf(err) {
	case errors.ErrForbidden:
		return http.StatusForbidden
	case errors.ErrNotFound, errors.ErrUnknownObject:
		return http.StatusNotFound
	case errors.ErrBadRequest, errors.ErrConfig:
		return http.StatusBadRequest
	case errors.ErrStorage:
		if storage.IsInvalidName(err) {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
