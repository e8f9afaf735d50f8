// Package server is the HTTP face of oxd: one POST route per command, a
// health check, and the {status, description} error rendering.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zaphod72/oxd/pkg/command"
	oxderr "github.com/zaphod72/oxd/pkg/errors"
)

const (
	maxBodySize = 1 << 20

	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 60 * time.Second
	idleTimeout       = 120 * time.Second
)

// Processor runs commands. *router.Router implements it.
type Processor interface {
	Process(ctx context.Context, cmd *command.Command) (any, error)
}

// unprotected commands never read the Authorization header.
var unprotected = map[command.Type]bool{
	command.RegisterSite:   true,
	command.GetClientToken: true,
	command.GetDiscovery:   true,
}

// ErrorBody is the wire form of every failure.
type ErrorBody struct {
	Status      string `json:"status"`
	Description string `json:"description"`
}

type Server struct {
	proc   Processor
	logger *slog.Logger
	http   *http.Server
}

func New(addr string, proc Processor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{proc: proc, logger: logger}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	return s
}

// Routes returns the route table.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.logRequests, middleware.Recoverer)

	r.Get("/health-check", s.healthCheck)
	for _, t := range command.AllTypes() {
		r.Post("/"+t.String(), s.commandHandler(t))
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, oxderr.New(oxderr.KindUnsupportedOperation))
	})
	return r
}

func (s *Server) healthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Server) commandHandler(t command.Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
		if err != nil {
			writeError(w, oxderr.Wrapf(err, oxderr.KindInternalErrorNoParams, "server: read %s body", t))
			return
		}
		params, err := command.Decode(t, body)
		if err != nil {
			s.logger.DebugContext(r.Context(), "invalid command params", "command", t.String(), "error", err)
			writeError(w, err)
			return
		}
		cmd := &command.Command{Type: t, Params: params}
		if !unprotected[t] {
			cmd.AccessToken = BearerToken(r.Header.Get("Authorization"))
		}

		out, err := s.proc.Process(r.Context(), cmd)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.InfoContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("oxd server listening", "addr", l.Addr().String())
	if err := s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured address until Shutdown.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func writeError(w http.ResponseWriter, err error) {
	e := oxderr.FromError(err)
	writeJSON(w, e.HTTPStatus(), ErrorBody{Status: e.Code, Description: e.Message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
