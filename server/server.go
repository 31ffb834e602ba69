// Package server exposes the answering chain over HTTP: a chat page at /
// and a form endpoint at /get that returns the bare answer text.
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/xhad/medbot/pkg/pipeline"
)

//go:embed templates/*.html
var templates embed.FS

// maxFormBytes bounds the body of POST /get.
const maxFormBytes = 1 << 20

// Answerer is satisfied by *pipeline.Chain.
type Answerer interface {
	Answer(ctx context.Context, query string) (*pipeline.Answer, error)
}

type Config struct {
	Addr            string
	Title           string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	config   Config
	answerer Answerer
	logger   *slog.Logger
	page     *template.Template
	handler  http.Handler
}

func New(answerer Answerer, config Config, logger *slog.Logger) (*Server, error) {
	if answerer == nil {
		return nil, errors.New("server: answerer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.Title == "" {
		config.Title = "Medical Chatbot"
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 15 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 120 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	page, err := template.ParseFS(templates, "templates/chat.html")
	if err != nil {
		return nil, fmt.Errorf("server: parse template: %w", err)
	}

	s := &Server{config: config, answerer: answerer, logger: logger, page: page}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /get", s.handleGet)

	s.handler = Chain(mux,
		Recover(logger),
		Logger(logger),
		OTel("medbot"),
	)
	return s, nil
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, struct{ Title string }{s.config.Title}); err != nil {
		s.logger.Error("render chat page", "error", err)
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		writeText(w, http.StatusBadRequest, "invalid form")
		return
	}

	msg := r.PostForm.Get("msg")
	if strings.TrimSpace(msg) == "" {
		writeText(w, http.StatusBadRequest, "msg is required")
		return
	}

	answer, err := s.answerer.Answer(r.Context(), msg)
	if errors.Is(err, pipeline.ErrEmptyQuery) {
		writeText(w, http.StatusBadRequest, "msg is required")
		return
	}
	if err != nil {
		s.logger.Error("answer failed", "error", err)
		writeText(w, http.StatusInternalServerError, "failed to answer the question")
		return
	}

	sources := make([]string, len(answer.Sources))
	for i, src := range answer.Sources {
		sources[i] = src.Source
	}
	s.logger.Debug("answered", "sources", sources)

	writeText(w, http.StatusOK, answer.Text)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
