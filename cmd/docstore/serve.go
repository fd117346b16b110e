package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jacentio/docstore/session"
	"github.com/jacentio/docstore/store"
)

const shutdownTimeout = 10 * time.Second

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the active collection over HTTP",
		Long: `Serve document operations on the active collection over HTTP. Session tokens
are read from and returned in the x-ms-session-token header.

  GET    /documents/{id}   read (?partitionKey= for partitioned collections)
  PUT    /documents        upsert; If-Match replaces, If-None-Match: * creates
  DELETE /documents/{id}   delete
  POST   /query            {"query": "...", "parameters": [...], "partitionKey": "..."}
  GET    /metrics          Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.repository(session.Relay{})
			if err != nil {
				return err
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           newServer(repo, a.registry, a.log()),
				ReadHeaderTimeout: 10 * time.Second,
			}
			return listen(cmd.Context(), srv, a.log())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", envOr("DOCSTORE_ADDR", ":8080"), "Listen address")
	return cmd
}

func listen(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type server struct {
	repo   *store.Repository
	logger *slog.Logger
}

// newServer routes document operations to repo. Document routes relay session
// tokens through request and response headers.
func newServer(repo *store.Repository, reg *prometheus.Registry, logger *slog.Logger) http.Handler {
	s := &server{repo: repo, logger: logger}

	docs := http.NewServeMux()
	docs.HandleFunc("GET /documents/{id}", s.read)
	docs.HandleFunc("PUT /documents", s.put)
	docs.HandleFunc("DELETE /documents/{id}", s.delete)
	docs.HandleFunc("POST /query", s.query)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", session.RelayMiddleware(docs))
	return mux
}

func (s *server) read(w http.ResponseWriter, r *http.Request) {
	env, err := s.repo.Read(r.Context(), r.PathValue("id"), r.URL.Query().Get("partitionKey"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeDocument(w, http.StatusOK, env)
}

func (s *server) put(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: %v", store.ErrInvalidArgument, err))
		return
	}
	if !json.Valid(data) {
		s.fail(w, r, fmt.Errorf("%w: document is not valid JSON", store.ErrInvalidArgument))
		return
	}
	doc := store.Document(data)

	var (
		env    store.Envelope[store.Document]
		status = http.StatusOK
	)
	switch {
	case r.Header.Get("If-None-Match") == "*":
		env, err = s.repo.Create(r.Context(), doc)
		status = http.StatusCreated
	case r.Header.Get("If-Match") != "":
		var id string
		if id, err = store.DocumentID(doc); err == nil {
			env, err = s.repo.Replace(r.Context(), id, doc, r.Header.Get("If-Match"))
		}
	default:
		env, err = s.repo.Upsert(r.Context(), doc)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeDocument(w, status, env)
}

func (s *server) delete(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.repo.Delete(r.Context(), r.PathValue("id"), r.URL.Query().Get("partitionKey"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !deleted {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type queryRequest struct {
	Query        string `json:"query"`
	Parameters   []any  `json:"parameters"`
	PartitionKey string `json:"partitionKey"`
}

func (s *server) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, r, fmt.Errorf("%w: %v", store.ErrInvalidArgument, err))
		return
	}
	q := store.NewQuery(req.Query, req.Parameters...)
	if req.PartitionKey != "" {
		q = q.InPartition(req.PartitionKey)
	}

	docs, err := s.repo.Query(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if docs == nil {
		docs = []store.Document{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(docs); err != nil {
		s.logger.WarnContext(r.Context(), "write query response", "path", r.URL.Path, "error", err)
	}
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	http.Error(w, err.Error(), status)
}

func statusOf(err error) int {
	var f *store.Failure
	switch {
	case errors.Is(err, store.ErrMissingDocument):
		return http.StatusNotFound
	case errors.Is(err, store.ErrStaleData):
		return http.StatusPreconditionFailed
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.As(err, &f) && f.StatusCode == http.StatusBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeDocument(w http.ResponseWriter, status int, env store.Envelope[store.Document]) {
	w.Header().Set("Content-Type", "application/json")
	if env.ETag != "" {
		w.Header().Set("ETag", env.ETag)
	}
	w.WriteHeader(status)
	_, _ = w.Write(env.Document)
}
