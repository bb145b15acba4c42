package target

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Options tune the reference service.
type Options struct {
	// Latency is added before every create is handled.
	Latency time.Duration

	// ForceStatus, when non-zero, answers every create with this status
	// instead of running it.
	ForceStatus int

	Logger *zap.SugaredLogger
}

// Stats are the service's own counters.
type Stats struct {
	Created     int64
	Conflicts   int64
	BadRequests int64
	Forced      int64
	MaxInFlight int64
}

// Service serves /pullRequest/create, /ping and /healthcheck.
type Service struct {
	store *Store
	opts  Options
	log   *zap.SugaredLogger

	created     atomic.Int64
	conflicts   atomic.Int64
	badRequests atomic.Int64
	forced      atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

// NewService returns a service over store.
func NewService(store *Store, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{store: store, opts: opts, log: log}
}

// Handler returns the service's router.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/ping", ping)
	r.Head("/healthcheck", healthcheck)
	r.Post("/pullRequest/create", s.create)

	return r
}

// Stats returns a copy of the counters.
func (s *Service) Stats() Stats {
	return Stats{
		Created:     s.created.Load(),
		Conflicts:   s.conflicts.Load(),
		BadRequests: s.badRequests.Load(),
		Forced:      s.forced.Load(),
		MaxInFlight: s.maxInFlight.Load(),
	}
}

type createRequest struct {
	PullRequestID   string `json:"pull_request_id"`
	PullRequestName string `json:"pull_request_name"`
	AuthorID        string `json:"author_id"`
}

type prResponse struct {
	PR *PullRequest `json:"pr"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Service) create(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.maxInFlight.Load()
		if n <= peak || s.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	if s.opts.Latency > 0 {
		select {
		case <-time.After(s.opts.Latency):
		case <-r.Context().Done():
			return
		}
	}

	if s.opts.ForceStatus != 0 {
		s.forced.Add(1)
		writeError(w, s.opts.ForceStatus, ErrorCodeInternal, http.StatusText(s.opts.ForceStatus))
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequests.Add(1)
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "invalid request body")
		return
	}
	if req.PullRequestID == "" || req.PullRequestName == "" || req.AuthorID == "" {
		s.badRequests.Add(1)
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "pull_request_id, pull_request_name and author_id are required")
		return
	}

	created, err := s.store.Create(r.Context(), PullRequest{
		ID:       req.PullRequestID,
		Name:     req.PullRequestName,
		AuthorID: req.AuthorID,
	})
	if err != nil {
		var de DomainError
		if errors.As(err, &de) && de.Code == ErrorCodePRExists {
			s.conflicts.Add(1)
			writeError(w, http.StatusConflict, de.Code, de.Message)
			return
		}
		s.log.Errorw("create pull request", "pull_request_id", req.PullRequestID, "error", err)
		writeError(w, http.StatusInternalServerError, ErrorCodeInternal, "internal server error")
		return
	}

	s.created.Add(1)
	writeJSON(w, http.StatusCreated, prResponse{PR: created})
}

func (s *Service) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debugw("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func ping(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("pong"))
}

func healthcheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, errorResponse{Error: errorPayload{Code: string(code), Message: message}})
}

// ListenAndServe serves the service on addr until ctx is done, then shuts
// down gracefully.
func ListenAndServe(ctx context.Context, addr string, svc *Service) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		svc.log.Infow("reference service listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
