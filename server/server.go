// Package server exposes the pricing engine over HTTP.
//
//	GET  /v1/prices?keys=a,b&currency=USD
//	POST /v1/prices   {"keys":["a","b"],"currency":"USD"}
//	GET  /healthz
//
// Price responses are a JSON array aligned with the requested keys. Keys the
// pricing service did not answer carry a NO_RESPONSE error record; only an
// invalid request is answered with 400.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dailyyoga/pricekit/logger"
	"github.com/dailyyoga/pricekit/pricing"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

// maxBodyBytes caps POST bodies
const maxBodyBytes = 1 << 20

// Engine is what the server needs from *pricing.Engine
type Engine interface {
	GetPrice(ctx context.Context, keys []string, partition string) ([]pricing.Record, error)
	Stats() pricing.Stats
}

type priceRequest struct {
	Keys     []string `json:"keys"`
	Currency string   `json:"currency"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status  string         `json:"status"`
	Pending int            `json:"pending"`
	Queued  map[string]int `json:"queued"`
}

// Server is the HTTP front of an Engine
type Server struct {
	logger logger.Logger
	cfg    Config
	engine Engine
	router *httprouter.Router
}

// New creates a server for engine
func New(log logger.Logger, cfg *Config, engine Engine) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		merged := *cfg
		cfg = merged.MergeDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if engine == nil {
		return nil, ErrNilEngine
	}
	if log == nil {
		log = logger.NewNop()
	}

	s := &Server{
		logger: log,
		cfg:    *cfg,
		engine: engine,
		router: httprouter.New(),
	}
	s.router.GET("/v1/prices", s.handleGetPrices)
	s.router.POST("/v1/prices", s.handlePostPrices)
	s.router.GET("/healthz", s.handleHealth)
	s.router.PanicHandler = s.handlePanic
	return s, nil
}

// Handler returns the request router
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is done, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) handleGetPrices(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	var keys []string
	if raw := q.Get("keys"); raw != "" {
		keys = strings.Split(raw, ",")
	}
	s.servePrices(w, r, keys, q.Get("currency"))
}

func (s *Server) handlePostPrices(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req priceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}
	s.servePrices(w, r, req.Keys, req.Currency)
}

func (s *Server) servePrices(w http.ResponseWriter, r *http.Request, keys []string, currency string) {
	if len(keys) > s.cfg.MaxKeys {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: ErrTooManyKeys(len(keys), s.cfg.MaxKeys).Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	records, err := s.engine.GetPrice(ctx, keys, pricing.NormalizePartition(currency))
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, records)
	case errors.Is(err, pricing.ErrInvalidRequest):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		s.writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "timed out waiting for prices"})
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		s.logger.Error("price lookup failed", zap.Strings("keys", keys), zap.Error(err))
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	stats := s.engine.Stats()
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Pending: stats.Pending,
		Queued:  stats.Queued,
	})
}

func (s *Server) handlePanic(w http.ResponseWriter, r *http.Request, rec interface{}) {
	s.logger.Error("http handler panicked", zap.String("path", r.URL.Path), zap.Any("panic", rec))
	s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}
