package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"orderflow/internal/jsoncodec"
	"orderflow/internal/logging"
	"orderflow/internal/model"
	"orderflow/internal/pipeline"
	"orderflow/internal/store"
)

type BatchSubmitter interface {
	SubmitBatch(ctx context.Context, count int) <-chan pipeline.BatchResult
}

type OrderStore interface {
	Upsert(ctx context.Context, rec model.PersistedOrder) error
	Get(ctx context.Context, orderID string) (model.PersistedOrder, error)
}

type Server struct {
	batches BatchSubmitter
	store   OrderStore
	metrics http.Handler
	logger  *zap.Logger
}

// New wires the HTTP surface. metrics may be nil.
func New(batches BatchSubmitter, s OrderStore, metrics http.Handler, l *zap.Logger) *Server {
	return &Server{
		batches: batches,
		store:   s,
		metrics: metrics,
		logger:  logging.OrNop(l).With(zap.String("component", "http")),
	}
}

func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Post("/orders/batch", s.submitBatch)
	r.Get("/orders/{id}", s.getOrder)
	r.Get("/test-save", s.testSave)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	return r
}

type batchDetail struct {
	pipeline.BatchResult
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

func writeText(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(msg))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = jsoncodec.Encode(w, v)
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	count, err := strconv.Atoi(r.URL.Query().Get("count"))
	if err != nil || count < 0 {
		writeText(w, http.StatusBadRequest, "count must be a non-negative integer")
		return
	}
	detail, _ := strconv.ParseBool(r.URL.Query().Get("detail"))

	var res pipeline.BatchResult
	select {
	case res = <-s.batches.SubmitBatch(r.Context(), count):
	case <-r.Context().Done():
		// the batch keeps running; only the caller went away
		s.logger.Warn("client left before batch completed", zap.Int("count", count))
		return
	}

	code := http.StatusOK
	switch {
	case errors.Is(res.Err, pipeline.ErrBatchTooLarge), errors.Is(res.Err, pipeline.ErrNegativeCount):
		writeText(w, http.StatusBadRequest, res.Err.Error())
		return
	case res.Err != nil:
		code = http.StatusInternalServerError
		s.logger.Error("batch failed", zap.Int("count", count), zap.Error(res.Err))
	}
	if !detail {
		writeText(w, code, res.Ack())
		return
	}
	d := batchDetail{BatchResult: res, Message: res.Ack()}
	if res.Err != nil {
		d.Error = res.Err.Error()
	}
	writeJSON(w, code, d)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rec, err := s.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		return
	}
	if err != nil {
		s.logger.Error("order lookup failed", zap.String("order_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) testSave(w http.ResponseWriter, r *http.Request) {
	rec, err := store.SmokeSave(r.Context(), s.store)
	if err != nil {
		s.logger.Error("test save failed", zap.Error(err))
		writeText(w, http.StatusInternalServerError, fmt.Sprintf("test save failed: %v", err))
		return
	}
	s.logger.Info("test save succeeded", zap.String("order_id", rec.OrderID))
	writeText(w, http.StatusOK, fmt.Sprintf("test save succeeded: %s", rec))
}
