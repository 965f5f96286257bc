package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"phishguard/apperr"
	"phishguard/monitoring"
	"phishguard/predict"
	"phishguard/schema"
)

// Predictor is satisfied by *predict.Service.
type Predictor interface {
	Predict(ctx context.Context, req predict.Request) (*predict.Result, error)
}

// Journal is satisfied by *db.PredictionLog.
type Journal interface {
	Recent(ctx context.Context, limit int) ([]predict.Record, error)
}

type healthResponse struct {
	Status string   `json:"status"`
	Models []string `json:"models"`
}

type Handler struct {
	predictor Predictor
	metrics   *monitoring.MetricsCollector
	journal   Journal
	logger    *zap.Logger
}

// NewHandler wires the API. metrics and journal may be nil; their endpoints
// then answer 404.
func NewHandler(predictor Predictor, metrics *monitoring.MetricsCollector, journal Journal, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{predictor: predictor, metrics: metrics, journal: journal, logger: logger}
}

func RegisterHandlers(mux *http.ServeMux, h *Handler) {
	mux.HandleFunc("GET /{$}", h.handleHealth)
	mux.HandleFunc("POST /predict", h.handlePredict)
	mux.HandleFunc("GET /schema/{mode}", h.handleSchema)
	mux.HandleFunc("GET /metrics", h.handleMetrics)
	mux.HandleFunc("GET /predictions", h.handlePredictions)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Models: lo.Map(schema.Modes(), func(m schema.Mode, _ int) string { return string(m) }),
	})
}

func (h *Handler) handlePredict(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if _, err := schema.ParseMode(mode); err != nil {
		if h.metrics != nil {
			h.metrics.ObserveFailure(mode, apperr.KindOf(err))
		}
		h.respondPredictError(w, r, err)
		return
	}

	features, err := decodeFeatures(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	result, err := h.predictor.Predict(r.Context(), predict.Request{
		ID:       GetRequestID(r.Context()),
		Mode:     mode,
		Features: features,
	})
	if err != nil {
		h.respondPredictError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) handleSchema(w http.ResponseWriter, r *http.Request) {
	mode, err := schema.ParseMode(r.PathValue("mode"))
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"mode":   mode,
		"fields": schema.FieldsFor(mode),
	})
}

// handleMetrics answers the JSON snapshot, or the text exposition format with ?format=prometheus.
func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		respondError(w, http.StatusNotFound, "metrics are disabled")
		return
	}
	if r.URL.Query().Get("format") == "prometheus" {
		h.metrics.Handler().ServeHTTP(w, r)
		return
	}
	respondJSON(w, http.StatusOK, h.metrics.Snapshot())
}

func (h *Handler) handlePredictions(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		respondError(w, http.StatusNotFound, "prediction journal is disabled")
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			respondError(w, http.StatusUnprocessableEntity, "limit must be a positive integer")
			return
		}
		limit = l
	}

	records, err := h.journal.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to read prediction journal", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to read prediction journal")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"data": records,
	})
}

func (h *Handler) respondPredictError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	switch {
	case kind.IsClientError():
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case kind == apperr.KindInferenceError:
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		h.logger.Error("unexpected prediction failure",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeFeatures accepts exactly one JSON object and nothing after it but
// whitespace. Numbers stay json.Number so 1.5 is not silently truncated before
// validation.
func decodeFeatures(body io.Reader) (map[string]interface{}, error) {
	decoder := json.NewDecoder(body)
	decoder.UseNumber()

	var payload interface{}
	if err := decoder.Decode(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		if errors.Is(err, io.EOF) {
			return nil, errors.New("request body must be a JSON object")
		}
		return nil, errors.New("request body is not valid JSON")
	}
	features, ok := payload.(map[string]interface{})
	if !ok {
		return nil, errors.New("request body must be a JSON object")
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, errors.New("request body is not valid JSON")
	}
	return features, nil
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, map[string]string{"detail": detail})
}
