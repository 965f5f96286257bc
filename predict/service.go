// Package predict turns a raw feature payload into a phishing verdict.
package predict

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"phishguard/apperr"
	"phishguard/ml"
	"phishguard/schema"
)

type Request struct {
	ID       string
	Mode     string
	Features map[string]interface{}
}

type Result struct {
	Mode          schema.Mode `json:"mode"`
	Prediction    int         `json:"prediction"`
	Probabilities []float64   `json:"probabilities"`
}

// ModelSource is satisfied by *ml.Store.
type ModelSource interface {
	Model(mode schema.Mode) (ml.Classifier, bool)
}

// Observer receives per-request outcomes; *monitoring.MetricsCollector implements it.
type Observer interface {
	ObservePrediction(mode string, label int, latency time.Duration, cached bool)
	ObserveFailure(mode string, kind apperr.Kind)
}

type cacheKey struct {
	mode schema.Mode
	mask uint32
}

type Service struct {
	models   ModelSource
	cache    *lru.Cache[cacheKey, Result]
	recorder Recorder
	observer Observer
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Service)

// WithCacheSize memoizes up to size results; 0 disables memoization.
func WithCacheSize(size int) Option {
	return func(s *Service) {
		if size <= 0 {
			s.cache = nil
			return
		}
		cache, err := lru.New[cacheKey, Result](size)
		if err == nil {
			s.cache = cache
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.observer = o
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(models ModelSource, opts ...Option) (*Service, error) {
	if models == nil {
		return nil, errors.New("model source is required")
	}
	s := &Service{
		models:   models,
		recorder: NopRecorder{},
		observer: nopObserver{},
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Predict validates the payload for the requested mode, runs the mode's model
// and journals the outcome. Errors are *apperr.Error values.
func (s *Service) Predict(ctx context.Context, req Request) (*Result, error) {
	start := s.now()

	mode, err := schema.ParseMode(req.Mode)
	if err != nil {
		return nil, s.fail(req, err)
	}
	vector, err := schema.Vectorize(mode, req.Features)
	if err != nil {
		return nil, s.fail(req, err)
	}

	key := cacheKey{mode: mode, mask: schema.Bitmask(vector)}
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			result := cloneResult(cached)
			s.observer.ObservePrediction(string(mode), result.Prediction, s.now().Sub(start), true)
			s.record(ctx, req.ID, result, key.mask)
			return &result, nil
		}
	}

	model, ok := s.models.Model(mode)
	if !ok {
		return nil, s.fail(req, apperr.Inference(fmt.Errorf("no model loaded for %s", mode)))
	}
	label, proba, err := invoke(model, vector)
	if err != nil {
		return nil, s.fail(req, apperr.Inference(err))
	}

	result := Result{Mode: mode, Prediction: label, Probabilities: proba}
	if s.cache != nil {
		s.cache.Add(key, cloneResult(result))
	}
	s.observer.ObservePrediction(string(mode), label, s.now().Sub(start), false)
	s.record(ctx, req.ID, result, key.mask)
	return &result, nil
}

// invoke shields the caller from a panicking model and checks the output shape.
func invoke(model ml.Classifier, vector []float64) (label int, proba []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model panicked: %v", r)
		}
	}()
	label, proba, err = model.Predict(vector)
	if err != nil {
		return 0, nil, err
	}
	if len(proba) == 0 {
		return 0, nil, errors.New("model returned no probabilities")
	}
	classes := model.Classes()
	for _, c := range classes {
		if c == label {
			return label, proba, nil
		}
	}
	return 0, nil, fmt.Errorf("model returned unknown class %d", label)
}

func (s *Service) fail(req Request, err error) error {
	kind := apperr.KindOf(err)
	s.observer.ObserveFailure(req.Mode, kind)
	if kind == apperr.KindInferenceError {
		s.logger.Error("inference failed", zap.String("request_id", req.ID), zap.String("mode", req.Mode), zap.Error(err))
	} else {
		s.logger.Debug("rejected payload", zap.String("request_id", req.ID), zap.String("kind", kind.String()), zap.Error(err))
	}
	return err
}

func (s *Service) record(ctx context.Context, requestID string, result Result, mask uint32) {
	err := s.recorder.Record(ctx, Record{
		RequestID:     requestID,
		Mode:          result.Mode,
		Prediction:    result.Prediction,
		Probabilities: result.Probabilities,
		Features:      mask,
		CreatedAt:     s.now(),
	})
	if err != nil {
		s.logger.Warn("failed to journal prediction", zap.String("request_id", requestID), zap.Error(err))
	}
}

func cloneResult(r Result) Result {
	r.Probabilities = append([]float64(nil), r.Probabilities...)
	return r
}

type nopObserver struct{}

func (nopObserver) ObservePrediction(string, int, time.Duration, bool) {}
func (nopObserver) ObserveFailure(string, apperr.Kind)                 {}
