package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"phishguard/db"
	"phishguard/ml"
	"phishguard/mocks"
	"phishguard/monitoring"
	"phishguard/predict"
	"phishguard/schema"
)

type models map[schema.Mode]ml.Classifier

func (m models) Model(mode schema.Mode) (ml.Classifier, bool) {
	c, ok := m[mode]
	return c, ok
}

type predictResponse struct {
	Mode          string    `json:"mode"`
	Prediction    int       `json:"prediction"`
	Probabilities []float64 `json:"probabilities"`
	Detail        string    `json:"detail"`
}

func loadStore(t *testing.T) *ml.Store {
	t.Helper()
	store, err := ml.LoadStore(map[schema.Mode]ml.ModelSpec{
		schema.WebOut: {Path: filepath.Join("..", "ml", "testdata", "webout_forest.json")},
		schema.WebIn:  {Path: filepath.Join("..", "ml", "testdata", "webin_forest.json")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newRouter(t *testing.T, source predict.ModelSource, metrics *monitoring.MetricsCollector, journal Journal) http.Handler {
	t.Helper()
	opts := []predict.Option{predict.WithCacheSize(16)}
	if metrics != nil {
		opts = append(opts, predict.WithObserver(metrics))
	}
	if journal != nil {
		if recorder, ok := journal.(predict.Recorder); ok {
			opts = append(opts, predict.WithRecorder(recorder))
		}
	}
	svc, err := predict.NewService(source, opts...)
	require.NoError(t, err)

	config := DefaultServerConfig()
	config.MaxBodyBytes = 4 << 10
	return NewRouter(config, NewHandler(svc, metrics, journal, nil), nil)
}

// body renders fields as a JSON object in the given order.
func body(fields []string, value string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fmt.Sprintf("%q:%s", f, value)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func without(fields []string, drop string) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != drop {
			out = append(out, f)
		}
	}
	return out
}

func post(t *testing.T, handler http.Handler, target, payload string) (*httptest.ResponseRecorder, predictResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var resp predictResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

func TestHealthHandler(t *testing.T) {
	handler := newRouter(t, loadStore(t), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, `{"status":"ok","models":["webOut","webIn"]}`+"\n", w.Body.String())
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))
	require.NotEmpty(t, w.Header().Get(RequestIDHeader))
	require.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestUnknownPathIsNotFound(t *testing.T) {
	handler := newRouter(t, loadStore(t), nil, nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPredictHandler(t *testing.T) {
	handler := newRouter(t, loadStore(t), nil, nil)
	webOut := schema.FieldsFor(schema.WebOut)
	webIn := schema.FieldsFor(schema.WebIn)

	t.Run("should classify a complete webOut payload", func(t *testing.T) {
		req := require.New(t)
		w, resp := post(t, handler, "/predict?mode=webOut", body(webOut, "1"))

		req.Equal(http.StatusOK, w.Code)
		req.Equal("webOut", resp.Mode)
		req.Equal(1, resp.Prediction)
		req.Len(resp.Probabilities, 2)
		req.InDelta(1.0, resp.Probabilities[0]+resp.Probabilities[1], 1e-9)
		for _, p := range resp.Probabilities {
			req.GreaterOrEqual(p, 0.0)
			req.LessOrEqual(p, 1.0)
		}
	})

	t.Run("should classify a complete webIn payload", func(t *testing.T) {
		req := require.New(t)
		w, resp := post(t, handler, "/predict?mode=webIn", body(webIn, "1"))

		req.Equal(http.StatusOK, w.Code)
		req.Equal("webIn", resp.Mode)
		req.Equal(0, resp.Prediction)
		req.InDelta(2.15/4, resp.Probabilities[0], 1e-9)
	})

	t.Run("should ignore key order", func(t *testing.T) {
		req := require.New(t)
		reversed := make([]string, len(webOut))
		for i, f := range webOut {
			reversed[len(webOut)-1-i] = f
		}
		ordered := strings.Replace(body(webOut, "0"), `"SSLfinal_State":0`, `"SSLfinal_State":1`, 1)
		shuffled := strings.Replace(body(reversed, "0"), `"SSLfinal_State":0`, `"SSLfinal_State":1`, 1)

		w1, first := post(t, handler, "/predict?mode=webOut", ordered)
		w2, second := post(t, handler, "/predict?mode=webOut", shuffled)

		req.Equal(http.StatusOK, w1.Code)
		req.Equal(http.StatusOK, w2.Code)
		req.Equal(first, second)
		req.Equal(0, first.Prediction)
		req.InDelta(0.7, first.Probabilities[0], 1e-9)
	})

	t.Run("should accept webIn extras in webOut mode", func(t *testing.T) {
		w, resp := post(t, handler, "/predict?mode=webOut", body(webIn, "1"))
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "webOut", resp.Mode)
	})

	t.Run("should accept booleans and numeric strings", func(t *testing.T) {
		payload := strings.Replace(body(webOut, "true"), `"URL_Length":true`, `"URL_Length":"1"`, 1)
		w, resp := post(t, handler, "/predict?mode=webOut", payload)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, 1, resp.Prediction)
	})

	t.Run("should name the missing field", func(t *testing.T) {
		req := require.New(t)
		w, resp := post(t, handler, "/predict?mode=webOut", body(without(webOut, "URL_Length"), "1"))

		req.Equal(http.StatusUnprocessableEntity, w.Code)
		req.Contains(resp.Detail, "URL_Length")
	})

	t.Run("should reject a webOut payload in webIn mode", func(t *testing.T) {
		w, resp := post(t, handler, "/predict?mode=webIn", body(webOut, "1"))
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		require.Contains(t, resp.Detail, "Request_URL")
	})

	t.Run("should reject values outside 0 and 1", func(t *testing.T) {
		for _, value := range []string{"2", "-1", "0.5", `"yes"`, "null", "[1]"} {
			payload := strings.Replace(body(webOut, "1"), `"Favicon":1`, `"Favicon":`+value, 1)
			w, resp := post(t, handler, "/predict?mode=webOut", payload)
			require.Equal(t, http.StatusUnprocessableEntity, w.Code, value)
			require.Contains(t, resp.Detail, "Favicon", value)
		}
	})

	t.Run("should reject a missing or unknown mode", func(t *testing.T) {
		for _, target := range []string{"/predict", "/predict?mode=", "/predict?mode=WEBOUT", "/predict?mode=email"} {
			w, resp := post(t, handler, target, body(webIn, "1"))
			require.Equal(t, http.StatusUnprocessableEntity, w.Code, target)
			require.Contains(t, resp.Detail, "mode", target)
		}
	})

	t.Run("should reject the mode before reading the body", func(t *testing.T) {
		w, resp := post(t, handler, "/predict?mode=bogus", "{not json")
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		require.Contains(t, resp.Detail, `invalid mode "bogus"`)
	})

	t.Run("should reject a body that is not a JSON object", func(t *testing.T) {
		complete := body(webOut, "1")
		for _, payload := range []string{"", "[1,0]", "42", `"x"`, "{", complete + " not json at all", complete + "{}", complete + "[1]"} {
			w, resp := post(t, handler, "/predict?mode=webOut", payload)
			require.Equal(t, http.StatusUnprocessableEntity, w.Code, payload)
			require.NotEmpty(t, resp.Detail)
		}
	})

	t.Run("should accept trailing whitespace", func(t *testing.T) {
		w, _ := post(t, handler, "/predict?mode=webOut", body(webOut, "1")+"\n\t ")
		require.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("should reject an oversized body", func(t *testing.T) {
		padding := strings.Repeat(" ", 8<<10)
		w, _ := post(t, handler, "/predict?mode=webOut", padding+body(webOut, "1"))
		require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestPredictHandlerInferenceFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	classifier := mocks.NewMockClassifier(ctrl)
	classifier.EXPECT().Predict(gomock.Any()).Return(0, nil, errors.New("tensor shape mismatch"))

	handler := newRouter(t, models{schema.WebOut: classifier}, nil, nil)
	w, resp := post(t, handler, "/predict?mode=webOut", body(schema.FieldsFor(schema.WebOut), "0"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.True(t, strings.HasPrefix(resp.Detail, "prediction error: "), resp.Detail)
	require.Contains(t, resp.Detail, "tensor shape mismatch")
}

func TestPredictHandlerRecoversFromPanic(t *testing.T) {
	ctrl := gomock.NewController(t)
	classifier := mocks.NewMockClassifier(ctrl)
	classifier.EXPECT().Predict(gomock.Any()).DoAndReturn(func([]float64) (int, []float64, error) {
		panic("index out of range")
	})

	handler := newRouter(t, models{schema.WebOut: classifier}, nil, nil)
	w, resp := post(t, handler, "/predict?mode=webOut", body(schema.FieldsFor(schema.WebOut), "0"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.True(t, strings.HasPrefix(resp.Detail, "prediction error: "), resp.Detail)
}

func TestSchemaHandler(t *testing.T) {
	handler := newRouter(t, loadStore(t), nil, nil)

	t.Run("should list the ordered fields", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/schema/webIn", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Mode   string   `json:"mode"`
			Fields []string `json:"fields"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, "webIn", resp.Mode)
		require.Equal(t, schema.FieldsFor(schema.WebIn), resp.Fields)
	})

	t.Run("should reject an unknown mode", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/schema/email", nil))
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestMetricsHandler(t *testing.T) {
	req := require.New(t)
	metrics := monitoring.NewMetricsCollector()
	handler := newRouter(t, loadStore(t), metrics, nil)
	webOut := schema.FieldsFor(schema.WebOut)

	post(t, handler, "/predict?mode=webOut", body(webOut, "1"))
	post(t, handler, "/predict?mode=webOut", body(webOut, "1"))
	post(t, handler, "/predict?mode=webOut", body(without(webOut, "port"), "1"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	req.Equal(http.StatusOK, w.Code)

	var snap monitoring.Snapshot
	req.NoError(json.Unmarshal(w.Body.Bytes(), &snap))
	req.Contains(snap.Latencies, "webOut")
	req.Equal(2, snap.Latencies["webOut"].Count)

	req.Equal(2.0, metrics.Counter(monitoring.MetricPredictions, map[string]string{"mode": "webOut", "label": "1"}))
	req.Equal(1.0, metrics.Counter(monitoring.MetricCacheHits, map[string]string{"mode": "webOut"}))
	req.Equal(1.0, metrics.Counter(monitoring.MetricValidationErrors, map[string]string{"kind": "MissingField"}))

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics?format=prometheus", nil))
	req.Equal(http.StatusOK, w.Code)
	req.Contains(w.Body.String(), `predictions_total{label="1",mode="webOut"} 2`)
}

func TestPredictionsHandler(t *testing.T) {
	t.Run("should answer 404 without a journal", func(t *testing.T) {
		handler := newRouter(t, loadStore(t), nil, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/predictions", nil))
		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("should list journaled predictions newest first", func(t *testing.T) {
		req := require.New(t)
		journal, err := db.Open(filepath.Join(t.TempDir(), "predictions.db"))
		req.NoError(err)
		t.Cleanup(func() { journal.Close() })

		handler := newRouter(t, loadStore(t), nil, journal)
		post(t, handler, "/predict?mode=webOut", body(schema.FieldsFor(schema.WebOut), "1"))
		post(t, handler, "/predict?mode=webIn", body(schema.FieldsFor(schema.WebIn), "1"))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/predictions?limit=1", nil))
		req.Equal(http.StatusOK, w.Code)

		var resp struct {
			Data []predict.Record `json:"data"`
		}
		req.NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		req.Len(resp.Data, 1)
		req.Equal(schema.WebIn, resp.Data[0].Mode)
		req.Equal(uint32(1<<25-1), resp.Data[0].Features)
		req.NotEmpty(resp.Data[0].RequestID)
	})

	t.Run("should reject a bad limit", func(t *testing.T) {
		journal, err := db.Open(filepath.Join(t.TempDir(), "predictions.db"))
		require.NoError(t, err)
		t.Cleanup(func() { journal.Close() })

		handler := newRouter(t, loadStore(t), nil, journal)
		for _, limit := range []string{"0", "-3", "ten"} {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/predictions?limit="+limit, nil))
			require.Equal(t, http.StatusUnprocessableEntity, w.Code, limit)
		}
	})
}

type slowPredictor struct{}

func (slowPredictor) Predict(ctx context.Context, _ predict.Request) (*predict.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestPredictHandlerTimeout(t *testing.T) {
	config := DefaultServerConfig()
	config.Timeout = 20 * time.Millisecond
	handler := NewRouter(config, NewHandler(slowPredictor{}, nil, nil, nil), nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/predict?mode=webOut", strings.NewReader("{}")))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.JSONEq(t, `{"detail":"request timeout"}`, w.Body.String())
}
