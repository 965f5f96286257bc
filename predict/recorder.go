package predict

//go:generate mockgen -source=recorder.go -destination=../mocks/mock_recorder.go -package=mocks

import (
	"context"
	"time"

	"phishguard/schema"
)

// Record is one served prediction. Features packs the ordered {0,1} vector,
// first schema field in the lowest bit.
type Record struct {
	RequestID     string      `json:"request_id"`
	Mode          schema.Mode `json:"mode"`
	Prediction    int         `json:"prediction"`
	Probabilities []float64   `json:"probabilities"`
	Features      uint32      `json:"features"`
	CreatedAt     time.Time   `json:"created_at"`
}

type Recorder interface {
	Record(ctx context.Context, record Record) error
}

type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Record) error { return nil }
