package ml

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	DefaultOnnxInput             = "float_input"
	DefaultOnnxLabelOutput       = "label"
	DefaultOnnxProbabilityOutput = "probabilities"
)

// The ONNX Runtime environment is process wide; sessions share it by reference count.
var runtimeEnv struct {
	sync.Mutex
	refs int
}

func acquireRuntime(library string) error {
	runtimeEnv.Lock()
	defer runtimeEnv.Unlock()
	if !ort.IsInitialized() {
		if library != "" {
			ort.SetSharedLibraryPath(library)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}
	runtimeEnv.refs++
	return nil
}

func releaseRuntime() error {
	runtimeEnv.Lock()
	defer runtimeEnv.Unlock()
	runtimeEnv.refs--
	if runtimeEnv.refs > 0 || !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// OnnxClassifier runs a classifier exported with skl2onnx (zipmap disabled):
// one float32 [1,F] input, an int64 label output and a float32 [1,C]
// probability output.
type OnnxClassifier struct {
	session   *ort.DynamicAdvancedSession
	classes   []int
	nFeatures int
	closeOnce sync.Once
	closeErr  error
}

func NewOnnxClassifier(spec ModelSpec) (*OnnxClassifier, error) {
	if spec.NumFeatures <= 0 {
		return nil, errors.New("onnx model requires a feature count")
	}
	classes := spec.Classes
	if len(classes) == 0 {
		classes = []int{0, 1}
	}
	input := orDefault(spec.InputName, DefaultOnnxInput)
	labelOut := orDefault(spec.LabelOutput, DefaultOnnxLabelOutput)
	probaOut := orDefault(spec.ProbabilityOutput, DefaultOnnxProbabilityOutput)

	if err := acquireRuntime(spec.RuntimeLibrary); err != nil {
		return nil, err
	}
	session, err := ort.NewDynamicAdvancedSession(spec.Path, []string{input}, []string{labelOut, probaOut}, nil)
	if err != nil {
		_ = releaseRuntime()
		return nil, fmt.Errorf("open onnx session %s: %w", spec.Path, err)
	}
	return &OnnxClassifier{
		session:   session,
		classes:   append([]int(nil), classes...),
		nFeatures: spec.NumFeatures,
	}, nil
}

func (o *OnnxClassifier) Classes() []int {
	return append([]int(nil), o.classes...)
}

func (o *OnnxClassifier) NumFeatures() int {
	return o.nFeatures
}

func (o *OnnxClassifier) Predict(features []float64) (int, []float64, error) {
	if len(features) != o.nFeatures {
		return 0, nil, fmt.Errorf("expected %d features, got %d", o.nFeatures, len(features))
	}
	data := make([]float32, len(features))
	for i, f := range features {
		data[i] = float32(f)
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(len(data))), data)
	if err != nil {
		return 0, nil, fmt.Errorf("input tensor: %w", err)
	}
	defer input.Destroy()
	label, err := ort.NewEmptyTensor[int64](ort.NewShape(1))
	if err != nil {
		return 0, nil, fmt.Errorf("label tensor: %w", err)
	}
	defer label.Destroy()
	proba, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(o.classes))))
	if err != nil {
		return 0, nil, fmt.Errorf("probability tensor: %w", err)
	}
	defer proba.Destroy()

	if err := o.session.Run([]ort.Value{input}, []ort.Value{label, proba}); err != nil {
		return 0, nil, err
	}

	raw := proba.GetData()
	out := make([]float64, len(raw))
	for i, p := range raw {
		out[i] = float64(p)
	}
	return int(label.GetData()[0]), out, nil
}

func (o *OnnxClassifier) Close() error {
	o.closeOnce.Do(func() {
		o.closeErr = errors.Join(o.session.Destroy(), releaseRuntime())
	})
	return o.closeErr
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
