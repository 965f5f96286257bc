package ml

import (
	"fmt"
	"os"
)

const (
	ModelTypeForest = "forest"
	ModelTypeOnnx   = "onnx"
)

// ModelSpec locates one persisted classifier. The onnx fields are ignored for forests.
type ModelSpec struct {
	Type              string
	Path              string
	NumFeatures       int
	Classes           []int
	InputName         string
	LabelOutput       string
	ProbabilityOutput string
	RuntimeLibrary    string
}

func LoadModel(spec ModelSpec) (Classifier, error) {
	if _, err := os.Stat(spec.Path); err != nil {
		return nil, err
	}
	switch spec.Type {
	case ModelTypeForest, "":
		model := &RandomForest{}
		if err := model.Load(spec.Path); err != nil {
			return nil, err
		}
		return model, nil
	case ModelTypeOnnx:
		return NewOnnxClassifier(spec)
	default:
		return nil, fmt.Errorf("unsupported model type %q", spec.Type)
	}
}
