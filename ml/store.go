package ml

import (
	"errors"
	"fmt"

	"phishguard/apperr"
	"phishguard/schema"
)

// Store holds one classifier per mode. It is read-only after construction and
// safe to share between request goroutines.
type Store struct {
	models map[schema.Mode]Classifier
}

// LoadStore loads every mode's artifact. Any failure is a StartupLoadError and
// releases whatever was already loaded.
func LoadStore(specs map[schema.Mode]ModelSpec) (*Store, error) {
	models := make(map[schema.Mode]Classifier, len(specs))
	for _, mode := range schema.Modes() {
		spec, ok := specs[mode]
		if !ok {
			closeAll(models)
			return nil, apperr.StartupLoad(fmt.Sprintf("no model configured for %s", mode), nil)
		}
		if spec.NumFeatures == 0 {
			spec.NumFeatures = schema.Width(mode)
		}
		model, err := LoadModel(spec)
		if err != nil {
			closeAll(models)
			return nil, apperr.StartupLoad(fmt.Sprintf("load %s model from %s", mode, spec.Path), err)
		}
		models[mode] = model
	}
	store, err := NewStore(models)
	if err != nil {
		closeAll(models)
		return nil, err
	}
	return store, nil
}

// NewStore checks that every mode has a classifier whose input width (and
// declared column names, when present) match the mode's schema.
func NewStore(models map[schema.Mode]Classifier) (*Store, error) {
	owned := make(map[schema.Mode]Classifier, len(models))
	for _, mode := range schema.Modes() {
		model, ok := models[mode]
		if !ok || model == nil {
			return nil, apperr.StartupLoad(fmt.Sprintf("no model loaded for %s", mode), nil)
		}
		if err := checkColumns(mode, model); err != nil {
			return nil, apperr.StartupLoad(fmt.Sprintf("%s model does not match schema", mode), err)
		}
		owned[mode] = model
	}
	return &Store{models: owned}, nil
}

func (s *Store) Model(mode schema.Mode) (Classifier, bool) {
	model, ok := s.models[mode]
	return model, ok
}

func (s *Store) Close() error {
	var errs []error
	for _, mode := range schema.Modes() {
		if c, ok := s.models[mode].(Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

func checkColumns(mode schema.Mode, model Classifier) error {
	fields := schema.FieldsFor(mode)
	if model.NumFeatures() != len(fields) {
		return fmt.Errorf("model expects %d features, schema has %d", model.NumFeatures(), len(fields))
	}
	if len(model.Classes()) == 0 {
		return errors.New("model has no classes")
	}
	rf, ok := model.(*RandomForest)
	if !ok || len(rf.FeatureNames) == 0 {
		return nil
	}
	for i, name := range rf.FeatureNames {
		if name != fields[i] {
			return fmt.Errorf("column %d is %q, schema expects %q", i, name, fields[i])
		}
	}
	return nil
}

func closeAll(models map[schema.Mode]Classifier) {
	for _, model := range models {
		if c, ok := model.(Closer); ok {
			_ = c.Close()
		}
	}
}
