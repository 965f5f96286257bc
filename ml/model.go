package ml

//go:generate mockgen -source=model.go -destination=../mocks/mock_classifier.go -package=mocks

// Classifier is a trained model treated as a pure function from an ordered
// feature vector to a class label and per-class probabilities.
type Classifier interface {
	Predict(features []float64) (int, []float64, error)
	Classes() []int
	NumFeatures() int
}

// Closer is implemented by classifiers holding native resources.
type Closer interface {
	Close() error
}
