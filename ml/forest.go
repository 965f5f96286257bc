package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// RandomForest is the JSON export of a trained random forest. Probabilities are
// the mean of the per-tree leaf class fractions.
type RandomForest struct {
	ClassLabels  []int          `json:"classes"`
	NFeatures    int            `json:"n_features"`
	FeatureNames []string       `json:"feature_names,omitempty"`
	Trees        []DecisionTree `json:"trees"`
}

type DecisionTree struct {
	Nodes []TreeNode `json:"nodes"`
}

// TreeNode is one entry of a pre-order flattened tree. Value holds the class
// counts (or fractions) of a leaf, in ClassLabels order.
type TreeNode struct {
	FeatureIdx int       `json:"feature_idx"`
	Threshold  float64   `json:"threshold"`
	LeftChild  int       `json:"left_child"`
	RightChild int       `json:"right_child"`
	IsLeaf     bool      `json:"is_leaf"`
	Value      []float64 `json:"value,omitempty"`
}

func (rf *RandomForest) Classes() []int {
	out := make([]int, len(rf.ClassLabels))
	copy(out, rf.ClassLabels)
	return out
}

func (rf *RandomForest) NumFeatures() int {
	return rf.NFeatures
}

func (rf *RandomForest) Predict(features []float64) (int, []float64, error) {
	if len(rf.Trees) == 0 || len(rf.ClassLabels) == 0 {
		return 0, nil, errors.New("model not trained")
	}
	if len(features) != rf.NFeatures {
		return 0, nil, fmt.Errorf("expected %d features, got %d", rf.NFeatures, len(features))
	}

	proba := make([]float64, len(rf.ClassLabels))
	for i := range rf.Trees {
		leaf, err := rf.Trees[i].leaf(features)
		if err != nil {
			return 0, nil, fmt.Errorf("tree %d: %w", i, err)
		}
		if len(leaf.Value) != len(proba) {
			return 0, nil, fmt.Errorf("tree %d: leaf has %d values for %d classes", i, len(leaf.Value), len(proba))
		}
		total := 0.0
		for _, v := range leaf.Value {
			total += v
		}
		if total <= 0 {
			return 0, nil, fmt.Errorf("tree %d: empty leaf", i)
		}
		for c, v := range leaf.Value {
			proba[c] += v / total
		}
	}

	best := 0
	for c := range proba {
		proba[c] /= float64(len(rf.Trees))
		if proba[c] > proba[best] {
			best = c
		}
	}
	return rf.ClassLabels[best], proba, nil
}

func (dt *DecisionTree) leaf(features []float64) (*TreeNode, error) {
	idx := 0
	for steps := 0; steps <= len(dt.Nodes); steps++ {
		if idx < 0 || idx >= len(dt.Nodes) {
			return nil, errors.New("invalid tree state")
		}
		node := &dt.Nodes[idx]
		if node.IsLeaf {
			return node, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return nil, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
	}
	return nil, errors.New("tree contains a cycle")
}

func (rf *RandomForest) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var forest RandomForest
	if err := json.Unmarshal(payload, &forest); err != nil {
		return fmt.Errorf("decode forest: %w", err)
	}
	if err := forest.validate(); err != nil {
		return err
	}
	*rf = forest
	return nil
}

func (rf *RandomForest) save(path string) error {
	if err := rf.validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(rf)
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

// validate rejects forests that could loop or index out of range at predict time.
// Children must point forward in the node array.
func (rf *RandomForest) validate() error {
	if len(rf.ClassLabels) == 0 {
		return errors.New("forest has no classes")
	}
	if rf.NFeatures <= 0 {
		return errors.New("forest has no features")
	}
	if len(rf.FeatureNames) != 0 && len(rf.FeatureNames) != rf.NFeatures {
		return fmt.Errorf("forest declares %d feature names for %d features", len(rf.FeatureNames), rf.NFeatures)
	}
	if len(rf.Trees) == 0 {
		return errors.New("forest has no trees")
	}
	for t, tree := range rf.Trees {
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", t)
		}
		for i, node := range tree.Nodes {
			if node.IsLeaf {
				if len(node.Value) != len(rf.ClassLabels) {
					return fmt.Errorf("tree %d node %d: leaf has %d values for %d classes", t, i, len(node.Value), len(rf.ClassLabels))
				}
				total := 0.0
				for _, v := range node.Value {
					if v < 0 {
						return fmt.Errorf("tree %d node %d: negative leaf value", t, i)
					}
					total += v
				}
				if total <= 0 {
					return fmt.Errorf("tree %d node %d: empty leaf", t, i)
				}
				continue
			}
			if node.FeatureIdx < 0 || node.FeatureIdx >= rf.NFeatures {
				return fmt.Errorf("tree %d node %d: feature index %d out of range", t, i, node.FeatureIdx)
			}
			for _, child := range []int{node.LeftChild, node.RightChild} {
				if child <= i || child >= len(tree.Nodes) {
					return fmt.Errorf("tree %d node %d: invalid child %d", t, i, child)
				}
			}
		}
	}
	return nil
}
