package onnx

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/Brownie44l1/tagging-api/internal/model"
)

// Predictor runs the classifier graph on a preprocessed tensor.
type Predictor interface {
	Predict(input []float32) ([]float32, error)
}

// Classifier is the local model.Backend.
type Classifier struct {
	predictor Predictor
	vocab     *Vocabulary
	maxPixels int
}

// NewClassifier builds the local backend. A maxPixels of zero selects
// DefaultMaxPixels.
func NewClassifier(predictor Predictor, vocab *Vocabulary, maxPixels int) *Classifier {
	return &Classifier{predictor: predictor, vocab: vocab, maxPixels: maxPixels}
}

func (c *Classifier) Name() string { return "local" }

// Classify ignores token; the local model needs no credential.
func (c *Classifier) Classify(ctx context.Context, img *model.RawImage, _ string) ([]model.LabelScore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	decoded, err := Decode(img.Data, c.maxPixels)
	if err != nil {
		return nil, err
	}

	logits, err := c.predictor.Predict(Preprocess(decoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInference, err)
	}
	if len(logits) == 0 {
		return nil, fmt.Errorf("%w: empty model output", model.ErrInference)
	}

	probs := Softmax(logits)
	top := TopK(probs, model.TopK)

	results := make([]model.LabelScore, len(top))
	for i, id := range top {
		results[i] = model.LabelScore{Label: c.vocab.Label(id), Score: probs[id]}
	}
	return results, nil
}

// Softmax computes a numerically stable probability distribution.
func Softmax(logits []float32) []float64 {
	maxLogit := math.Inf(-1)
	for _, v := range logits {
		maxLogit = math.Max(maxLogit, float64(v))
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		probs[i] = math.Exp(float64(v) - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// TopK returns the indices of the k largest probabilities, highest first.
// Ties go to the lower index.
func TopK(probs []float64, k int) []int {
	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		switch {
		case probs[a] > probs[b]:
			return -1
		case probs[a] < probs[b]:
			return 1
		}
		return 0
	})
	if k < len(idx) {
		idx = idx[:k]
	}
	return idx
}
