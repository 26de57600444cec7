package onnx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/tagging-api/internal/model"
)

type stubPredictor struct {
	mu     sync.Mutex
	logits []float32
	err    error
	inputs int
}

func (s *stubPredictor) Predict(input []float32) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = len(input)
	return s.logits, s.err
}

func testVocabulary(t *testing.T, n int) *Vocabulary {
	t.Helper()
	var sb strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "label %d\n", i)
	}
	vocab, err := ParseVocabulary(strings.NewReader(sb.String()), n)
	require.NoError(t, err)
	return vocab
}

func encodePNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestClassifier_Classify(t *testing.T) {
	t.Run("returns top five labels in descending order", func(t *testing.T) {
		logits := make([]float32, 1000)
		logits[207] = 9
		logits[208] = 8
		logits[222] = 7
		logits[852] = 6
		logits[1] = 5
		predictor := &stubPredictor{logits: logits}
		classifier := NewClassifier(predictor, testVocabulary(t, 1000), 0)

		results, err := classifier.Classify(context.Background(),
			&model.RawImage{Data: encodePNG(t, 320, 240, color.White), ContentType: "image/png"}, "")

		require.NoError(t, err)
		require.Len(t, results, model.TopK)
		assert.Equal(t, []string{"label 207", "label 208", "label 222", "label 852", "label 1"}, model.Labels(results))
		for i, r := range results {
			assert.GreaterOrEqual(t, r.Score, 0.0)
			assert.LessOrEqual(t, r.Score, 1.0)
			if i > 0 {
				assert.GreaterOrEqual(t, results[i-1].Score, r.Score)
			}
		}
		assert.Equal(t, Channels*CropSize*CropSize, predictor.inputs)
	})

	t.Run("undecodable bytes are a decode error", func(t *testing.T) {
		predictor := &stubPredictor{logits: make([]float32, 1000)}
		classifier := NewClassifier(predictor, testVocabulary(t, 1000), 0)

		_, err := classifier.Classify(context.Background(), &model.RawImage{Data: []byte("<html>")}, "")

		require.Error(t, err)
		assert.True(t, errors.Is(err, model.ErrDecode))
		assert.Zero(t, predictor.inputs)
	})

	t.Run("images over the pixel budget are rejected before decoding", func(t *testing.T) {
		predictor := &stubPredictor{logits: make([]float32, 1000)}
		classifier := NewClassifier(predictor, testVocabulary(t, 1000), 100*100)

		_, err := classifier.Classify(context.Background(),
			&model.RawImage{Data: encodePNG(t, 101, 100, color.White)}, "")

		require.Error(t, err)
		assert.True(t, errors.Is(err, model.ErrDecode))
		assert.Contains(t, err.Error(), "exceeds")
		assert.Zero(t, predictor.inputs)
	})

	t.Run("session failure is an inference error", func(t *testing.T) {
		predictor := &stubPredictor{err: errors.New("onnx exploded")}
		classifier := NewClassifier(predictor, testVocabulary(t, 1000), 0)

		_, err := classifier.Classify(context.Background(),
			&model.RawImage{Data: encodePNG(t, 64, 64, color.Black)}, "")

		require.Error(t, err)
		assert.True(t, errors.Is(err, model.ErrInference))
		assert.Contains(t, err.Error(), "onnx exploded")
	})

	t.Run("safe for concurrent use", func(t *testing.T) {
		logits := make([]float32, 1000)
		logits[3] = 1
		classifier := NewClassifier(&stubPredictor{logits: logits}, testVocabulary(t, 1000), 0)
		data := encodePNG(t, 32, 48, color.Gray{Y: 128})

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results, err := classifier.Classify(context.Background(), &model.RawImage{Data: data}, "")
				assert.NoError(t, err)
				assert.Len(t, results, model.TopK)
			}()
		}
		wg.Wait()
	})
}

func TestSoftmax(t *testing.T) {
	probs := Softmax([]float32{1, 2, 3, 1000})

	var sum float64
	for _, p := range probs {
		assert.False(t, math.IsNaN(p))
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.InDelta(t, 1.0, probs[3], 1e-9)
}

func TestTopK(t *testing.T) {
	assert.Equal(t, []int{2, 0, 1}, TopK([]float64{0.3, 0.3, 0.4}, 5))
	assert.Equal(t, []int{2, 0}, TopK([]float64{0.3, 0.3, 0.4}, 2))
	assert.Empty(t, TopK(nil, 5))
}

func TestPreprocess(t *testing.T) {
	t.Run("produces a normalized CHW tensor", func(t *testing.T) {
		img, err := Decode(encodePNG(t, 500, 300, color.NRGBA{R: 255, G: 0, B: 128, A: 255}), 0)
		require.NoError(t, err)

		input := Preprocess(img)

		plane := CropSize * CropSize
		require.Len(t, input, Channels*plane)
		assert.InDelta(t, (1-Mean[0])/Std[0], input[0], 1e-4)
		assert.InDelta(t, (0-Mean[1])/Std[1], input[plane], 1e-4)
		assert.InDelta(t, (128.0/255-Mean[2])/Std[2], input[2*plane+plane-1], 1e-4)
	})

	t.Run("handles images smaller than the crop", func(t *testing.T) {
		img, err := Decode(encodePNG(t, 10, 20, color.White), 0)
		require.NoError(t, err)

		assert.Len(t, Preprocess(img), Channels*CropSize*CropSize)
	})

	t.Run("keeps only the centre square of the short side", func(t *testing.T) {
		// 300x256 source: the kept square spans x 38..262 and y 16..240.
		src := image.NewNRGBA(image.Rect(0, 0, 300, 256))
		for y := 0; y < 256; y++ {
			for x := 0; x < 300; x++ {
				c := color.NRGBA{R: 255, A: 255}
				if x >= 38 && x < 262 && y >= 16 && y < 240 {
					c = color.NRGBA{G: 255, A: 255}
				}
				src.SetNRGBA(x, y, c)
			}
		}

		input := Preprocess(src)

		plane := CropSize * CropSize
		for _, idx := range []int{0, CropSize - 1, plane / 2, plane - CropSize, plane - 1} {
			assert.InDelta(t, (0-Mean[0])/Std[0], input[idx], 1e-4)
			assert.InDelta(t, (1-Mean[1])/Std[1], input[plane+idx], 1e-4)
		}
	})

	t.Run("extreme aspect ratios stay bounded in memory", func(t *testing.T) {
		for _, size := range [][2]int{{1, 20000}, {20000, 1}} {
			img, err := Decode(encodePNG(t, size[0], size[1], color.Gray{Y: 200}), 0)
			require.NoError(t, err)

			var before, after runtime.MemStats
			runtime.ReadMemStats(&before)
			input := Preprocess(img)
			runtime.ReadMemStats(&after)

			require.Len(t, input, Channels*CropSize*CropSize)
			assert.InDelta(t, (200.0/255-Mean[0])/Std[0], input[0], 1e-4)
			assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(64<<20))
		}
	})
}

func TestDecode(t *testing.T) {
	t.Run("rejects images over the pixel budget", func(t *testing.T) {
		_, err := Decode(encodePNG(t, 1, 20000, color.White), 10000)

		require.Error(t, err)
		assert.True(t, errors.Is(err, model.ErrDecode))
	})

	t.Run("accepts images at the budget", func(t *testing.T) {
		img, err := Decode(encodePNG(t, 100, 100, color.White), 100*100)

		require.NoError(t, err)
		assert.Equal(t, 100, img.Bounds().Dx())
	})

	t.Run("garbage is a decode error", func(t *testing.T) {
		_, err := Decode([]byte("not an image"), 0)

		assert.True(t, errors.Is(err, model.ErrDecode))
	})
}
