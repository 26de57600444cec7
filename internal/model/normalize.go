package model

// Truncate keeps the first k entries of an already ranked list. It never pads.
func Truncate(results []LabelScore, k int) []LabelScore {
	if k < 0 {
		k = 0
	}
	if len(results) <= k {
		out := make([]LabelScore, len(results))
		copy(out, results)
		return out
	}
	out := make([]LabelScore, k)
	copy(out, results[:k])
	return out
}

func NewRecognitionResult(results []LabelScore) *RecognitionResult {
	return &RecognitionResult{
		Success: true,
		Results: Truncate(results, TopK),
		Message: CompletionMessage,
	}
}

// Labels projects a result list onto its label strings.
func Labels(results []LabelScore) []string {
	tags := make([]string, len(results))
	for i, r := range results {
		tags[i] = r.Label
	}
	return tags
}
