package model

import "context"

// TopK is the number of labels returned per image.
const TopK = 5

// CompletionMessage is carried by every successful RecognitionResult.
const CompletionMessage = "image recognition completed"

type ImageRequest struct {
	ImageURL string
	Token    string
}

// RawImage is the fetched payload handed to exactly one backend call.
type RawImage struct {
	Data        []byte
	ContentType string
}

type LabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type RecognitionResult struct {
	Success bool         `json:"success"`
	Results []LabelScore `json:"results"`
	Message string       `json:"message"`
}

type TagsRequest struct {
	ImageURL string `json:"image_url" binding:"required"`
}

type TagsResponse struct {
	Tags []string `json:"tags"`
}

type RecognizeRequest struct {
	ImageURL string `json:"image_url" binding:"required"`
	Token    string `json:"token"`
}

// Backend turns image bytes into ranked labels.
type Backend interface {
	Name() string
	Classify(ctx context.Context, img *RawImage, token string) ([]LabelScore, error)
}

// CredentialedBackend is implemented by backends that cannot run without a
// credential. ResolveToken returns the token to forward or ErrMissingToken.
type CredentialedBackend interface {
	Backend
	ResolveToken(token string) (string, error)
}
