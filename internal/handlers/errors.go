package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Brownie44l1/tagging-api/internal/model"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Detail     string `json:"detail"`
	RequestID  string `json:"request_id,omitempty"`
}

// MapError converts a pipeline error into a status code and a client-safe
// message naming the failing stage.
func MapError(err error) ErrorResponse {
	code := model.ErrorCode(err)
	var upErr *model.UpstreamError
	if !errors.As(err, &upErr) {
		upErr = &model.UpstreamError{StatusCode: http.StatusBadGateway}
	}

	switch code {
	case model.CodeInvalidRequest:
		return ErrorResponse{StatusCode: http.StatusBadRequest, Code: code, Detail: err.Error()}
	case model.CodeDownloadFailed, model.CodeDecodeFailed:
		return ErrorResponse{StatusCode: http.StatusBadRequest, Code: code, Detail: err.Error()}
	case model.CodeMissingToken:
		return ErrorResponse{
			StatusCode: http.StatusBadRequest,
			Code:       code,
			Detail:     "token not provided: pass \"token\" in the request body or configure a default token",
		}
	case model.CodeUnauthorized:
		return ErrorResponse{StatusCode: http.StatusUnauthorized, Code: code, Detail: "invalid token"}
	case model.CodeModelNotFound:
		return ErrorResponse{
			StatusCode: http.StatusNotFound,
			Code:       code,
			Detail:     fmt.Sprintf("model %s not found", upErr.ModelID),
		}
	case model.CodeRateLimited:
		return ErrorResponse{
			StatusCode: http.StatusTooManyRequests,
			Code:       code,
			Detail:     "rate limit exceeded, retry later",
		}
	case model.CodeModelLoading:
		detail := fmt.Sprintf("model %s is loading, retry shortly", upErr.ModelID)
		if upErr.EstimatedTime > 0 {
			detail = fmt.Sprintf("model %s is loading, estimated time %.0fs", upErr.ModelID, upErr.EstimatedTime)
		}
		return ErrorResponse{StatusCode: http.StatusServiceUnavailable, Code: code, Detail: detail}
	case model.CodeUpstreamError:
		// Only error statuses are relayed; anything else from upstream is a bad gateway.
		status := upErr.StatusCode
		if status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		return ErrorResponse{
			StatusCode: status,
			Code:       code,
			Detail:     fmt.Sprintf("inference API error: %s", upErr.Body),
		}
	case model.CodeInferenceFailed:
		return ErrorResponse{StatusCode: http.StatusInternalServerError, Code: code, Detail: err.Error()}
	default:
		return ErrorResponse{
			StatusCode: http.StatusInternalServerError,
			Code:       model.CodeInternal,
			Detail:     "internal server error",
		}
	}
}

// HandleError sends the mapped error response.
func HandleError(c *gin.Context, err error) {
	resp := MapError(err)
	respondError(c, resp.StatusCode, resp.Code, resp.Detail)
}

func respondError(c *gin.Context, status int, code, detail string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Code:      code,
		Detail:    detail,
		RequestID: c.GetString("request_id"),
	})
}
