package aiclient

import (
	"errors"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"

	"clinic-backend/internal/resilience/retry"
)

// ErrEmptyResponse is returned when a provider answers without any content.
var ErrEmptyResponse = errors.New("empty response")

// normalizeError exposes the HTTP status of an SDK error as a *retry.StatusError
// so the retry classifier can see it. The SDK error stays in the chain.
// Errors without a status (transport, context) are returned unchanged.
func normalizeError(err error) error {
	if err == nil {
		return nil
	}

	var (
		oaiAPIErr  *openai.APIError
		oaiReqErr  *openai.RequestError
		anthropErr *anthropic.Error
	)
	switch {
	case errors.As(err, &oaiAPIErr) && oaiAPIErr.HTTPStatusCode > 0:
		return &retry.StatusError{StatusCode: oaiAPIErr.HTTPStatusCode, Message: oaiAPIErr.Message, Err: err}
	case errors.As(err, &oaiReqErr) && oaiReqErr.HTTPStatusCode > 0:
		return &retry.StatusError{StatusCode: oaiReqErr.HTTPStatusCode, Message: oaiReqErr.HTTPStatus, Err: err}
	case errors.As(err, &anthropErr) && anthropErr.StatusCode > 0:
		return &retry.StatusError{StatusCode: anthropErr.StatusCode, Message: http.StatusText(anthropErr.StatusCode), Err: err}
	default:
		return err
	}
}
