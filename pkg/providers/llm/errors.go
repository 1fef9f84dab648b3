package llm

import (
	"errors"
	"net/http"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// IsPermanent reports whether err is an API rejection that a retry cannot
// fix: any 4xx status except 408 and 429. It plugs into retry.Config.Classify.
func IsPermanent(err error) bool {
	status := statusCode(err)
	if status < 400 || status >= 500 {
		return false
	}
	return status != http.StatusTooManyRequests && status != http.StatusRequestTimeout
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	var genaiErr genai.APIError
	if errors.As(err, &genaiErr) {
		return genaiErr.Code
	}
	return 0
}
