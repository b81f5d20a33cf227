package action

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPHandler is an ActionHandler that performs an outbound HTTP request,
// adapted from the teacher's HTTPTool: GET/POST only, timeout via ctx,
// result surfaced as (status_code, headers, body).
type HTTPHandler struct {
	client *http.Client
}

// NewHTTPHandler builds an HTTPHandler with default client settings.
func NewHTTPHandler() *HTTPHandler {
	return &HTTPHandler{client: &http.Client{}}
}

// Execute implements Handler.
func (h *HTTPHandler) Execute(ctx context.Context, payload map[string]interface{}, runContext map[string]interface{}) Result {
	urlStr, ok := payload["url"].(string)
	if !ok || urlStr == "" {
		return Failure("url parameter required (string)")
	}

	method := "GET"
	if m, ok := payload["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if method != "GET" && method != "POST" {
		return Failure(fmt.Sprintf("unsupported HTTP method: %s (supported: GET, POST)", method))
	}

	var body io.Reader
	if bodyStr, ok := payload["body"].(string); ok && bodyStr != "" {
		body = bytes.NewBufferString(bodyStr)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return Failure(fmt.Sprintf("failed to create request: %v", err))
	}
	if headers, ok := payload["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Failure(fmt.Sprintf("http request failed: %v", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Failure(fmt.Sprintf("failed to read response body: %v", err))
	}

	headers := make(map[string]interface{}, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	return Result{
		Success: resp.StatusCode < 400,
		Message: fmt.Sprintf("http %s %s -> %d", method, urlStr, resp.StatusCode),
		Output: map[string]interface{}{
			"status_code": resp.StatusCode,
			"headers":     headers,
			"body":        string(respBody),
		},
	}
}
