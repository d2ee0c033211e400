package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPCall builds a CallFunc that POSTs the request as JSON to an agent
// service and decodes the JSON object it returns. The per-attempt
// timeout arrives through the context, so the http.Client needs no
// timeout of its own.
func HTTPCall(url string, client *http.Client) CallFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		body, err := json.Marshal(request)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusMultipleChoices {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, snippet)
		}

		var out map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return out, nil
	}
}
