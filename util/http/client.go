package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 30 * time.Second

type HTTPClient struct {
	client *http.Client
}

func NewHTTPClient() IClient {
	return &HTTPClient{
		client: &http.Client{Timeout: defaultTimeout},
	}
}

// DoHTTPRequest sends the request described by requestParam and, when
// requestParam.Response is non-nil, unmarshals the response body into it.
// A non-2xx status is returned as an error carrying the response body.
func (c *HTTPClient) DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error {
	if requestParam == nil {
		return errors.New("request param is nil")
	}

	if requestParam.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestParam.Timeout)
		defer cancel()
	}

	var (
		body        io.Reader
		contentType string
	)
	switch b := requestParam.Body.(type) {
	case nil:
	case io.Reader:
		body = b
		contentType = "text/plain"
	case []byte:
		body = bytes.NewReader(b)
		contentType = "application/json"
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, requestParam.Method, requestParam.RequestURI, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range requestParam.Header {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("HTTP request failed with status %d: %s", resp.StatusCode, respBody)
	}

	if requestParam.Response != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, requestParam.Response); err != nil {
			return fmt.Errorf("unmarshal response body: %w", err)
		}
	}

	return nil
}
