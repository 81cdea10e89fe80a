package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// apiClient calls the gateway HTTP API.
type apiClient struct {
	http *resty.Client
}

func newAPIClient(server string, timeout time.Duration) *apiClient {
	return &apiClient{
		http: resty.New().
			SetBaseURL(strings.TrimRight(server, "/")).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

// problem mirrors the gateway's problem+json body.
type problem struct {
	Type   string   `json:"type"`
	Title  string   `json:"title"`
	Detail string   `json:"detail"`
	Fields []string `json:"fields"`
}

// do sends the request and returns the raw body. Non-2xx statuses carrying
// a problem+json body become errors; other bodies such as trigger results
// are returned with their status so the caller can print them.
func (c *apiClient) do(ctx context.Context, method, path string, query map[string]string) (json.RawMessage, int, error) {
	req := c.http.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", method, path, err)
	}

	body := json.RawMessage(resp.Body())
	if resp.IsError() && strings.HasPrefix(resp.Header().Get("Content-Type"), "application/problem+json") {
		var p problem
		if err := json.Unmarshal(body, &p); err == nil && p.Title != "" {
			msg := p.Title
			if p.Detail != "" {
				msg += ": " + p.Detail
			}
			if len(p.Fields) > 0 {
				msg += " (" + strings.Join(p.Fields, "; ") + ")"
			}
			return nil, resp.StatusCode(), fmt.Errorf("%s (HTTP %d)", msg, resp.StatusCode())
		}
		return nil, resp.StatusCode(), fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode())
	}

	return body, resp.StatusCode(), nil
}
