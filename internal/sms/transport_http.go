package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// HTTPConfig configures the HTTP gateway transport.
type HTTPConfig struct {
	URL     string
	Key     string
	Secret  string
	Source  string // sender id shown on the handset
	Timeout time.Duration
}

// HTTPTransport posts messages to a JSON SMS gateway using basic auth.
type HTTPTransport struct {
	client *resty.Client
	config HTTPConfig
	logger *zap.Logger
}

type gatewayRequest struct {
	Source string `json:"source,omitempty"`
	To     string `json:"to"`
	Body   string `json:"body"`
}

type gatewayResponse struct {
	Status    string  `json:"status"`
	MessageID string  `json:"message_id"`
	Price     float64 `json:"price"`
	Error     string  `json:"error,omitempty"`
}

// Provider statuses that mean the message was taken.
var acceptedStatuses = map[string]bool{
	"accepted":  true,
	"queued":    true,
	"sent":      true,
	"delivered": true,
}

// NewHTTPTransport creates a transport for the configured gateway.
func NewHTTPTransport(cfg HTTPConfig, logger *zap.Logger) *HTTPTransport {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetBasicAuth(cfg.Key, cfg.Secret).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &HTTPTransport{
		client: client,
		config: cfg,
		logger: logger,
	}
}

// Name identifies the transport in metrics.
func (t *HTTPTransport) Name() string { return "http" }

// Send posts one message to the gateway.
func (t *HTTPTransport) Send(ctx context.Context, msg Outbound) (*ProviderResponse, error) {
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(gatewayRequest{Source: t.config.Source, To: msg.To, Body: msg.Body}).
		Post(t.config.URL)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}

	var out gatewayResponse
	if len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), &out); err != nil && !resp.IsError() {
			return nil, fmt.Errorf("decode gateway response: %w", err)
		}
	}

	if resp.IsError() {
		detail := out.Error
		if detail == "" {
			detail = strings.TrimSpace(resp.String())
		}
		return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode(), detail)
	}

	status := strings.ToLower(out.Status)
	if !acceptedStatuses[status] {
		if out.Error != "" {
			return nil, fmt.Errorf("gateway rejected message: %s", out.Error)
		}
		return nil, fmt.Errorf("gateway rejected message with status %q", out.Status)
	}

	t.logger.Debug("gateway accepted message",
		zap.String("message_id", out.MessageID),
		zap.String("status", status),
	)

	return &ProviderResponse{
		MessageID: out.MessageID,
		Status:    status,
		Cost:      out.Price,
	}, nil
}
