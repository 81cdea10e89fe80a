package sms

import "context"

// Outbound is a rendered message ready for the provider.
type Outbound struct {
	To   string
	Body string
}

// ProviderResponse is what a transport reports for an accepted message.
type ProviderResponse struct {
	MessageID string
	Status    string
	Cost      float64
}

// Transport hands a single message to an SMS provider.
// Any returned error is treated as a provider failure.
type Transport interface {
	Send(ctx context.Context, msg Outbound) (*ProviderResponse, error)
}

// Named is implemented by transports that report a name for metrics.
type Named interface {
	Name() string
}

func transportName(t Transport) string {
	if n, ok := t.(Named); ok {
		return n.Name()
	}
	return "sms"
}
