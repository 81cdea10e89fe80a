package sms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHTTPTransport_Send(t *testing.T) {
	var got gatewayRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"Queued","message_id":"gw-42","price":0.07}`))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: srv.URL, Key: "key", Secret: "secret", Source: "STATION"}, zap.NewNop())

	resp, err := tr.Send(context.Background(), Outbound{To: "+12025550123", Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "gw-42", resp.MessageID)
	assert.Equal(t, "queued", resp.Status)
	assert.Equal(t, 0.07, resp.Cost)

	assert.Equal(t, gatewayRequest{Source: "STATION", To: "+12025550123", Body: "hello"}, got)
}

func TestHTTPTransport_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusServiceUnavailable, `{"error":"maintenance"}`},
		{"unauthorized plain body", http.StatusUnauthorized, `bad credentials`},
		{"rejected status", http.StatusOK, `{"status":"rejected","error":"invalid destination"}`},
		{"unknown status", http.StatusOK, `{"status":"weird"}`},
		{"garbage body", http.StatusOK, `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			tr := NewHTTPTransport(HTTPConfig{URL: srv.URL, Key: "k", Secret: "s"}, zap.NewNop())
			_, err := tr.Send(context.Background(), Outbound{To: "+12025550123", Body: "x"})
			assert.Error(t, err)
		})
	}
}

type fakeSNS struct {
	input *sns.PublishInput
	err   error
}

func (f *fakeSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("sns-1")}, nil
}

func TestSNSTransport_Send(t *testing.T) {
	client := &fakeSNS{}
	tr := NewSNSTransportWithClient(client, SNSConfig{SenderID: "STATION", Price: 0.00645}, zap.NewNop())

	resp, err := tr.Send(context.Background(), Outbound{To: "+12025550123", Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "sns-1", resp.MessageID)
	assert.Equal(t, 0.00645, resp.Cost)

	require.NotNil(t, client.input)
	assert.Equal(t, "+12025550123", aws.ToString(client.input.PhoneNumber))
	assert.Equal(t, "hello", aws.ToString(client.input.Message))
	assert.Equal(t, "STATION", aws.ToString(client.input.MessageAttributes["AWS.SNS.SMS.SenderID"].StringValue))
}

func TestSNSTransport_Error(t *testing.T) {
	tr := NewSNSTransportWithClient(&fakeSNS{err: errors.New("throttled")}, SNSConfig{}, zap.NewNop())

	_, err := tr.Send(context.Background(), Outbound{To: "+12025550123", Body: "hello"})
	assert.ErrorContains(t, err, "throttled")
	assert.Equal(t, "sns", tr.Name())
}
