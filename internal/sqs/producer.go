package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/stationnotify/internal/db"
)

// API is the subset of the SQS client used here.
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
}

// NewClient builds an SQS client from the default AWS credential chain.
func NewClient(ctx context.Context, region string) (*sqs.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return sqs.NewFromConfig(awsCfg), nil
}

const EventTypeDelivery = "sms.delivery"

// DeliveryEvent is published for every recorded send attempt so reporting
// and audit consumers don't need to poll sms_logs.
type DeliveryEvent struct {
	Type       string  `json:"type"`
	RecordID   string  `json:"record_id"`
	Recipient  string  `json:"recipient"`
	Status     string  `json:"status"`
	ProviderID string  `json:"provider_id,omitempty"`
	Cost       float64 `json:"cost"`
	Error      string  `json:"error,omitempty"`
	LicenseID  string  `json:"license_id,omitempty"`
	ContactID  string  `json:"contact_id,omitempty"`
	SentAt     string  `json:"sent_at"`
	EnqueuedAt int64   `json:"enqueued_at"`
}

// NewDeliveryEvent converts a stored record into its event form.
func NewDeliveryEvent(rec *db.DeliveryRecord) DeliveryEvent {
	ev := DeliveryEvent{
		Type:       EventTypeDelivery,
		RecordID:   rec.ID.String(),
		Recipient:  rec.Recipient,
		Status:     rec.Status,
		ProviderID: rec.ProviderID,
		Cost:       rec.Cost,
		SentAt:     rec.SentAt.UTC().Format(time.RFC3339),
		EnqueuedAt: time.Now().UnixNano(),
	}
	if rec.Error != nil {
		ev.Error = *rec.Error
	}
	if rec.LicenseID != nil {
		ev.LicenseID = rec.LicenseID.String()
	}
	if rec.ContactID != nil {
		ev.ContactID = rec.ContactID.String()
	}
	return ev
}

// Producer publishes delivery events to SQS.
type Producer struct {
	client   API
	queueURL string
	logger   *zap.Logger
}

// NewProducer creates a new SQS producer.
func NewProducer(client API, cfg Config, logger *zap.Logger) *Producer {
	logger.Info("sqs producer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Producer{
		client:   client,
		queueURL: cfg.QueueURL,
		logger:   logger,
	}
}

// PublishDelivery sends the event for rec and returns the SQS message id.
func (p *Producer) PublishDelivery(ctx context.Context, rec *db.DeliveryRecord) (string, error) {
	body, err := json.Marshal(NewDeliveryEvent(rec))
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(EventTypeDelivery),
			},
			"status": {
				DataType:    aws.String("String"),
				StringValue: aws.String(rec.Status),
			},
		},
	}

	result, err := p.client.SendMessage(ctx, input)
	if err != nil {
		return "", fmt.Errorf("sqs send failed: %w", err)
	}

	return aws.ToString(result.MessageId), nil
}
