package sms

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

// SNSPublisher is the subset of the SNS client used for direct SMS.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSConfig configures SMS delivery through AWS SNS.
type SNSConfig struct {
	Region   string
	SenderID string
	Price    float64 // SNS does not report per-message cost
}

// SNSTransport sends SMS via AWS SNS
type SNSTransport struct {
	client SNSPublisher
	config SNSConfig
	logger *zap.Logger
}

// NewSNSTransport creates an SNS transport using the default AWS credential chain.
func NewSNSTransport(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSTransport, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	return NewSNSTransportWithClient(sns.NewFromConfig(awsCfg), cfg, logger), nil
}

// NewSNSTransportWithClient allows injecting a custom SNS client (useful for testing).
func NewSNSTransportWithClient(client SNSPublisher, cfg SNSConfig, logger *zap.Logger) *SNSTransport {
	return &SNSTransport{
		client: client,
		config: cfg,
		logger: logger,
	}
}

func (t *SNSTransport) Name() string { return "sns" }

// Send publishes the message directly to the phone number.
func (t *SNSTransport) Send(ctx context.Context, msg Outbound) (*ProviderResponse, error) {
	input := &sns.PublishInput{
		PhoneNumber: aws.String(msg.To),
		Message:     aws.String(msg.Body),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {
				DataType:    aws.String("String"),
				StringValue: aws.String("Transactional"),
			},
		},
	}
	if t.config.SenderID != "" {
		input.MessageAttributes["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(t.config.SenderID),
		}
	}

	result, err := t.client.Publish(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("sns publish failed: %w", err)
	}

	messageID := aws.ToString(result.MessageId)
	t.logger.Debug("SMS published via SNS",
		zap.String("recipient", MaskPhone(msg.To)),
		zap.String("message_id", messageID),
	)

	return &ProviderResponse{
		MessageID: messageID,
		Status:    "sent",
		Cost:      t.config.Price,
	}, nil
}
