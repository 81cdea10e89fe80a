package sqs

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// Envelope is a received message that has not been decoded yet.
type Envelope struct {
	MessageID     string
	Body          []byte
	ReceiptHandle string
}

// Consumer long-polls a queue.
type Consumer struct {
	client   API
	queueURL string
	logger   *zap.Logger

	maxMessages int32
	waitSeconds int32
	visibility  int32
}

// NewConsumer creates a new SQS consumer.
func NewConsumer(client API, cfg Config, logger *zap.Logger) *Consumer {
	logger.Info("sqs consumer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Consumer{
		client:      client,
		queueURL:    cfg.QueueURL,
		logger:      logger,
		maxMessages: 10,
		waitSeconds: 20,
		visibility:  60,
	}
}

// Receive waits up to 20s for messages. An empty slice means the poll timed out.
func (c *Consumer) Receive(ctx context.Context) ([]Envelope, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: c.maxMessages,
		WaitTimeSeconds:     c.waitSeconds,
		VisibilityTimeout:   c.visibility,
	}

	result, err := c.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("sqs receive failed: %w", err)
	}

	out := make([]Envelope, 0, len(result.Messages))
	for _, m := range result.Messages {
		out = append(out, Envelope{
			MessageID:     aws.ToString(m.MessageId),
			Body:          []byte(aws.ToString(m.Body)),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		})
	}
	return out, nil
}

// Delete removes a message after it has been handled.
func (c *Consumer) Delete(ctx context.Context, receiptHandle string) error {
	input := &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	}

	if _, err := c.client.DeleteMessage(ctx, input); err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}
	return nil
}

// ExtendVisibility keeps a slow message hidden from other consumers.
func (c *Consumer) ExtendVisibility(ctx context.Context, receiptHandle string, seconds int32) error {
	input := &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.queueURL),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: seconds,
	}

	if _, err := c.client.ChangeMessageVisibility(ctx, input); err != nil {
		return fmt.Errorf("sqs change visibility failed: %w", err)
	}
	return nil
}
