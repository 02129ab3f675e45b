// Package sns wraps the SNS client for SMS and mobile push delivery.
package sns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SMS types accepted by SNS.
const (
	SMSTransactional = "Transactional"
	SMSPromotional   = "Promotional"
)

// API is the subset of the SNS client used here.
type API interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher sends SMS to phone numbers and push payloads to platform
// endpoints.
type Publisher struct {
	client   API
	senderID string
}

// Config holds SNS configuration. Endpoint overrides the AWS endpoint for
// LocalStack.
type Config struct {
	Region   string
	Endpoint string
	SenderID string
}

// NewPublisher creates an SNS publisher from the default AWS configuration.
func NewPublisher(ctx context.Context, cfg Config) (*Publisher, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return NewPublisherWithClient(client, cfg.SenderID), nil
}

// NewPublisherWithClient wraps an existing client.
func NewPublisherWithClient(client API, senderID string) *Publisher {
	return &Publisher{client: client, senderID: senderID}
}

// PublishSMS sends a transactional text message.
func (p *Publisher) PublishSMS(ctx context.Context, phoneNumber, message string) (string, error) {
	if phoneNumber == "" {
		return "", errors.New("sms phone number is empty")
	}

	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String(SMSTransactional),
		},
	}
	if p.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(p.senderID),
		}
	}

	result, err := p.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(phoneNumber),
		Message:           aws.String(message),
		MessageAttributes: attrs,
	})
	if err != nil {
		return "", fmt.Errorf("sns sms publish failed: %w", err)
	}
	return aws.ToString(result.MessageId), nil
}

// PushPayload is the platform-neutral push content.
type PushPayload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// PublishToEndpoint sends a push notification to a platform application
// endpoint ARN using the JSON message structure.
func (p *Publisher) PublishToEndpoint(ctx context.Context, endpointARN string, payload PushPayload) (string, error) {
	if !strings.HasPrefix(endpointARN, "arn:") {
		return "", fmt.Errorf("invalid endpoint arn: %q", endpointARN)
	}

	message, err := pushMessage(payload)
	if err != nil {
		return "", err
	}

	result, err := p.client.Publish(ctx, &sns.PublishInput{
		TargetArn:        aws.String(endpointARN),
		Message:          aws.String(message),
		MessageStructure: aws.String("json"),
	})
	if err != nil {
		return "", fmt.Errorf("sns push publish failed: %w", err)
	}
	return aws.ToString(result.MessageId), nil
}

// pushMessage renders the per-platform envelope SNS expects when
// MessageStructure is json.
func pushMessage(payload PushPayload) (string, error) {
	gcm, err := json.Marshal(map[string]any{
		"notification": map[string]string{"title": payload.Title, "body": payload.Body},
		"data":         payload.Data,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal gcm payload: %w", err)
	}
	apns, err := json.Marshal(map[string]any{
		"aps": map[string]any{
			"alert": map[string]string{"title": payload.Title, "body": payload.Body},
		},
		"data": payload.Data,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal apns payload: %w", err)
	}

	envelope, err := json.Marshal(map[string]string{
		"default": payload.Body,
		"GCM":     string(gcm),
		"APNS":    string(apns),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal push envelope: %w", err)
	}
	return string(envelope), nil
}
