// internal/common/aws/sns.go
package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSAPI is the subset of the SNS client the SMS transport needs.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSClient struct {
	api      SNSAPI
	senderID string
	smsType  string
}

func NewSNSClient(ctx context.Context, region, senderID, smsType string) (*SNSClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSNSClientWithAPI(sns.NewFromConfig(cfg), senderID, smsType), nil
}

func NewSNSClientWithAPI(api SNSAPI, senderID, smsType string) *SNSClient {
	return &SNSClient{api: api, senderID: senderID, smsType: smsType}
}

// PublishSMS sends message to an E.164 phone number and returns the SNS message id.
func (s *SNSClient) PublishSMS(ctx context.Context, phone, message string) (string, error) {
	attrs := map[string]types.MessageAttributeValue{}
	if s.smsType != "" {
		attrs["AWS.SNS.SMS.SMSType"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(s.smsType),
		}
	}
	if s.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(s.senderID),
		}
	}

	out, err := s.api.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(phone),
		Message:           aws.String(message),
		MessageAttributes: attrs,
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.MessageId), nil
}
