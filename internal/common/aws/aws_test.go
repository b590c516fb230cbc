package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSES struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

func (m *mockSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	return m.SendEmailFunc(ctx, params, optFns...)
}

type mockSNS struct {
	PublishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

func (m *mockSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	return m.PublishFunc(ctx, params, optFns...)
}

func TestSESClient_SendText(t *testing.T) {
	var captured *ses.SendEmailInput
	client := NewSESClientWithAPI(&mockSES{
		SendEmailFunc: func(_ context.Context, params *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
			captured = params
			return &ses.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
		},
	}, "reports@example.com")

	id, err := client.SendText(context.Background(), []string{"ops@example.com"}, "Report", "body")
	require.NoError(t, err)
	assert.Equal(t, "ses-1", id)
	require.NotNil(t, captured)
	assert.Equal(t, "reports@example.com", aws.ToString(captured.Source))
	assert.Equal(t, []string{"ops@example.com"}, captured.Destination.ToAddresses)
	assert.Equal(t, "Report", aws.ToString(captured.Message.Subject.Data))
}

func TestSESClient_SendText_NoRecipients(t *testing.T) {
	client := NewSESClientWithAPI(&mockSES{}, "reports@example.com")
	_, err := client.SendText(context.Background(), nil, "Report", "body")
	assert.Error(t, err)
}

func TestSNSClient_PublishSMS(t *testing.T) {
	tests := []struct {
		name      string
		senderID  string
		apiErr    error
		wantAttrs int
		wantErr   bool
	}{
		{name: "with sender id", senderID: "ACME", wantAttrs: 2},
		{name: "type only", wantAttrs: 1},
		{name: "api error", apiErr: errors.New("throttled"), wantAttrs: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured *sns.PublishInput
			client := NewSNSClientWithAPI(&mockSNS{
				PublishFunc: func(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
					captured = params
					if tt.apiErr != nil {
						return nil, tt.apiErr
					}
					return &sns.PublishOutput{MessageId: aws.String("sns-1")}, nil
				},
			}, tt.senderID, "Transactional")

			id, err := client.PublishSMS(context.Background(), "+5511999990000", "hello")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "sns-1", id)
			}
			require.NotNil(t, captured)
			assert.Equal(t, "+5511999990000", aws.ToString(captured.PhoneNumber))
			assert.Len(t, captured.MessageAttributes, tt.wantAttrs)
		})
	}
}
