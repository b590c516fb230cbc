// internal/transport/sns.go
package transport

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"broadcast-dispatch/internal/common/errors"
	"broadcast-dispatch/internal/common/logger"
)

// SMSPublisher is satisfied by aws.SNSClient.
type SMSPublisher interface {
	PublishSMS(ctx context.Context, phone, message string) (string, error)
}

// SNSTransport sends every message kind as SMS text through Amazon SNS.
type SNSTransport struct {
	publisher SMSPublisher
	logger    logger.Logger
}

func NewSNSTransport(p SMSPublisher, log logger.Logger) *SNSTransport {
	return &SNSTransport{
		publisher: p,
		logger:    log.WithFields(map[string]interface{}{"component": "transport", "driver": "sns"}),
	}
}

func (t *SNSTransport) Send(ctx context.Context, msg Message) (*Receipt, error) {
	if msg.Recipient == "" {
		return nil, errors.NewTransportRejectedError("recipient is empty")
	}
	text := FormatText(msg.Body, msg.Metadata)
	if strings.TrimSpace(text) == "" {
		return nil, errors.NewTransportRejectedError("message body is empty")
	}

	id, err := t.publisher.PublishSMS(ctx, msg.Recipient, text)
	if err != nil {
		return nil, classifySNSError(err)
	}

	t.logger.Debug("sms published", map[string]interface{}{
		"broadcastId": msg.BroadcastID,
		"contactId":   msg.ContactID,
		"messageId":   id,
	})
	return &Receipt{MessageID: id, Delivered: true}, nil
}

// classifySNSError maps errors SNS will repeat on retry to TRANSPORT_REJECTED.
func classifySNSError(err error) error {
	var (
		invalidParam  *types.InvalidParameterException
		invalidValue  *types.InvalidParameterValueException
		authorization *types.AuthorizationErrorException
		disabled      *types.EndpointDisabledException
	)
	switch {
	case stderrors.As(err, &invalidParam), stderrors.As(err, &invalidValue):
		return errors.NewTransportRejectedError(err.Error())
	case stderrors.As(err, &authorization), stderrors.As(err, &disabled):
		return errors.NewTransportRejectedError(err.Error())
	default:
		return errors.NewTransportFailedError(err)
	}
}

var _ Transport = (*SNSTransport)(nil)
