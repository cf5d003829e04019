// internal/fanout/alerts.go
package fanout

import (
	"context"

	apperrors "loan-pipeline/internal/common/errors"
	"loan-pipeline/internal/common/logger"
	"loan-pipeline/internal/models"
)

const alertSubject = "Loan processing failure"

// AlertPublisher is satisfied by *aws.SNSClient.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, subject, body string) (string, error)
}

// AlertSink forwards errorLog pushes to an alert topic. Other push types are
// ignored. Publish failures are logged and never drop the sink.
type AlertSink struct {
	publisher AlertPublisher
	logger    logger.Logger
}

func NewAlertSink(publisher AlertPublisher, log logger.Logger) *AlertSink {
	return &AlertSink{
		publisher: publisher,
		logger:    log.WithFields(map[string]interface{}{"component": "alert-sink"}),
	}
}

func (a *AlertSink) Send(ctx context.Context, p Push) error {
	if p.Type != models.PushTypeErrorLog {
		return nil
	}

	msgID, err := a.publisher.PublishAlert(ctx, alertSubject, string(p.Body))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Warn("alert publish failed", map[string]interface{}{
			"error": apperrors.NewAlertSendFailedError(err).Error(),
		})
		return nil
	}

	a.logger.Debug("alert published", map[string]interface{}{"messageId": msgID})
	return nil
}
