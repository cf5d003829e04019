package aws

import (
	"context"
	"errors"
	"testing"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSNS struct {
	input *sns.PublishInput
	err   error
}

func (f *fakeSNS) Publish(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: awssdk.String("msg-1")}, nil
}

func TestSNSClient_PublishAlert(t *testing.T) {
	fake := &fakeSNS{}
	client := NewSNSClientWith(fake, "arn:aws:sns:us-east-1:123456789012:loan-errors")

	id, err := client.PublishAlert(context.Background(), "loan error", `{"errorType":"processing_error"}`)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	assert.Equal(t, "arn:aws:sns:us-east-1:123456789012:loan-errors", awssdk.ToString(fake.input.TopicArn))
	assert.Equal(t, "loan error", awssdk.ToString(fake.input.Subject))
	assert.Equal(t, `{"errorType":"processing_error"}`, awssdk.ToString(fake.input.Message))
}

func TestSNSClient_PublishAlertError(t *testing.T) {
	client := NewSNSClientWith(&fakeSNS{err: errors.New("throttled")}, "arn")

	_, err := client.PublishAlert(context.Background(), "s", "b")
	assert.EqualError(t, err, "throttled")
}
