package bridge

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/goccy/go-json"
)

// SQSConfiguration contains the configuration of the SQS sink
type SQSConfiguration struct {
	AccessID  string
	AccessKey string
	AWSRegion string
	QueueURL  string
}

// SQSAPI is the part of the SQS client used by the sink
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSSink sends messages to an AWS SQS queue. The body is the JSON encoded Message.
type SQSSink struct {
	client   SQSAPI
	queueURL string
}

// NewSQSSink returns a new SQS sink. Static credentials are used when AccessID is set,
// otherwise the default credential chain applies.
func NewSQSSink(ctx context.Context, sqsConfig SQSConfiguration) (*SQSSink, error) {
	if sqsConfig.QueueURL == "" {
		return nil, fmt.Errorf("QueueURL must not be empty")
	}
	options := []func(*config.LoadOptions) error{config.WithRegion(sqsConfig.AWSRegion)}
	if sqsConfig.AccessID != "" {
		options = append(options, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(sqsConfig.AccessID, sqsConfig.AccessKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, err
	}
	return NewSQSSinkWithClient(sqs.NewFromConfig(cfg), sqsConfig.QueueURL), nil
}

// NewSQSSinkWithClient returns a sink on top of an existing client
func NewSQSSinkWithClient(client SQSAPI, queueURL string) *SQSSink {
	return &SQSSink{client: client, queueURL: queueURL}
}

// Name implements Sink
func (s *SQSSink) Name() string { return "sqs" }

// Forward implements Sink
func (s *SQSSink) Forward(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"thing": {DataType: aws.String("String"), StringValue: aws.String(msg.Thing)},
			"topic": {DataType: aws.String("String"), StringValue: aws.String(msg.Topic)},
		},
	})
	return err
}
