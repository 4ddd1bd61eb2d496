package outbox

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/relabs-tech/geocatalog/core/logger"
	"github.com/segmentio/kafka-go"
)

// Sink receives relayed events. Deliver must either accept the whole batch or return an
// error; a failed batch is delivered again later, so sinks see at-least-once delivery.
type Sink interface {
	Deliver(ctx context.Context, events []Event) error
	Close() error
}

// LogSink logs the events. It is used when no broker is configured.
type LogSink struct{}

// Deliver implements Sink
func (LogSink) Deliver(ctx context.Context, events []Event) error {
	for _, e := range events {
		logger.FromContext(ctx).WithField("event", e.ID).
			Infof("%s %s %s state=%s request=%s", e.Resource, e.Operation, e.ResourceID, e.State, e.RequestID)
	}
	return nil
}

// Close implements Sink
func (LogSink) Close() error { return nil }

// MessageWriter is the part of kafka.Writer used by KafkaSink
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes events to a Kafka topic. Messages are keyed by resource id, which keeps
// the events of one record in one partition and therefore in order.
type KafkaSink struct {
	Writer MessageWriter
}

// NewKafkaSink returns a sink writing to topic on brokers
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{Writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}}
}

// Deliver implements Sink
func (s *KafkaSink) Deliver(ctx context.Context, events []Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		value, err := e.Marshal()
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.ResourceID.String()),
			Value: value,
			Time:  e.CreatedAt,
			Headers: []kafka.Header{
				{Key: "resource", Value: []byte(e.Resource)},
				{Key: "operation", Value: []byte(e.Operation)},
			},
		})
	}
	return s.Writer.WriteMessages(ctx, msgs...)
}

// Close implements Sink
func (s *KafkaSink) Close() error {
	return s.Writer.Close()
}

// MessageSender is the part of the SQS client used by SQSSink
type MessageSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSSink sends every event as one message to an SQS queue
type SQSSink struct {
	Client   MessageSender
	QueueURL string
}

// NewSQSSink returns a sink for the queue at queueURL. Without accessID the default
// credential chain is used.
func NewSQSSink(ctx context.Context, queueURL, region, accessID, accessKey string) (*SQSSink, error) {
	options := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if accessID != "" {
		options = append(options, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessID, accessKey, "")))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, err
	}
	return &SQSSink{Client: sqs.NewFromConfig(awsConfig), QueueURL: queueURL}, nil
}

// Deliver implements Sink. Events are sent one by one in order, so a failure leaves the
// events before it delivered; they are delivered again with the rest of the batch.
func (s *SQSSink) Deliver(ctx context.Context, events []Event) error {
	for _, e := range events {
		body, err := e.Marshal()
		if err != nil {
			return err
		}
		_, err = s.Client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(s.QueueURL),
			MessageBody: aws.String(string(body)),
			MessageAttributes: map[string]types.MessageAttributeValue{
				"resource":    {DataType: aws.String("String"), StringValue: aws.String(e.Resource)},
				"operation":   {DataType: aws.String("String"), StringValue: aws.String(string(e.Operation))},
				"resource_id": {DataType: aws.String("String"), StringValue: aws.String(e.ResourceID.String())},
			},
		})
		if err != nil {
			return fmt.Errorf("send event %s: %w", e.ID, err)
		}
	}
	return nil
}

// Close implements Sink
func (s *SQSSink) Close() error { return nil }
