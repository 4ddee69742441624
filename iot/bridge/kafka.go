package bridge

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/relabs-tech/awsiot/core/logger"
)

// KafkaWriter is the part of the kafka.Writer used by the sink
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes messages to a kafka topic. The thing name is the message key, so all
// messages of a thing go to the same partition.
type KafkaSink struct {
	writer KafkaWriter
}

// NewKafkaSink returns a sink writing to topic on brokers
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return NewKafkaSinkWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	})
}

// NewKafkaSinkWithWriter returns a sink on top of an existing writer
func NewKafkaSinkWithWriter(writer KafkaWriter) *KafkaSink {
	return &KafkaSink{writer: writer}
}

// Name implements Sink
func (k *KafkaSink) Name() string { return "kafka" }

// Forward implements Sink
func (k *KafkaSink) Forward(ctx context.Context, msg Message) error {
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Thing),
		Value: msg.Payload,
		Headers: []kafka.Header{
			{Key: "mqtt_topic", Value: []byte(msg.Topic)},
			{Key: "logger_context", Value: logger.SerializeLoggerContext(ctx)},
		},
		Time: msg.ReceivedAt,
	})
}

// Close flushes and closes the writer
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
