package bridge

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/awsiot/core/metrics"
	"github.com/relabs-tech/awsiot/iot/awsiot"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("forward without deadline")
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, params)
	return &sqs.SendMessageOutput{}, nil
}

func newTestBridge() (*Bridge, *metrics.Metrics) {
	m := metrics.New()
	b := New(&Builder{Thing: "dev-1", Metrics: m})
	b.now = func() time.Time { return time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC) }
	return b, m
}

func TestKafkaSink(t *testing.T) {
	b, m := newTestBridge()
	writer := &fakeWriter{}
	sink := NewKafkaSinkWithWriter(writer)

	handler := b.Handler(sink)
	handler(&awsiot.Message{Topic: "telemetry/dev-1", Payload: []byte(`{"t":21}`)})

	require.Len(t, writer.messages, 1)
	msg := writer.messages[0]
	assert.Equal(t, "dev-1", string(msg.Key))
	assert.Equal(t, `{"t":21}`, string(msg.Value))
	assert.Equal(t, "mqtt_topic", msg.Headers[0].Key)
	assert.Equal(t, "telemetry/dev-1", string(msg.Headers[0].Value))
	assert.Equal(t, "logger_context", msg.Headers[1].Key)
	assert.Contains(t, string(msg.Headers[1].Value), "dev-1")

	writer.err = errors.New("leader not available")
	handler(&awsiot.Message{Topic: "telemetry/dev-1", Payload: []byte(`{}`)})
	expected := `
# HELP awsiot_bridge_forwarded_total Count of messages forwarded by the bridge by sink and result
# TYPE awsiot_bridge_forwarded_total counter
awsiot_bridge_forwarded_total{result="error",sink="kafka"} 1
awsiot_bridge_forwarded_total{result="ok",sink="kafka"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "awsiot_bridge_forwarded_total"))

	require.NoError(t, sink.Close())
	assert.True(t, writer.closed)
}

func TestSQSSink(t *testing.T) {
	b, _ := newTestBridge()
	client := &fakeSQS{}
	sink := NewSQSSinkWithClient(client, "https://sqs.eu-central-1.amazonaws.com/123456789012/telemetry")

	require.NoError(t, b.Forward(context.Background(), sink, Message{
		Thing:      "dev-1",
		Topic:      "telemetry/dev-1",
		Payload:    []byte("raw"),
		ReceivedAt: b.now(),
	}))
	require.Len(t, client.inputs, 1)
	input := client.inputs[0]
	assert.Equal(t, "https://sqs.eu-central-1.amazonaws.com/123456789012/telemetry", *input.QueueUrl)
	assert.Equal(t, "dev-1", *input.MessageAttributes["thing"].StringValue)

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(*input.MessageBody), &msg))
	assert.Equal(t, "raw", string(msg.Payload))
	assert.Equal(t, "telemetry/dev-1", msg.Topic)
	assert.True(t, msg.ReceivedAt.Equal(b.now()))
}

func TestHandler_MultipleSinks(t *testing.T) {
	b, m := newTestBridge()
	failing := &fakeWriter{err: errors.New("leader not available")}
	client := &fakeSQS{}
	handler := b.Handler(NewKafkaSinkWithWriter(failing), NewSQSSinkWithClient(client, "https://sqs.eu-central-1.amazonaws.com/123456789012/commands"))

	handler(&awsiot.Message{Topic: "commands/dev-1/reboot", Payload: []byte("now")})

	// a failing sink does not keep the message from the others
	require.Len(t, client.inputs, 1)
	assert.Equal(t, "commands/dev-1/reboot", *client.inputs[0].MessageAttributes["topic"].StringValue)
	expected := `
# HELP awsiot_bridge_forwarded_total Count of messages forwarded by the bridge by sink and result
# TYPE awsiot_bridge_forwarded_total counter
awsiot_bridge_forwarded_total{result="error",sink="kafka"} 1
awsiot_bridge_forwarded_total{result="ok",sink="sqs"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "awsiot_bridge_forwarded_total"))
}

func TestNewSQSSink_QueueRequired(t *testing.T) {
	_, err := NewSQSSink(context.Background(), SQSConfiguration{AWSRegion: "eu-central-1"})
	assert.Error(t, err)
}
