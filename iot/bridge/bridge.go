// Package bridge forwards MQTT messages received by a device client to backend queues.
package bridge

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/awsiot/core/logger"
	"github.com/relabs-tech/awsiot/core/metrics"
	"github.com/relabs-tech/awsiot/iot/awsiot"
)

// Message is a forwarded message
type Message struct {
	Thing      string    `json:"thing"`
	Topic      string    `json:"topic"`
	Payload    []byte    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

// Sink receives forwarded messages
type Sink interface {
	// Name is used for logging and metrics
	Name() string
	Forward(ctx context.Context, msg Message) error
}

// Builder is a builder helper for the Bridge
type Builder struct {
	// Thing is the name of the receiving thing
	Thing string
	// Timeout limits a single forward. Default is 5 seconds.
	Timeout time.Duration
	Metrics *metrics.Metrics
	Logger  *logrus.Entry
}

// Bridge creates subscriber callbacks which forward to sinks
type Bridge struct {
	thing   string
	timeout time.Duration
	metrics *metrics.Metrics
	log     *logrus.Entry
	now     func() time.Time
}

// New returns a new bridge
func New(b *Builder) *Bridge {
	bridge := &Bridge{
		thing:   b.Thing,
		timeout: b.Timeout,
		metrics: b.Metrics,
		log:     b.Logger,
		now:     time.Now,
	}
	if bridge.timeout <= 0 {
		bridge.timeout = 5 * time.Second
	}
	if bridge.log == nil {
		bridge.log = logger.Default()
	}
	return bridge
}

// Forward forwards msg to sink
func (b *Bridge) Forward(ctx context.Context, sink Sink, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	err := sink.Forward(ctx, msg)
	b.metrics.ObserveForward(sink.Name(), err)
	if err != nil {
		b.log.WithField("topic", msg.Topic).Errorf("forward to %s failed: %v", sink.Name(), err)
	}
	return err
}

// Handler returns a subscriber callback which forwards all messages to every sink. A client
// keeps one handler per topic filter, so a filter feeding several sinks needs a single handler
// for all of them. Failed forwards are logged and counted, the message is lost for that sink.
func (b *Bridge) Handler(sinks ...Sink) awsiot.SubscriberCallback {
	return func(m *awsiot.Message) {
		ctx, _ := logger.ContextWithLoggerIdentity(context.Background(), b.thing)
		msg := Message{
			Thing:      b.thing,
			Topic:      m.Topic,
			Payload:    m.Payload,
			ReceivedAt: b.now().UTC(),
		}
		for _, sink := range sinks {
			b.Forward(ctx, sink, msg)
		}
	}
}
