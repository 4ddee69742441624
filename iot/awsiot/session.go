package awsiot

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/awsiot/core/metrics"
	"github.com/relabs-tech/awsiot/iot/awserr"
)

// session is one MQTT connection. Inbound messages are queued by the paho router and
// dispatched by Yield.
type session struct {
	conn     mqtt.Client
	endpoint *Endpoint
	inbound  chan *Message
	dropped  atomic.Int64
	metrics  *metrics.Metrics
	log      *logrus.Entry

	lostOnce sync.Once
	lost     chan struct{}
	lostErr  error
}

func newSession(ep *Endpoint, queueSize int, m *metrics.Metrics, log *logrus.Entry) *session {
	return &session{
		endpoint: ep,
		inbound:  make(chan *Message, queueSize),
		metrics:  m,
		log:      log,
		lost:     make(chan struct{}),
	}
}

// onMessage is called by paho for every arrived publish. It must not block.
func (s *session) onMessage(_ mqtt.Client, m mqtt.Message) {
	msg := &Message{
		Topic:     m.Topic(),
		Payload:   m.Payload(),
		QoS:       QoS(m.Qos()),
		Retained:  m.Retained(),
		Duplicate: m.Duplicate(),
		MessageID: m.MessageID(),
	}
	select {
	case s.inbound <- msg:
		s.metrics.IncMessagesReceived()
	default:
		s.dropped.Add(1)
		s.metrics.IncMessagesDropped()
		s.log.WithField("topic", msg.Topic).Warnln("inbound queue full, message dropped")
	}
}

func (s *session) onConnectionLost(_ mqtt.Client, err error) {
	s.lostOnce.Do(func() {
		s.lostErr = err
		close(s.lost)
	})
}

func (s *session) isLost() bool {
	select {
	case <-s.lost:
		return true
	default:
		return false
	}
}

// lostError must only be called after lost was closed
func (s *session) lostError() error {
	return s.lostErr
}

// Yield hands queued inbound messages to their subscribers until timeout elapses. Subscriber
// callbacks run on the calling goroutine.
//
// Yield returns Disconnected when the connection was lost, and BufferOverflow when messages were
// dropped since the previous call because the inbound queue was full.
func (c *Client) Yield(timeout time.Duration) error {
	return c.yield(context.Background(), timeout)
}

// Run yields until ctx is done or a yield fails. It returns nil when ctx is done.
func (c *Client) Run(ctx context.Context, timeout time.Duration) error {
	if timeout < MinYieldTimeout {
		return awserr.Errorf(awserr.InvalidYieldTimeout, "run", "timeout %s below %s", timeout, MinYieldTimeout)
	}
	for ctx.Err() == nil {
		if err := c.yield(ctx, timeout); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
	return nil
}

func (c *Client) yield(ctx context.Context, timeout time.Duration) error {
	const op = "yield"
	if timeout < MinYieldTimeout {
		return awserr.Errorf(awserr.InvalidYieldTimeout, op, "timeout %s below %s", timeout, MinYieldTimeout)
	}
	s, _ := c.current()
	if s == nil {
		return awserr.Errorf(awserr.Disconnected, op, "not connected")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for done := false; !done; {
		// queued messages are delivered before a loss is reported
		select {
		case msg := <-s.inbound:
			c.dispatch(msg)
			continue
		default:
		}
		select {
		case msg := <-s.inbound:
			c.dispatch(msg)
		case <-s.lost:
			if len(s.inbound) == 0 {
				c.teardown(s)
				return awserr.New(awserr.Disconnected, op, s.lostError())
			}
		case <-timer.C:
			done = true
		case <-ctx.Done():
			done = true
		}
	}

	// a cancelled Run leaves the overflow for the next yield
	if ctx.Err() != nil {
		return nil
	}
	if n := s.dropped.Swap(0); n > 0 {
		return awserr.Errorf(awserr.BufferOverflow, op, "%d inbound messages dropped", n)
	}
	return nil
}

// dispatch hands msg to every handler whose filter matches its topic
func (c *Client) dispatch(msg *Message) {
	c.mu.Lock()
	var handlers []SubscriberCallback
	for filter, h := range c.handlers {
		if topicMatches(filter, msg.Topic) {
			handlers = append(handlers, h)
		}
	}
	c.mu.Unlock()

	if len(handlers) == 0 {
		c.log.WithField("topic", msg.Topic).Debugln("no subscriber for message")
		return
	}
	for _, h := range handlers {
		h(msg)
	}
	c.emit(Event{Type: EventPayloadReceived, Topic: msg.Topic, Message: msg})
}

// validFilter checks an MQTT topic filter. '#' must be the last level, wildcards must occupy a
// whole level.
func validFilter(filter string) bool {
	if filter == "" {
		return false
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return false
		}
		if strings.Contains(level, "+") && level != "+" {
			return false
		}
	}
	return true
}

// topicMatches reports whether topic matches filter. Topics starting with '$' are not matched by
// wildcards in the first level.
func topicMatches(filter, topic string) bool {
	if strings.HasPrefix(topic, "$") && (strings.HasPrefix(filter, "+") || strings.HasPrefix(filter, "#")) {
		return false
	}
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i, level := range f {
		if level == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}
