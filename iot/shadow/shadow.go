/*
Package shadow implements the device side of the AWS IoT device shadow

The device reports its state and receives the state desired by the cloud as a delta. All
responses of the shadow service arrive asynchronously on subscriptions, which are served
while the application yields the client.
*/
package shadow

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/relabs-tech/awsiot/core/logger"
	"github.com/relabs-tech/awsiot/iot/awsiot"
)

// Client is the part of the awsiot.Client used by the shadow
type Client interface {
	Publish(ctx context.Context, topic string, payload []byte, params awsiot.PublishParams) error
	Subscribe(ctx context.Context, topic string, qos awsiot.QoS, handler awsiot.SubscriberCallback) error
	Unsubscribe(ctx context.Context, topic string) error
}

// State is the state section of a shadow document
type State struct {
	Desired  json.RawMessage `json:"desired,omitempty"`
	Reported json.RawMessage `json:"reported,omitempty"`
	Delta    json.RawMessage `json:"delta,omitempty"`
}

// Document is a shadow document as returned by get and update
type Document struct {
	State       State  `json:"state"`
	Version     int64  `json:"version,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
	ClientToken string `json:"clientToken,omitempty"`
}

// Delta is the difference between the desired and the reported state
type Delta struct {
	State       json.RawMessage `json:"state"`
	Version     int64           `json:"version"`
	Timestamp   int64           `json:"timestamp"`
	ClientToken string          `json:"clientToken,omitempty"`
}

// ErrorResponse is the payload of the rejected topics
type ErrorResponse struct {
	Code        int    `json:"code"`
	Message     string `json:"message"`
	ClientToken string `json:"clientToken,omitempty"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("shadow request rejected with %d: %s", e.Code, e.Message)
}

// Shadow is a device shadow of a thing
type Shadow struct {
	client Client
	topics Topics
}

// New returns the classic shadow of thing
func New(client Client, thing string) *Shadow {
	return &Shadow{client: client, topics: ClassicTopics(thing)}
}

// NewNamed returns the named shadow of thing
func NewNamed(client Client, thing, name string) *Shadow {
	return &Shadow{client: client, topics: NamedTopics(thing, name)}
}

// Topics returns the topics of the shadow
func (s *Shadow) Topics() Topics {
	return s.topics
}

type update struct {
	State       State  `json:"state"`
	ClientToken string `json:"clientToken"`
}

func (s *Shadow) update(ctx context.Context, state State) (string, error) {
	token := uuid.New().String()
	body, err := json.Marshal(update{State: state, ClientToken: token})
	if err != nil {
		return "", err
	}
	return token, s.client.Publish(ctx, s.topics.Update(), body, awsiot.PublishParams{QoS: awsiot.QoSAtLeastOnce})
}

// Report publishes the reported state. state is encoded as JSON. It returns the client token of
// the request.
func (s *Shadow) Report(ctx context.Context, state interface{}) (string, error) {
	body, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	return s.update(ctx, State{Reported: body})
}

// Desire publishes the desired state
func (s *Shadow) Desire(ctx context.Context, state interface{}) (string, error) {
	body, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	return s.update(ctx, State{Desired: body})
}

// Get requests the shadow document. The answer is handed to the handler registered with OnGet.
func (s *Shadow) Get(ctx context.Context) error {
	return s.client.Publish(ctx, s.topics.Get(), []byte{}, awsiot.PublishParams{QoS: awsiot.QoSAtLeastOnce})
}

// Delete deletes the shadow
func (s *Shadow) Delete(ctx context.Context) error {
	return s.client.Publish(ctx, s.topics.Delete(), []byte{}, awsiot.PublishParams{QoS: awsiot.QoSAtLeastOnce})
}

// OnDelta subscribes to the delta topic
func (s *Shadow) OnDelta(ctx context.Context, handler func(delta *Delta)) error {
	return s.client.Subscribe(ctx, s.topics.UpdateDelta(), awsiot.QoSAtLeastOnce, func(msg *awsiot.Message) {
		var delta Delta
		if err := json.Unmarshal(msg.Payload, &delta); err != nil {
			logger.Default().WithField("topic", msg.Topic).Errorln("invalid shadow delta:", err)
			return
		}
		handler(&delta)
	})
}

// OnGet subscribes to the responses of Get. handler receives either the document or the
// *ErrorResponse of the shadow service.
func (s *Shadow) OnGet(ctx context.Context, handler func(doc *Document, err error)) error {
	return s.onResponse(ctx, s.topics.GetAccepted(), s.topics.GetRejected(), handler)
}

// OnUpdate subscribes to the responses of Report and Desire
func (s *Shadow) OnUpdate(ctx context.Context, handler func(doc *Document, err error)) error {
	return s.onResponse(ctx, s.topics.UpdateAccepted(), s.topics.UpdateRejected(), handler)
}

func (s *Shadow) onResponse(ctx context.Context, accepted, rejected string, handler func(doc *Document, err error)) error {
	err := s.client.Subscribe(ctx, accepted, awsiot.QoSAtLeastOnce, func(msg *awsiot.Message) {
		var doc Document
		if err := json.Unmarshal(msg.Payload, &doc); err != nil {
			handler(nil, fmt.Errorf("invalid shadow document: %w", err))
			return
		}
		handler(&doc, nil)
	})
	if err != nil {
		return err
	}
	err = s.client.Subscribe(ctx, rejected, awsiot.QoSAtLeastOnce, func(msg *awsiot.Message) {
		response := &ErrorResponse{}
		if err := json.Unmarshal(msg.Payload, response); err != nil {
			handler(nil, fmt.Errorf("invalid shadow error response: %w", err))
			return
		}
		handler(nil, response)
	})
	if err != nil {
		s.client.Unsubscribe(ctx, accepted)
	}
	return err
}
