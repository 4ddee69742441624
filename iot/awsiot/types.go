package awsiot

import (
	"strconv"
	"time"
)

// Transport is the protocol used to talk to an endpoint
type Transport int

// all transports
const (
	// TransportMQTTNative is MQTT over TLS sockets
	TransportMQTTNative Transport = iota
	// TransportMQTTWebsocket is MQTT over secure websockets, authenticated with SigV4
	TransportMQTTWebsocket
	// TransportRESTfulHTTPS are the AWS RESTful HTTPS APIs, used for discovery only
	TransportRESTfulHTTPS
	// TransportInvalid is an invalid transport
	TransportInvalid
)

func (t Transport) String() string {
	switch t {
	case TransportMQTTNative:
		return "mqtt"
	case TransportMQTTWebsocket:
		return "mqtt-websocket"
	case TransportRESTfulHTTPS:
		return "https"
	default:
		return "invalid"
	}
}

// QoS is the quality of service level for publish and subscribe
type QoS byte

// all QoS levels
const (
	QoSAtMostOnce  QoS = 0x00
	QoSAtLeastOnce QoS = 0x01
	QoSExactlyOnce QoS = 0x02
	QoSInvalid     QoS = 0x80
)

// Valid returns true for QoS 0, 1 and 2
func (q QoS) Valid() bool {
	return q <= QoSExactlyOnce
}

func (q QoS) String() string {
	if !q.Valid() {
		return "invalid"
	}
	return strconv.Itoa(int(q))
}

// EventType is the type of an Event
type EventType int

// all event types
const (
	// EventConnected means the connection has been accepted by the broker
	EventConnected EventType = iota
	// EventDisconnected means the session ended, either on request or because of a network failure
	EventDisconnected
	// EventPublished means a publish was acknowledged or failed
	EventPublished
	// EventSubscribed means a subscription was acknowledged or failed
	EventSubscribed
	// EventUnsubscribed means an unsubscription was acknowledged or failed
	EventUnsubscribed
	// EventPayloadReceived means a message was delivered to a subscriber
	EventPayloadReceived
)

func (e EventType) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventPublished:
		return "published"
	case EventSubscribed:
		return "subscribed"
	case EventUnsubscribed:
		return "unsubscribed"
	case EventPayloadReceived:
		return "payload received"
	default:
		return "unknown"
	}
}

// Event is passed to the EventHandler of a client
type Event struct {
	Type EventType
	// Err is the status of the operation, nil on success
	Err error
	// Topic of the publish, subscribe or unsubscribe
	Topic string
	// Message is set for EventPayloadReceived
	Message *Message
}

// EventHandler receives client events
type EventHandler func(Event)

// ConnectParams are the MQTT connect parameters
type ConnectParams struct {
	// KeepAlive is the keep alive interval to the broker. Default is DefaultKeepAlive.
	KeepAlive time.Duration
	// CleanSession starts a clean session
	CleanSession bool
	Username     string
	Password     string
	// ALPN is the TLS application protocol. Connecting to AWS IoT on port 443 requires
	// "x-amzn-mqtt-ca", which is also the default for native MQTT on that port.
	ALPN string
	// PeerCN is the expected common name of the server certificate. Defaults to the endpoint URI.
	PeerCN string
	// ClientID is the MQTT client id. Defaults to the thing name.
	ClientID string
}

// PublishParams are the MQTT publish parameters
type PublishParams struct {
	QoS    QoS
	Retain bool
}

// Message is a message received on a subscription
type Message struct {
	Topic     string
	Payload   []byte
	QoS       QoS
	Retained  bool
	Duplicate bool
	MessageID uint16
}

// SubscriberCallback receives the messages of a subscription
type SubscriberCallback func(msg *Message)

// defaults
const (
	DefaultKeepAlive      = 5 * time.Second
	DefaultCommandTimeout = 5000 * time.Millisecond
	DefaultRetries        = 3
	DefaultQueueSize      = 64
	MinYieldTimeout       = 1000 * time.Millisecond
	DefaultMQTTPort       = 8883
	DefaultWebsocketPort  = 443
	// ALPNMQTT is the ALPN protocol for MQTT with X.509 client certificates on port 443
	ALPNMQTT = "x-amzn-mqtt-ca"
)
