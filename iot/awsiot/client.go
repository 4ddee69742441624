package awsiot

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/awsiot/core/logger"
	"github.com/relabs-tech/awsiot/core/metrics"
	"github.com/relabs-tech/awsiot/iot/awserr"
	"github.com/relabs-tech/awsiot/iot/store"
)

// Builder is a builder helper for the Client
type Builder struct {
	// ThingName is the name of the thing in AWS IoT. It is the default MQTT client id and the
	// subject of discovery requests.
	ThingName string
	// CertificatePEM and PrivateKeyPEM are the thing's X.509 credentials
	CertificatePEM []byte
	PrivateKeyPEM  []byte
	// CommandTimeout is the time to wait for acknowledgements. Default is DefaultCommandTimeout.
	CommandTimeout time.Duration
	// Retries is the number of connection attempts. Default is DefaultRetries.
	Retries int
	// QueueSize is the number of inbound messages buffered between two yields.
	// Default is DefaultQueueSize.
	QueueSize int
	// Logger is optional, the default logger is used otherwise
	Logger *logrus.Entry
	// Metrics is optional
	Metrics *metrics.Metrics
	// Cache optionally stores discovery results
	Cache store.Driver
	// OnEvent optionally receives the client events
	OnEvent EventHandler
	// AWSCredentials and AWSRegion sign websocket connections
	AWSCredentials aws.CredentialsProvider
	AWSRegion      string
}

// Client is an AWS IoT device client. It holds at most one MQTT session at a time.
type Client struct {
	thing     string
	cert      tls.Certificate
	retries   int
	queueSize int
	log       *logrus.Entry
	metrics   *metrics.Metrics
	cache     store.Driver
	onEvent   EventHandler
	awsCreds  aws.CredentialsProvider
	awsRegion string

	newClient func(*mqtt.ClientOptions) mqtt.Client
	now       func() time.Time

	mu             sync.Mutex
	commandTimeout time.Duration
	connecting     bool
	session        *session
	handlers       map[string]SubscriberCallback
}

// New creates a new client. It returns an InvalidClientKey error if the certificate and the
// private key do not form a valid key pair.
func New(b *Builder) (*Client, error) {
	cert, err := tls.X509KeyPair(b.CertificatePEM, b.PrivateKeyPEM)
	if err != nil {
		return nil, awserr.New(awserr.InvalidClientKey, "new", err)
	}
	c := &Client{
		thing:          b.ThingName,
		cert:           cert,
		retries:        b.Retries,
		queueSize:      b.QueueSize,
		log:            b.Logger,
		metrics:        b.Metrics,
		cache:          b.Cache,
		onEvent:        b.OnEvent,
		awsCreds:       b.AWSCredentials,
		awsRegion:      b.AWSRegion,
		newClient:      mqtt.NewClient,
		now:            time.Now,
		commandTimeout: b.CommandTimeout,
		handlers:       map[string]SubscriberCallback{},
	}
	if c.retries <= 0 {
		c.retries = DefaultRetries
	}
	if c.queueSize <= 0 {
		c.queueSize = DefaultQueueSize
	}
	if c.commandTimeout <= 0 {
		c.commandTimeout = DefaultCommandTimeout
	}
	if c.log == nil {
		c.log = logger.Default()
	}
	if c.thing != "" {
		c.log = c.log.WithField("thing", c.thing)
	}
	return c, nil
}

// SetCommandTimeout sets the time to wait for acknowledgements of the broker
func (c *Client) SetCommandTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultCommandTimeout
	}
	c.mu.Lock()
	c.commandTimeout = d
	c.mu.Unlock()
}

// ThingName returns the name of the thing
func (c *Client) ThingName() string {
	return c.thing
}

func (c *Client) emit(e Event) {
	if c.onEvent != nil {
		c.onEvent(e)
	}
}

// current returns the active session and the command timeout
func (c *Client) current() (*session, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session, c.commandTimeout
}

// clientID returns the MQTT client id
func (c *Client) clientID(params ConnectParams) string {
	switch {
	case params.ClientID != "":
		return params.ClientID
	case c.thing != "":
		return c.thing
	default:
		return "awsiot-" + uuid.New().String()
	}
}

func (c *Client) clientOptions(ctx context.Context, op string, ep *Endpoint, params ConnectParams) (*mqtt.ClientOptions, error) {
	serverName := params.PeerCN
	if serverName == "" {
		serverName = ep.URI
	}
	opts := mqtt.NewClientOptions()

	switch ep.Transport {
	case TransportMQTTNative:
		alpn := params.ALPN
		if alpn == "" && ep.Port == DefaultWebsocketPort {
			alpn = ALPNMQTT
		}
		config, err := tlsConfig(op, ep.RootCA, &c.cert, serverName, alpn)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(config)
		opts.AddBroker("ssl://" + net.JoinHostPort(ep.URI, strconv.Itoa(ep.Port)))
	case TransportMQTTWebsocket:
		config, err := tlsConfig(op, ep.RootCA, nil, serverName, params.ALPN)
		if err != nil {
			return nil, err
		}
		brokerURL, err := presignWebsocketURL(ctx, c.awsCreds, c.awsRegion, ep, c.now())
		if err != nil {
			return nil, awserr.New(awserr.ConnectFailed, op, err)
		}
		opts.SetTLSConfig(config)
		opts.AddBroker(brokerURL)
	default:
		return nil, awserr.Errorf(awserr.InvalidEndpoint, op, "cannot connect with transport %s", ep.Transport)
	}

	keepAlive := params.KeepAlive
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	opts.SetClientID(c.clientID(params))
	opts.SetProtocolVersion(4)
	opts.SetCleanSession(params.CleanSession)
	opts.SetKeepAlive(keepAlive)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(c.commandTimeout)
	opts.SetWriteTimeout(c.commandTimeout)
	if params.Username != "" {
		opts.SetUsername(params.Username)
	}
	if params.Password != "" {
		opts.SetPassword(params.Password)
	}
	return opts, nil
}

// Connect opens an MQTT session to ep. The connection is attempted up to the configured number
// of retries with exponential backoff.
func (c *Client) Connect(ctx context.Context, ep *Endpoint, params ConnectParams) error {
	const op = "connect"
	if ep == nil {
		return awserr.Errorf(awserr.InvalidEndpoint, op, "endpoint missing")
	}
	rlog := c.log.WithField("endpoint", ep.String())

	// a lost session nobody yielded on yet must not block the reconnect
	if s, _ := c.current(); s != nil && s.isLost() {
		c.teardown(s)
	}

	c.mu.Lock()
	if c.session != nil || c.connecting {
		c.mu.Unlock()
		return awserr.Errorf(awserr.ConnectFailed, op, "already connected")
	}
	c.connecting = true
	timeout := c.commandTimeout
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
	}()

	opts, err := c.clientOptions(ctx, op, ep, params)
	if err != nil {
		c.emit(Event{Type: EventConnected, Err: err})
		return err
	}
	s := newSession(ep, c.queueSize, c.metrics, rlog)
	opts.SetDefaultPublishHandler(s.onMessage)
	opts.SetConnectionLostHandler(s.onConnectionLost)
	conn := c.newClient(opts)

	attempt := 0
	operation := func() error {
		attempt++
		err := wait(ctx, conn.Connect(), timeout)
		c.metrics.ObserveConnect(err)
		if err != nil {
			rlog.Warnf("connection attempt %d of %d failed: %v", attempt, c.retries, err)
		}
		return err
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	err = backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.retries-1)), ctx))
	if err != nil {
		// the last attempt may still complete in the background after a timeout
		conn.Disconnect(0)
		err = awserr.New(awserr.ConnectFailed, op, err)
		rlog.Errorln(err)
		c.emit(Event{Type: EventConnected, Err: err})
		return err
	}
	s.conn = conn

	c.mu.Lock()
	c.session = s
	c.mu.Unlock()

	rlog.Infoln("connected as", opts.ClientID)
	c.emit(Event{Type: EventConnected})
	return nil
}

// IsConnected returns true if the client holds a session which has not been lost
func (c *Client) IsConnected() bool {
	s, _ := c.current()
	return s != nil && !s.isLost()
}

// Publish publishes payload to topic and waits for the acknowledgement of the broker if the
// QoS requires one
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, params PublishParams) error {
	const op = "publish"
	err := c.publish(ctx, op, topic, payload, params)
	c.metrics.ObservePublish(params.QoS.String(), err)
	if err != nil {
		c.log.WithField("topic", topic).Errorln(err)
	}
	c.emit(Event{Type: EventPublished, Topic: topic, Err: err})
	return err
}

func (c *Client) publish(ctx context.Context, op string, topic string, payload []byte, params PublishParams) error {
	if topic == "" {
		return awserr.Errorf(awserr.PublishFailed, op, "topic missing")
	}
	if !params.QoS.Valid() {
		return awserr.Errorf(awserr.PublishFailed, op, "invalid QoS 0x%x", byte(params.QoS))
	}
	s, timeout := c.current()
	if s == nil {
		return awserr.Errorf(awserr.PublishFailed, op, "not connected")
	}
	if err := wait(ctx, s.conn.Publish(topic, byte(params.QoS), params.Retain, payload), timeout); err != nil {
		return awserr.New(awserr.PublishFailed, op, err)
	}
	return nil
}

// Subscribe subscribes to the topic filter. Messages are handed to handler during Yield.
func (c *Client) Subscribe(ctx context.Context, topic string, qos QoS, handler SubscriberCallback) error {
	const op = "subscribe"
	err := c.subscribe(ctx, op, topic, qos, handler)
	if err != nil {
		c.log.WithField("topic", topic).Errorln(err)
	} else {
		c.log.WithField("topic", topic).Debugln("subscribed")
	}
	c.emit(Event{Type: EventSubscribed, Topic: topic, Err: err})
	return err
}

func (c *Client) subscribe(ctx context.Context, op string, topic string, qos QoS, handler SubscriberCallback) error {
	if handler == nil {
		return awserr.Errorf(awserr.SubscribeFailed, op, "handler missing")
	}
	if !validFilter(topic) {
		return awserr.Errorf(awserr.SubscribeFailed, op, "invalid topic filter %q", topic)
	}
	if !qos.Valid() {
		return awserr.Errorf(awserr.SubscribeFailed, op, "invalid QoS 0x%x", byte(qos))
	}
	s, timeout := c.current()
	if s == nil {
		return awserr.Errorf(awserr.SubscribeFailed, op, "not connected")
	}
	token := s.conn.Subscribe(topic, byte(qos), nil)
	if err := wait(ctx, token, timeout); err != nil {
		return awserr.New(awserr.SubscribeFailed, op, err)
	}
	if st, ok := token.(*mqtt.SubscribeToken); ok {
		if granted, found := st.Result()[topic]; found && QoS(granted) == QoSInvalid {
			return awserr.Errorf(awserr.SubscribeFailed, op, "subscription rejected by broker")
		}
	}

	c.mu.Lock()
	c.handlers[topic] = handler
	c.mu.Unlock()
	return nil
}

// Unsubscribe removes the subscription of the topic filter
func (c *Client) Unsubscribe(ctx context.Context, topic string) error {
	const op = "unsubscribe"
	err := c.unsubscribe(ctx, op, topic)
	if err != nil {
		c.log.WithField("topic", topic).Errorln(err)
	}
	c.emit(Event{Type: EventUnsubscribed, Topic: topic, Err: err})
	return err
}

func (c *Client) unsubscribe(ctx context.Context, op string, topic string) error {
	if !validFilter(topic) {
		return awserr.Errorf(awserr.UnsubscribeFailed, op, "invalid topic filter %q", topic)
	}
	s, timeout := c.current()
	if s == nil {
		return awserr.Errorf(awserr.UnsubscribeFailed, op, "not connected")
	}
	if err := wait(ctx, s.conn.Unsubscribe(topic), timeout); err != nil {
		return awserr.New(awserr.UnsubscribeFailed, op, err)
	}
	c.mu.Lock()
	delete(c.handlers, topic)
	c.mu.Unlock()
	return nil
}

// Disconnect ends the session. Subscriptions are forgotten.
func (c *Client) Disconnect(ctx context.Context) error {
	const op = "disconnect"
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.handlers = map[string]SubscriberCallback{}
	c.mu.Unlock()

	if s == nil {
		err := awserr.Errorf(awserr.DisconnectFailed, op, "not connected")
		c.emit(Event{Type: EventDisconnected, Err: err})
		return err
	}
	quiesce := 250 * time.Millisecond
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < quiesce {
		quiesce = 0
	}
	s.conn.Disconnect(uint(quiesce / time.Millisecond))
	c.log.Infoln("disconnected")
	c.emit(Event{Type: EventDisconnected})
	return nil
}

// teardown releases a lost session
func (c *Client) teardown(s *session) {
	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return
	}
	c.session = nil
	c.handlers = map[string]SubscriberCallback{}
	c.mu.Unlock()
	c.log.Warnln("connection lost:", s.lostError())
	c.emit(Event{Type: EventDisconnected, Err: awserr.New(awserr.Disconnected, "yield", s.lostError())})
}

// wait waits for token to complete
func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("no acknowledgement within %s", timeout)
	}
}
