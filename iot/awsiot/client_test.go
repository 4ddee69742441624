package awsiot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/awsiot/core/metrics"
	"github.com/relabs-tech/awsiot/iot/awserr"
)

func connect(t *testing.T, c *Client, env *testEnv, params ConnectParams) {
	ep, err := CreateEndpoint(TransportMQTTNative, "127.0.0.1", 0, env.ca.CertPEM)
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background(), ep, params))
}

// events collects client events
type events struct {
	mu   sync.Mutex
	list []Event
}

func (e *events) handle(ev Event) {
	e.mu.Lock()
	e.list = append(e.list, ev)
	e.mu.Unlock()
}

func (e *events) types() []EventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	var types []EventType
	for _, ev := range e.list {
		types = append(types, ev.Type)
	}
	return types
}

func TestNew_InvalidClientKey(t *testing.T) {
	_, err := New(&Builder{ThingName: "dev-1", CertificatePEM: []byte("nope"), PrivateKeyPEM: []byte("nope")})
	assert.True(t, errors.Is(err, awserr.ErrInvalidClientKey))
}

func TestConnect(t *testing.T) {
	ev := &events{}
	c, env := newTestClient(t, Builder{OnEvent: ev.handle})
	connect(t, c, env, ConnectParams{CleanSession: true})

	assert.True(t, c.IsConnected())
	assert.Equal(t, "dev-1", env.fake.opts.ClientID)
	assert.Equal(t, int64(5), env.fake.opts.KeepAlive)
	assert.True(t, env.fake.opts.CleanSession)
	assert.False(t, env.fake.opts.AutoReconnect)
	require.Len(t, env.fake.opts.Servers, 1)
	assert.Equal(t, "ssl://127.0.0.1:8883", env.fake.opts.Servers[0].String())
	assert.Equal(t, "127.0.0.1", env.fake.opts.TLSConfig.ServerName)
	assert.Empty(t, env.fake.opts.TLSConfig.NextProtos)
	assert.Equal(t, []EventType{EventConnected}, ev.types())

	err := c.Connect(context.Background(), &Endpoint{Transport: TransportMQTTNative, URI: "x", Port: 8883}, ConnectParams{})
	assert.True(t, errors.Is(err, awserr.ErrConnectFailed), "second connect: %v", err)
}

func TestConnect_Port443UsesALPN(t *testing.T) {
	c, env := newTestClient(t, Builder{})
	ep, err := CreateEndpoint(TransportMQTTNative, "abc-ats.iot.eu-central-1.amazonaws.com", 443, env.ca.CertPEM)
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background(), ep, ConnectParams{ClientID: "sensor", PeerCN: "*.iot.eu-central-1.amazonaws.com"}))

	assert.Equal(t, []string{ALPNMQTT}, env.fake.opts.TLSConfig.NextProtos)
	assert.Equal(t, "sensor", env.fake.opts.ClientID)
	assert.Equal(t, "*.iot.eu-central-1.amazonaws.com", env.fake.opts.TLSConfig.ServerName)
}

func TestConnect_Retries(t *testing.T) {
	m := metrics.New()
	c, env := newTestClient(t, Builder{Metrics: m})
	refused := errors.New("connection refused")
	env.fake.connectErrs = []error{refused, refused}
	connect(t, c, env, ConnectParams{})
	assert.Equal(t, 3, env.fake.connects)

	c, env = newTestClient(t, Builder{Retries: 2})
	env.fake.connectErrs = []error{refused, refused, refused}
	ep, err := CreateEndpoint(TransportMQTTNative, "127.0.0.1", 0, env.ca.CertPEM)
	require.NoError(t, err)
	err = c.Connect(context.Background(), ep, ConnectParams{})
	assert.True(t, errors.Is(err, awserr.ErrConnectFailed))
	assert.True(t, errors.Is(err, refused))
	assert.Equal(t, 2, env.fake.connects)
	assert.False(t, c.IsConnected())
	assert.True(t, env.fake.disconnected, "failed connection is released")
}

func TestConnect_InvalidRootCA(t *testing.T) {
	c, _ := newTestClient(t, Builder{})
	ep, err := CreateEndpoint(TransportMQTTNative, "127.0.0.1", 0, nil)
	require.NoError(t, err)
	err = c.Connect(context.Background(), ep, ConnectParams{})
	assert.True(t, errors.Is(err, awserr.ErrInvalidRootCA))

	ep, err = CreateEndpoint(TransportMQTTNative, "127.0.0.1", 0, []byte("garbage"))
	require.NoError(t, err)
	err = c.Connect(context.Background(), ep, ConnectParams{})
	assert.True(t, errors.Is(err, awserr.ErrInvalidRootCA))
}

func TestConnect_WebsocketWithoutCredentials(t *testing.T) {
	c, env := newTestClient(t, Builder{})
	ep, err := CreateEndpoint(TransportMQTTWebsocket, "abc-ats.iot.eu-central-1.amazonaws.com", 0, env.ca.CertPEM)
	require.NoError(t, err)
	err = c.Connect(context.Background(), ep, ConnectParams{})
	assert.True(t, errors.Is(err, awserr.ErrConnectFailed))
	assert.Nil(t, env.fake.opts)
}

func TestPublish(t *testing.T) {
	ev := &events{}
	c, env := newTestClient(t, Builder{OnEvent: ev.handle})
	ctx := context.Background()

	err := c.Publish(ctx, "telemetry", []byte("{}"), PublishParams{QoS: QoSAtLeastOnce})
	assert.True(t, errors.Is(err, awserr.ErrPublishFailed), "not connected: %v", err)

	connect(t, c, env, ConnectParams{})
	require.NoError(t, c.Publish(ctx, "telemetry", []byte("{}"), PublishParams{QoS: QoSAtLeastOnce}))
	assert.Equal(t, []string{"telemetry"}, env.fake.published)

	err = c.Publish(ctx, "telemetry", []byte("{}"), PublishParams{QoS: QoSInvalid})
	assert.True(t, errors.Is(err, awserr.ErrPublishFailed))

	env.fake.hang = true
	c.SetCommandTimeout(50 * time.Millisecond)
	err = c.Publish(ctx, "telemetry", []byte("{}"), PublishParams{QoS: QoSAtLeastOnce})
	assert.True(t, errors.Is(err, awserr.ErrPublishFailed), "timeout: %v", err)

	assert.Equal(t, []EventType{EventPublished, EventConnected, EventPublished, EventPublished, EventPublished}, ev.types())
	assert.NoError(t, ev.list[2].Err)
	assert.Error(t, ev.list[4].Err)
}

func TestSubscribeUnsubscribe(t *testing.T) {
	c, env := newTestClient(t, Builder{})
	ctx := context.Background()
	handler := func(*Message) {}

	err := c.Subscribe(ctx, "commands/#", QoSAtLeastOnce, handler)
	assert.True(t, errors.Is(err, awserr.ErrSubscribeFailed))

	connect(t, c, env, ConnectParams{})
	require.NoError(t, c.Subscribe(ctx, "commands/#", QoSAtLeastOnce, handler))
	assert.Contains(t, c.handlers, "commands/#")

	err = c.Subscribe(ctx, "commands/#/x", QoSAtLeastOnce, handler)
	assert.True(t, errors.Is(err, awserr.ErrSubscribeFailed))
	err = c.Subscribe(ctx, "commands", QoSAtLeastOnce, nil)
	assert.True(t, errors.Is(err, awserr.ErrSubscribeFailed))

	env.fake.failWith = errors.New("suback timeout")
	err = c.Subscribe(ctx, "other", QoSAtMostOnce, handler)
	assert.True(t, errors.Is(err, awserr.ErrSubscribeFailed))
	assert.NotContains(t, c.handlers, "other")

	err = c.Unsubscribe(ctx, "commands/#")
	assert.True(t, errors.Is(err, awserr.ErrUnsubscribeFailed))
	env.fake.failWith = nil
	require.NoError(t, c.Unsubscribe(ctx, "commands/#"))
	assert.NotContains(t, c.handlers, "commands/#")
	assert.Equal(t, []string{"commands/#", "commands/#"}, env.fake.unsubscribed)
}

func TestYield_InvalidTimeout(t *testing.T) {
	c, env := newTestClient(t, Builder{})
	connect(t, c, env, ConnectParams{})
	err := c.Yield(999 * time.Millisecond)
	assert.True(t, errors.Is(err, awserr.ErrInvalidYieldTimeout))
}

func TestYield_Dispatch(t *testing.T) {
	ev := &events{}
	c, env := newTestClient(t, Builder{OnEvent: ev.handle})
	connect(t, c, env, ConnectParams{})
	ctx := context.Background()

	var got []string
	require.NoError(t, c.Subscribe(ctx, "sensors/+/temperature", QoSAtLeastOnce, func(msg *Message) {
		got = append(got, msg.Topic+"="+string(msg.Payload))
	}))
	env.fake.deliver("sensors/kitchen/temperature", "21")
	env.fake.deliver("sensors/kitchen/humidity", "40")
	env.fake.deliver("sensors/cellar/temperature", "12")

	start := time.Now()
	require.NoError(t, c.Yield(MinYieldTimeout))
	assert.GreaterOrEqual(t, time.Since(start), MinYieldTimeout)
	assert.Equal(t, []string{"sensors/kitchen/temperature=21", "sensors/cellar/temperature=12"}, got)
	assert.Contains(t, ev.types(), EventPayloadReceived)
}

func TestYield_BufferOverflow(t *testing.T) {
	m := metrics.New()
	c, env := newTestClient(t, Builder{QueueSize: 2, Metrics: m})
	connect(t, c, env, ConnectParams{})

	count := 0
	require.NoError(t, c.Subscribe(context.Background(), "#", QoSAtMostOnce, func(*Message) { count++ }))
	for i := 0; i < 5; i++ {
		env.fake.deliver("telemetry", "x")
	}
	err := c.Yield(MinYieldTimeout)
	assert.True(t, errors.Is(err, awserr.ErrBufferOverflow), "got %v", err)
	assert.Equal(t, 2, count)

	// the overflow is reported once
	require.NoError(t, c.Yield(MinYieldTimeout))
}

func TestYield_ConnectionLost(t *testing.T) {
	ev := &events{}
	c, env := newTestClient(t, Builder{OnEvent: ev.handle})
	connect(t, c, env, ConnectParams{})

	count := 0
	require.NoError(t, c.Subscribe(context.Background(), "telemetry", QoSAtMostOnce, func(*Message) { count++ }))
	env.fake.deliver("telemetry", "x")
	env.fake.lose(errors.New("EOF"))
	assert.False(t, c.IsConnected())

	start := time.Now()
	err := c.Yield(5 * time.Second)
	assert.True(t, errors.Is(err, awserr.ErrDisconnected), "got %v", err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, count, "queued message is delivered before the loss")
	assert.Equal(t, EventDisconnected, ev.types()[len(ev.types())-1])

	err = c.Yield(MinYieldTimeout)
	assert.True(t, errors.Is(err, awserr.ErrDisconnected))

	// a new session can be opened after the loss
	connect(t, c, env, ConnectParams{})
	assert.True(t, c.IsConnected())
}

func TestConnect_AfterConnectionLost(t *testing.T) {
	ev := &events{}
	c, env := newTestClient(t, Builder{OnEvent: ev.handle})
	connect(t, c, env, ConnectParams{})
	require.NoError(t, c.Subscribe(context.Background(), "telemetry", QoSAtMostOnce, func(*Message) {}))

	env.fake.lose(errors.New("EOF"))
	require.False(t, c.IsConnected())

	// reconnect without yielding first
	connect(t, c, env, ConnectParams{})
	assert.True(t, c.IsConnected())
	assert.Equal(t, 2, env.fake.connects)
	c.mu.Lock()
	assert.Empty(t, c.handlers)
	c.mu.Unlock()
	assert.Contains(t, ev.types(), EventDisconnected)
}

func TestRun(t *testing.T) {
	c, env := newTestClient(t, Builder{})
	connect(t, c, env, ConnectParams{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	assert.NoError(t, c.Run(ctx, MinYieldTimeout))
	assert.Less(t, time.Since(start), MinYieldTimeout)

	env.fake.lose(errors.New("EOF"))
	err := c.Run(context.Background(), MinYieldTimeout)
	assert.True(t, errors.Is(err, awserr.ErrDisconnected))
}

func TestRun_CancelledWhileOverflowing(t *testing.T) {
	c, env := newTestClient(t, Builder{QueueSize: 1})
	connect(t, c, env, ConnectParams{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Subscribe(context.Background(), "#", QoSAtMostOnce, func(*Message) { cancel() }))
	for i := 0; i < 3; i++ {
		env.fake.deliver("telemetry", "x")
	}
	assert.NoError(t, c.Run(ctx, MinYieldTimeout))

	// the overflow is still reported to the next yield
	err := c.Yield(MinYieldTimeout)
	assert.True(t, errors.Is(err, awserr.ErrBufferOverflow), "got %v", err)
}

func TestDisconnect(t *testing.T) {
	c, env := newTestClient(t, Builder{})
	err := c.Disconnect(context.Background())
	assert.True(t, errors.Is(err, awserr.ErrDisconnectFailed))

	connect(t, c, env, ConnectParams{})
	require.NoError(t, c.Subscribe(context.Background(), "a", QoSAtMostOnce, func(*Message) {}))
	require.NoError(t, c.Disconnect(context.Background()))
	assert.True(t, env.fake.disconnected)
	assert.False(t, c.IsConnected())
	assert.Empty(t, c.handlers)

	err = c.Disconnect(context.Background())
	assert.True(t, errors.Is(err, awserr.ErrDisconnectFailed))
}

func TestTopicMatches(t *testing.T) {
	tests := []struct {
		filter, topic string
		match         bool
	}{
		{"a/b", "a/b", true},
		{"a/b", "a/c", false},
		{"a/+", "a/b", true},
		{"a/+", "a/b/c", false},
		{"a/#", "a", true},
		{"a/#", "a/b/c", true},
		{"#", "a/b", true},
		{"+/b", "a/b", true},
		{"#", "$aws/things/dev-1/shadow/update/delta", false},
		{"$aws/things/+/shadow/#", "$aws/things/dev-1/shadow/update/delta", true},
		{"a/b/c", "a/b", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.match, topicMatches(tt.filter, tt.topic), "%s %s", tt.filter, tt.topic)
	}
}

func TestValidFilter(t *testing.T) {
	assert.True(t, validFilter("a/+/c"))
	assert.True(t, validFilter("#"))
	assert.False(t, validFilter(""))
	assert.False(t, validFilter("a/#/c"))
	assert.False(t, validFilter("a/b+"))
}
