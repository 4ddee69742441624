package awsiot

import (
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/awsiot/iot/credentials"
)

// fakeToken completes immediately with err, or never if it was created with hang
type fakeToken struct {
	mqtt.Token
	err  error
	done chan struct{}
}

func newToken(err error, hang bool) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	if !hang {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }

func (t *fakeToken) Error() error { return t.err }

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) MessageID() uint16 { return 7 }
func (m fakeMessage) Ack()              {}

// fakeMQTT records the calls of the client
type fakeMQTT struct {
	mqtt.Client
	opts *mqtt.ClientOptions

	mu           sync.Mutex
	connectErrs  []error
	connects     int
	published    []string
	subscribed   []string
	unsubscribed []string
	disconnected bool
	failWith     error
	hang         bool
}

func (f *fakeMQTT) Connect() mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	var err error
	if len(f.connectErrs) > 0 {
		err, f.connectErrs = f.connectErrs[0], f.connectErrs[1:]
	}
	return newToken(err, false)
}

func (f *fakeMQTT) IsConnected() bool      { return true }
func (f *fakeMQTT) IsConnectionOpen() bool { return true }

func (f *fakeMQTT) Disconnect(quiesce uint) {
	f.mu.Lock()
	f.disconnected = true
	f.mu.Unlock()
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, topic)
	return newToken(f.failWith, f.hang)
}

func (f *fakeMQTT) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, topic)
	return newToken(f.failWith, f.hang)
}

func (f *fakeMQTT) Unsubscribe(topics ...string) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, topics...)
	return newToken(f.failWith, f.hang)
}

// deliver simulates an arriving publish
func (f *fakeMQTT) deliver(topic, payload string) {
	f.opts.DefaultPublishHandler(f, fakeMessage{topic: topic, payload: []byte(payload)})
}

// lose simulates a broken connection
func (f *fakeMQTT) lose(err error) {
	f.opts.OnConnectionLost(f, err)
}

type testEnv struct {
	ca     *credentials.CA
	device *credentials.KeyPair
	fake   *fakeMQTT
}

// newTestClient returns a client for thing dev-1 whose MQTT connections are served by a fake
func newTestClient(t *testing.T, b Builder) (*Client, *testEnv) {
	ca, err := credentials.NewCA("test root")
	require.NoError(t, err)
	device, err := ca.IssueDeviceCertificate("dev-1")
	require.NoError(t, err)

	b.ThingName = "dev-1"
	b.CertificatePEM = device.CertPEM
	b.PrivateKeyPEM = device.KeyPEM
	c, err := New(&b)
	require.NoError(t, err)

	env := &testEnv{ca: ca, device: device, fake: &fakeMQTT{}}
	c.newClient = func(opts *mqtt.ClientOptions) mqtt.Client {
		env.fake.opts = opts
		return env.fake
	}
	return c, env
}
