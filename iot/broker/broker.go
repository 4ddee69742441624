package broker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net"
	"strings"
	"sync"

	"github.com/DrmagicE/gmqtt"
	"github.com/DrmagicE/gmqtt/pkg/packets"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/awsiot/core/logger"
	"github.com/relabs-tech/awsiot/iot/credentials"
)

// ErrNotRunning is returned by Publish before Run
var ErrNotRunning = errors.New("broker not running")

// server is the part of the gmqtt server the broker drives
type server interface {
	Run()
	Stop(ctx context.Context) error
}

// Broker is a MQTT broker standing in for a Greengrass core
type Broker struct {
	p      *plugin
	server server

	stopOnce sync.Once
	stopErr  error
}

// Message is a message published by a client
type Message struct {
	ClientID string
	Topic    string
	Payload  []byte
}

// Builder is a builder helper for the Broker
type Builder struct {
	// CertificatePEM is the X.509 server certificate. This is mandatory.
	CertificatePEM []byte
	// PrivateKeyPEM is the private key of the server certificate. This is mandatory.
	PrivateKeyPEM []byte
	// ClientCAPEM is the certificate authority of the devices. This is mandatory.
	ClientCAPEM []byte
	// Addr is the listen address. Default is ":8883".
	Addr string
	// TokenAudience enables password authentication. The MQTT password must then be a token
	// created with credentials.NewPasswordToken for the client's thing and this audience.
	TokenAudience string
	// OnMessage optionally receives every published message
	OnMessage func(ctx context.Context, msg Message)
}

// plugin is the plugin for GMQTT
type plugin struct {
	tlsln         net.Listener
	tokenAudience string
	onMessage     func(ctx context.Context, msg Message)
	log           *logrus.Entry

	certsMux sync.Mutex
	certs    map[net.Conn]*x509.Certificate

	serviceMux sync.RWMutex
	service    gmqtt.Server
}

// NewBroker returns a new broker. The broker will not actually run until you call Run()
func NewBroker(bb *Builder) (*Broker, error) {
	if len(bb.CertificatePEM) == 0 {
		panic("certificate missing")
	}
	if len(bb.PrivateKeyPEM) == 0 {
		panic("private key missing")
	}
	if len(bb.ClientCAPEM) == 0 {
		panic("client CA missing")
	}
	addr := bb.Addr
	if addr == "" {
		addr = ":8883"
	}

	crt, err := tls.X509KeyPair(bb.CertificatePEM, bb.PrivateKeyPEM)
	if err != nil {
		return nil, err
	}
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(bb.ClientCAPEM) {
		panic("no certificate in client CA")
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{crt},
		ClientCAs:    caCertPool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
		NextProtos:   []string{"x-amzn-mqtt-ca", "mqtt"},
	}
	tlsln, err := tls.Listen("tcp", addr, tlsConfig)
	if err != nil {
		return nil, err
	}

	p := &plugin{
		tlsln:         tlsln,
		tokenAudience: bb.TokenAudience,
		onMessage:     bb.OnMessage,
		log:           logger.Default().WithField("component", "broker"),
		certs:         make(map[net.Conn]*x509.Certificate),
	}
	b := &Broker{
		p: p,
		server: gmqtt.NewServer(
			gmqtt.WithTCPListener(tlsln),
			gmqtt.WithPlugin(p),
		),
	}
	return b, nil
}

// Addr returns the address the broker listens on
func (b *Broker) Addr() string {
	return b.p.tlsln.Addr().String()
}

// Run starts the broker. It does not block.
func (b *Broker) Run() {
	b.server.Run()
	b.p.log.Infoln("listening on", b.Addr())
}

// Stop stops the broker and closes all client connections. Repeated calls return the result
// of the first.
func (b *Broker) Stop(ctx context.Context) error {
	b.stopOnce.Do(func() {
		b.stopErr = b.server.Stop(ctx)
		b.p.log.Infoln("stopped")
	})
	return b.stopErr
}

// Publish publishes an MQTT message to all subscribed clients. It returns ErrNotRunning until
// Run has been called.
func (b *Broker) Publish(topic string, payload []byte, qos uint8) error {
	b.p.serviceMux.RLock()
	service := b.p.service
	b.p.serviceMux.RUnlock()
	if service == nil {
		return ErrNotRunning
	}
	b.p.log.Debugf("publish on %s (%d bytes)", topic, len(payload))
	service.PublishService().Publish(gmqtt.NewMessage(topic, payload, qos))
	return nil
}

// Load implements plugin interface
func (p *plugin) Load(service gmqtt.Server) error {
	p.serviceMux.Lock()
	p.service = service
	p.serviceMux.Unlock()
	return nil
}

// Unload implements plugin interface
func (p *plugin) Unload() error {
	return nil
}

// Name implements plugin interface
func (p *plugin) Name() string { return "greengrass core" }

// HookWrapper implements plugin interface
func (p *plugin) HookWrapper() gmqtt.HookWrapper {
	return gmqtt.HookWrapper{
		OnAcceptWrapper:     p.OnAcceptWrapper,
		OnConnectWrapper:    p.OnConnectWrapper,
		OnSubscribeWrapper:  p.OnSubscribeWrapper,
		OnSubscribedWrapper: p.OnSubscribedWrapper,
		OnMsgArrivedWrapper: p.OnMsgArrivedWrapper,
	}
}

// takeCertificate returns the verified client certificate of conn. The certificate is only
// needed once, on connect.
func (p *plugin) takeCertificate(conn net.Conn) *x509.Certificate {
	p.certsMux.Lock()
	defer p.certsMux.Unlock()
	cert := p.certs[conn]
	delete(p.certs, conn)
	return cert
}

// OnAcceptWrapper authorizes clients via TLS certificates
func (p *plugin) OnAcceptWrapper(accept gmqtt.OnAccept) gmqtt.OnAccept {
	return func(ctx context.Context, conn net.Conn) bool {
		tlsConn, ok := conn.(*tls.Conn)
		if !ok {
			return false
		}
		if err := tlsConn.Handshake(); err != nil {
			p.log.Debugln("handshake failed:", err)
			return false
		}
		state := tlsConn.ConnectionState()
		if len(state.VerifiedChains) == 0 || len(state.VerifiedChains[0]) == 0 {
			return false
		}
		cert := state.VerifiedChains[0][0]

		p.certsMux.Lock()
		p.certs[conn] = cert
		p.certsMux.Unlock()
		p.log.Debugln("accept", cert.Subject.CommonName)
		return accept(ctx, conn)
	}
}

// OnConnectWrapper enforces that the MQTT client ID matches the certificate common name
func (p *plugin) OnConnectWrapper(connect gmqtt.OnConnect) gmqtt.OnConnect {
	return func(ctx context.Context, client gmqtt.Client) (code uint8) {
		clientID := client.OptionsReader().ClientID()
		cert := p.takeCertificate(client.Connection())
		if cert == nil || clientID != cert.Subject.CommonName {
			p.log.Warnln("connect denied,", clientID, "not authorized")
			return packets.CodeNotAuthorized
		}
		if p.tokenAudience != "" {
			certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
			thing, err := credentials.VerifyPasswordToken(client.OptionsReader().Password(), p.tokenAudience, certPEM)
			if err != nil || thing != clientID {
				p.log.Warnln("connect denied,", clientID, "invalid password token:", err)
				return packets.CodeNotAuthorized
			}
		}
		p.log.Infoln("connect", clientID)
		return connect(ctx, client)
	}
}

// OnMsgArrivedWrapper hands published messages to the message callback
func (p *plugin) OnMsgArrivedWrapper(arrived gmqtt.OnMsgArrived) gmqtt.OnMsgArrived {
	return func(ctx context.Context, client gmqtt.Client, msg packets.Message) (valid bool) {
		clientID := client.OptionsReader().ClientID()
		topic := msg.Topic()
		if !allowed(clientID, topic) {
			p.log.Warnln("publish of", clientID, "on", topic, "denied")
			return false
		}
		p.log.Debugln("message arrived on", topic)
		if p.onMessage != nil {
			p.onMessage(ctx, Message{ClientID: clientID, Topic: topic, Payload: msg.Payload()})
		}
		return arrived(ctx, client, msg)
	}
}

// OnSubscribeWrapper enforces topic policy
func (p *plugin) OnSubscribeWrapper(subscribe gmqtt.OnSubscribe) gmqtt.OnSubscribe {
	return func(ctx context.Context, client gmqtt.Client, topic packets.Topic) (qos uint8) {
		clientID := client.OptionsReader().ClientID()
		if !allowed(clientID, topic.Name) {
			p.log.Warnln("subscribe of", clientID, "to", topic.Name, "denied")
			return packets.SUBSCRIBE_FAILURE
		}
		return subscribe(ctx, client, topic)
	}
}

// OnSubscribedWrapper logs the subscription
func (p *plugin) OnSubscribedWrapper(subscribed gmqtt.OnSubscribed) gmqtt.OnSubscribed {
	return func(ctx context.Context, client gmqtt.Client, topic packets.Topic) {
		p.log.Debugln("subscribed", client.OptionsReader().ClientID(), topic.Name)
		subscribed(ctx, client, topic)
	}
}

// allowed restricts the reserved $aws/things/ topics to the client's own thing
func allowed(clientID, topic string) bool {
	const prefix = "$aws/things/"
	if !strings.HasPrefix(topic, prefix) {
		return !strings.HasPrefix(topic, "$")
	}
	rest := strings.TrimPrefix(topic, prefix)
	thing, _, _ := strings.Cut(rest, "/")
	return thing == clientID
}
