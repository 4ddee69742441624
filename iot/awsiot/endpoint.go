package awsiot

import (
	"fmt"

	"github.com/relabs-tech/awsiot/iot/awserr"
	"github.com/relabs-tech/awsiot/iot/greengrass"
)

// Endpoint describes a broker
type Endpoint struct {
	Transport Transport
	// URI is the host name or IP address of the broker
	URI  string
	Port int
	// RootCA is the PEM encoded root CA which signed the broker's certificate
	RootCA       []byte
	RootCALength int
}

func (e *Endpoint) String() string {
	return fmt.Sprintf("%s://%s:%d", e.Transport, e.URI, e.Port)
}

// CreateEndpoint creates an endpoint. Only the MQTT transports are supported. A port of 0 selects
// the default port of the transport.
func CreateEndpoint(transport Transport, uri string, port int, rootCA []byte) (*Endpoint, error) {
	switch transport {
	case TransportMQTTNative:
		if port == 0 {
			port = DefaultMQTTPort
		}
	case TransportMQTTWebsocket:
		if port == 0 {
			port = DefaultWebsocketPort
		}
	default:
		return nil, awserr.Errorf(awserr.InvalidEndpoint, "create endpoint", "unsupported transport %s", transport)
	}
	if uri == "" {
		return nil, awserr.Errorf(awserr.InvalidEndpoint, "create endpoint", "uri missing")
	}
	if port < 0 || port > 65535 {
		return nil, awserr.Errorf(awserr.InvalidEndpoint, "create endpoint", "invalid port %d", port)
	}
	return &Endpoint{
		Transport:    transport,
		URI:          uri,
		Port:         port,
		RootCA:       rootCA,
		RootCALength: len(rootCA),
	}, nil
}

// EndpointForCore creates a native MQTT endpoint for the connection with the given index of a
// discovered Greengrass core. The group's root CA verifies the core.
func EndpointForCore(core greengrass.Core, connection int) (*Endpoint, error) {
	if connection < 0 || connection >= len(core.Info.Connections) {
		return nil, awserr.Errorf(awserr.InvalidEndpoint, "endpoint for core",
			"core of group %s has no connection %d", core.Info.GroupID, connection)
	}
	info := core.Info.Connections[connection].Info
	return CreateEndpoint(TransportMQTTNative, info.IPAddress, info.Port, []byte(core.Info.RootCACertificate))
}
