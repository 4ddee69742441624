package greengrass

import (
	"net"
	"strconv"
)

// ConnectionInfo is one connection endpoint of a Greengrass core.
type ConnectionInfo struct {
	// Metadata associated with this connection, e.g. the interface name
	Metadata string `json:"metadata"`
	// IPAddress is the host address of the core
	IPAddress string `json:"ip_address"`
	// Port is the MQTT port of the core
	Port int `json:"port"`
}

// Address returns host:port
func (c ConnectionInfo) Address() string {
	return net.JoinHostPort(c.IPAddress, strconv.Itoa(c.Port))
}

// Connection wraps the connection information of a core
type Connection struct {
	Info ConnectionInfo `json:"info"`
}

// CoreInfo is the Greengrass core of a group. A device can be part of multiple groups and can
// select to which group's core it wants to connect.
type CoreInfo struct {
	GroupID string `json:"group_id"`
	// ThingArn is the Amazon resource name of the core device of this group
	ThingArn string `json:"thing_arn"`
	// RootCACertificate holds the PEM encoded certificate authorities of the group
	RootCACertificate string `json:"root_ca_certificate"`
	RootCALength      int    `json:"root_ca_length"`
	// Connections lists all endpoints the core is reachable under
	Connections []Connection `json:"connections"`
}

// Core wraps the information of a core
type Core struct {
	Info CoreInfo `json:"info"`
}

// DiscoveryCallbackData is passed to the DiscoveryCallback after a successful discovery.
type DiscoveryCallbackData struct {
	Groups []Core `json:"groups"`
}

// DiscoveryCallback receives the result of a discovery
type DiscoveryCallback func(data *DiscoveryCallbackData)

// Group returns the core of the group with groupID
func (d *DiscoveryCallbackData) Group(groupID string) (Core, bool) {
	for _, c := range d.Groups {
		if c.Info.GroupID == groupID {
			return c, true
		}
	}
	return Core{}, false
}

// wire types of the discovery payload
type payload struct {
	GGGroups []payloadGroup `json:"GGGroups"`
}

type payloadGroup struct {
	GGGroupID string        `json:"GGGroupId"`
	Cores     []payloadCore `json:"Cores,omitempty"`
	CAs       []string      `json:"CAs,omitempty"`
}

type payloadCore struct {
	ThingArn     string                `json:"thingArn"`
	Connectivity []payloadConnectivity `json:"Connectivity,omitempty"`
}

type payloadConnectivity struct {
	ID          string `json:"Id,omitempty"`
	HostAddress string `json:"HostAddress"`
	PortNumber  int    `json:"PortNumber"`
	Metadata    string `json:"Metadata"`
}
