package greengrass

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/awsiot/core/schema"
	"github.com/relabs-tech/awsiot/iot/awserr"
)

const (
	// GroupKey must be the first object of a discovery payload
	GroupKey = "GGGroups"
	// BeginCertificate starts every PEM certificate
	BeginCertificate = "-----BEGIN CERTIFICATE-----"

	discoverySchemaID = "https://schemas.relabs.tech/greengrass/discovery.json"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	validatorOnce sync.Once
	validator     *schema.Validator
	validatorErr  error
)

func discoveryValidator() (*schema.Validator, error) {
	validatorOnce.Do(func() {
		sub, err := fs.Sub(schemaFS, "schemas")
		if err != nil {
			validatorErr = err
			return
		}
		validator, validatorErr = schema.NewValidatorFromFS(sub)
	})
	return validator, validatorErr
}

// Parse parses a discovery payload.
func Parse(body []byte) (*DiscoveryCallbackData, error) {
	key, ok := firstKey(body)
	if !ok || key != GroupKey {
		return nil, awserr.Errorf(awserr.GGDiscoveryFailed, "parse", "first object of payload is %q, expected %q", key, GroupKey)
	}

	v, err := discoveryValidator()
	if err != nil {
		return nil, awserr.New(awserr.GGDiscoveryFailed, "parse", err)
	}
	if err := v.ValidateBytes(body, discoverySchemaID); err != nil {
		return nil, awserr.New(awserr.GGDiscoveryFailed, "parse", err)
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, awserr.New(awserr.GGDiscoveryFailed, "parse", err)
	}

	data := &DiscoveryCallbackData{Groups: []Core{}}
	for _, g := range p.GGGroups {
		rootCA := joinCertificates(g.CAs)
		cores := g.Cores
		if len(cores) == 0 {
			// a group without core still shows up, it just has nothing to connect to
			cores = []payloadCore{{}}
		}
		for _, c := range cores {
			info := CoreInfo{
				GroupID:           g.GGGroupID,
				ThingArn:          c.ThingArn,
				RootCACertificate: rootCA,
				RootCALength:      len(rootCA),
				Connections:       []Connection{},
			}
			for _, conn := range c.Connectivity {
				info.Connections = append(info.Connections, Connection{Info: ConnectionInfo{
					Metadata:  conn.Metadata,
					IPAddress: conn.HostAddress,
					Port:      conn.PortNumber,
				}})
			}
			data.Groups = append(data.Groups, Core{Info: info})
		}
	}
	return data, nil
}

// Encode renders data in the discovery wire format. Cores sharing a group ID are
// collected into one group.
func Encode(data *DiscoveryCallbackData) ([]byte, error) {
	p := payload{GGGroups: []payloadGroup{}}
	index := map[string]int{}
	for _, core := range data.Groups {
		info := core.Info
		i, ok := index[info.GroupID]
		if !ok {
			g := payloadGroup{GGGroupID: info.GroupID}
			if info.RootCACertificate != "" {
				g.CAs = []string{info.RootCACertificate}
			}
			p.GGGroups = append(p.GGGroups, g)
			i = len(p.GGGroups) - 1
			index[info.GroupID] = i
		}
		if info.ThingArn == "" && len(info.Connections) == 0 {
			continue
		}
		pc := payloadCore{ThingArn: info.ThingArn}
		for n, conn := range info.Connections {
			pc.Connectivity = append(pc.Connectivity, payloadConnectivity{
				ID:          fmt.Sprint(n + 1),
				HostAddress: conn.Info.IPAddress,
				PortNumber:  conn.Info.Port,
				Metadata:    conn.Info.Metadata,
			})
		}
		p.GGGroups[i].Cores = append(p.GGGroups[i].Cores, pc)
	}
	return json.Marshal(p)
}

// NormalizeCertificate replaces literal "\n" sequences, which AWS sometimes leaves in the
// certificates of a payload, with line feeds.
func NormalizeCertificate(pem string) string {
	return strings.ReplaceAll(pem, `\n`, "\n")
}

func joinCertificates(cas []string) string {
	var b strings.Builder
	for _, ca := range cas {
		ca = NormalizeCertificate(ca)
		if !strings.HasPrefix(strings.TrimSpace(ca), BeginCertificate) {
			continue
		}
		b.WriteString(ca)
		if !strings.HasSuffix(ca, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// firstKey returns the first object key of a json document
func firstKey(body []byte) (string, bool) {
	body = bytes.TrimLeft(body, " \t\r\n")
	if len(body) == 0 || body[0] != '{' {
		return "", false
	}
	body = bytes.TrimLeft(body[1:], " \t\r\n")
	if len(body) == 0 || body[0] != '"' {
		return "", false
	}
	end := bytes.IndexByte(body[1:], '"')
	if end < 0 {
		return "", false
	}
	return string(body[1 : end+1]), true
}
