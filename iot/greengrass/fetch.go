package greengrass

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/relabs-tech/awsiot/core/logger"
	"github.com/relabs-tech/awsiot/iot/awserr"
)

const (
	// DiscoveryPathPrefix is the path prefix of the discovery request
	DiscoveryPathPrefix = "/greengrass/discover/thing/"
	// DiscoveryPort is the HTTPS port of the discovery service
	DiscoveryPort = 8443
	// DiscoveryTimeout is the default timeout of a discovery request
	DiscoveryTimeout = 5 * time.Second

	// payloads are small, anything above is certainly not a discovery response
	maxPayloadLength = 1 << 20
)

// DiscoveryURL returns the discovery URL for thing. host may contain a port, otherwise
// DiscoveryPort is used.
func DiscoveryURL(host, thing string) string {
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, strconv.Itoa(DiscoveryPort))
	}
	u := url.URL{
		Scheme: "https",
		Host:   host,
		Path:   DiscoveryPathPrefix + thing,
	}
	return u.String()
}

// Fetch requests the discovery payload for thing from host and parses it. The http client must be
// configured for mutual TLS with the thing's certificate.
func Fetch(ctx context.Context, client *http.Client, host, thing string) (*DiscoveryCallbackData, error) {
	rlog := logger.FromContext(ctx)
	if thing == "" {
		return nil, awserr.Errorf(awserr.HTTPFailure, "discover", "thing name missing")
	}

	discoveryURL := DiscoveryURL(host, thing)
	rlog.Debugf("discovery URI is %s", discoveryURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, awserr.New(awserr.HTTPFailure, "discover", err)
	}
	res, err := client.Do(req)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return nil, awserr.New(awserr.ConnectFailed, "discover", err)
		}
		return nil, awserr.New(awserr.HTTPFailure, "discover", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxPayloadLength+1))
	if err != nil {
		return nil, awserr.New(awserr.HTTPFailure, "discover", err)
	}
	if len(body) > maxPayloadLength {
		return nil, awserr.Errorf(awserr.HTTPFailure, "discover", "response exceeds %d bytes", maxPayloadLength)
	}
	rlog.Debugf("discovery response status %d (%d bytes)", res.StatusCode, len(body))

	if res.StatusCode != http.StatusOK {
		return nil, awserr.New(awserr.HTTPFailure, "discover",
			fmt.Errorf("unexpected status %d: %s", res.StatusCode, string(body)))
	}

	return Parse(body)
}
