package awsiot

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

const (
	// signing name of the AWS IoT data plane
	iotSigningName = "iotdevicegateway"
	// sha256 of the empty payload
	emptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

// presignWebsocketURL returns the SigV4 presigned wss:// URL for MQTT over websockets. The
// session token is not part of the signature, AWS IoT expects it appended afterwards.
func presignWebsocketURL(ctx context.Context, provider aws.CredentialsProvider, region string, ep *Endpoint, now time.Time) (string, error) {
	if provider == nil {
		return "", fmt.Errorf("AWS credentials missing")
	}
	if region == "" {
		return "", fmt.Errorf("AWS region missing")
	}
	creds, err := provider.Retrieve(ctx)
	if err != nil {
		return "", fmt.Errorf("cannot retrieve AWS credentials: %w", err)
	}
	sessionToken := creds.SessionToken
	creds.SessionToken = ""

	host := ep.URI
	if ep.Port != DefaultWebsocketPort {
		host = net.JoinHostPort(ep.URI, strconv.Itoa(ep.Port))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+host+"/mqtt", nil)
	if err != nil {
		return "", err
	}

	signer := v4.NewSigner()
	signed, _, err := signer.PresignHTTP(ctx, creds, req, emptyPayloadHash, iotSigningName, region, now)
	if err != nil {
		return "", fmt.Errorf("cannot presign websocket URL: %w", err)
	}
	if sessionToken != "" {
		signed += "&X-Amz-Security-Token=" + url.QueryEscape(sessionToken)
	}
	return "wss://" + strings.TrimPrefix(signed, "https://"), nil
}
