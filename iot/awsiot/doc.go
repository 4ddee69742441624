// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package awsiot is a device client for AWS IoT Core and AWS IoT Greengrass.

A device first discovers the Greengrass cores of its groups, then connects to one of them over
MQTT with mutual TLS:

	client, err := awsiot.New(&awsiot.Builder{
		ThingName:      "sensor-1",
		CertificatePEM: cert,
		PrivateKeyPEM:  key,
	})
	...
	err = client.Discover(ctx, awsiot.TransportRESTfulHTTPS, dataEndpoint, amazonRootCA,
		func(data *greengrass.DiscoveryCallbackData) {
			ep, err = awsiot.EndpointForCore(data.Groups[0], 0)
		})
	...
	err = client.Connect(ctx, ep, awsiot.ConnectParams{CleanSession: true})

Subscriptions are served from a bounded queue. The application must call Yield or Run
periodically, subscriber callbacks are invoked from there on the caller's goroutine. Yield
reports a lost connection with awserr.Disconnected; the application then connects again.

Connecting directly to AWS IoT Core works the same with an endpoint from CreateEndpoint, either
with native MQTT on port 8883 (or 443 with ALPN) or with MQTT over websockets, authenticated
by SigV4 with the AWSCredentials of the Builder.
*/
package awsiot
