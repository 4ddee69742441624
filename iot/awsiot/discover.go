package awsiot

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/relabs-tech/awsiot/core/logger"
	"github.com/relabs-tech/awsiot/iot/awserr"
	"github.com/relabs-tech/awsiot/iot/greengrass"
	"github.com/relabs-tech/awsiot/iot/store"
)

// Discover requests the Greengrass groups of the thing from the discovery service at uri and
// passes them to callback. uri is the AWS IoT data endpoint, optionally with a port.
//
// If a cache is configured, successful results are saved. When the discovery service cannot be
// reached, the last saved result is passed to callback instead.
func (c *Client) Discover(ctx context.Context, transport Transport, uri string, rootCA []byte, callback greengrass.DiscoveryCallback) error {
	const op = "discover"
	if transport != TransportRESTfulHTTPS {
		return awserr.Errorf(awserr.InvalidEndpoint, op, "discovery requires transport %s, got %s", TransportRESTfulHTTPS, transport)
	}
	if uri == "" {
		return awserr.Errorf(awserr.InvalidEndpoint, op, "uri missing")
	}
	if callback == nil {
		return awserr.Errorf(awserr.GGDiscoveryFailed, op, "callback missing")
	}
	ctx, rlog := logger.ContextWithLoggerIdentity(ctx, c.thing)

	config, err := tlsConfig(op, rootCA, &c.cert, "", "")
	if err != nil {
		return err
	}
	httpClient := &http.Client{
		Timeout:   greengrass.DiscoveryTimeout,
		Transport: &http.Transport{TLSClientConfig: config},
	}
	defer httpClient.CloseIdleConnections()

	start := time.Now()
	data, err := greengrass.Fetch(ctx, httpClient, uri, c.thing)
	if err != nil {
		if !requestFailed(err) || c.cache == nil {
			rlog.Errorln(err)
			return err
		}
		cached, savedAt, cacheErr := c.cache.Load(ctx, c.thing)
		if cacheErr != nil {
			if !errors.Is(cacheErr, store.ErrNotFound) {
				rlog.WithError(cacheErr).Errorln("cannot load cached discovery result")
			}
			rlog.Errorln(err)
			return err
		}
		rlog.Warnf("discovery failed, using result cached at %s: %v", savedAt.Format(time.RFC3339), err)
		c.metrics.ObserveDiscovery("cache", time.Since(start))
		callback(cached)
		return nil
	}
	c.metrics.ObserveDiscovery("cloud", time.Since(start))
	rlog.Debugf("discovered %d group cores", len(data.Groups))

	if c.cache != nil {
		if err := c.cache.Save(ctx, c.thing, data); err != nil {
			rlog.WithError(err).Warnln("cannot cache discovery result")
		}
	}
	callback(data)
	return nil
}

// requestFailed is true for errors which a cached result can make up for
func requestFailed(err error) bool {
	switch awserr.CodeOf(err) {
	case awserr.HTTPFailure, awserr.ConnectFailed:
		return true
	}
	return false
}
