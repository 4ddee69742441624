package awsiot

import (
	"crypto/tls"
	"crypto/x509"

	"github.com/relabs-tech/awsiot/iot/awserr"
)

func rootCAPool(op string, rootCA []byte) (*x509.CertPool, error) {
	if len(rootCA) == 0 {
		return nil, awserr.Errorf(awserr.InvalidRootCA, op, "root CA missing")
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(rootCA) {
		return nil, awserr.Errorf(awserr.InvalidRootCA, op, "no certificate found in root CA")
	}
	return pool, nil
}

// tlsConfig returns the TLS configuration for a connection to host. clientCert may be nil for
// connections which do not use client certificates.
func tlsConfig(op string, rootCA []byte, clientCert *tls.Certificate, serverName string, alpn string) (*tls.Config, error) {
	pool, err := rootCAPool(op, rootCA)
	if err != nil {
		return nil, err
	}
	config := &tls.Config{
		RootCAs:    pool,
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}
	if clientCert != nil {
		config.Certificates = []tls.Certificate{*clientCert}
	}
	if alpn != "" {
		config.NextProtos = []string{alpn}
	}
	return config, nil
}
