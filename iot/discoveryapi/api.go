// Package discoveryapi serves the Greengrass discovery REST interface for a local core.
//
// Devices authenticate with their X.509 certificate. A device may only discover itself, the
// common name of its certificate must equal the requested thing name.
package discoveryapi

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/awsiot/core/logger"
	"github.com/relabs-tech/awsiot/iot/greengrass"
)

// Service holds the discovery payloads of all registered things
type Service struct {
	mu       sync.RWMutex
	payloads map[string][]byte
}

// NewService returns a new discovery service without things
func NewService() *Service {
	return &Service{payloads: map[string][]byte{}}
}

// Register makes data the discovery result of thing
func (s *Service) Register(thing string, data *greengrass.DiscoveryCallbackData) error {
	if thing == "" {
		return fmt.Errorf("thing name missing")
	}
	body, err := greengrass.Encode(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.payloads[thing] = body
	s.mu.Unlock()
	return nil
}

// Unregister removes thing
func (s *Service) Unregister(thing string) {
	s.mu.Lock()
	delete(s.payloads, thing)
	s.mu.Unlock()
}

func (s *Service) payload(thing string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, ok := s.payloads[thing]
	return body, ok
}

// HandleRoutes adds the discovery route to router
func (s *Service) HandleRoutes(router *mux.Router) {
	route := greengrass.DiscoveryPathPrefix + "{thing}"
	logger.Default().Debugln("discovery: handle route", route, "GET")

	router.Handle(route, handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rlog := logger.FromContext(r.Context())
		thing := mux.Vars(r)["thing"]

		if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
			http.Error(w, "client certificate required", http.StatusUnauthorized)
			return
		}
		if cn := r.TLS.PeerCertificates[0].Subject.CommonName; cn != thing {
			rlog.Warnf("discovery of %s denied for certificate %s", thing, cn)
			http.Error(w, "not authorized", http.StatusUnauthorized)
			return
		}
		body, ok := s.payload(thing)
		if !ok {
			http.Error(w, "no such thing", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))).Methods(http.MethodGet)
}

// Builder is a builder helper for the Server
type Builder struct {
	// Service is the discovery service. This is mandatory.
	Service *Service
	// CertificatePEM is the X.509 server certificate. This is mandatory.
	CertificatePEM []byte
	// PrivateKeyPEM is the private key of the server certificate. This is mandatory.
	PrivateKeyPEM []byte
	// ClientCAPEM is the certificate authority of the devices. This is mandatory.
	ClientCAPEM []byte
	// Addr is the listen address. Default is ":8443".
	Addr string
}

// Server is an HTTPS server for the discovery service
type Server struct {
	ln     net.Listener
	server *http.Server
}

// NewServer creates the server and opens the listener. The server will not actually serve
// until you call Run()
func NewServer(bb *Builder) (*Server, error) {
	if bb.Service == nil {
		panic("service missing")
	}
	if len(bb.CertificatePEM) == 0 || len(bb.PrivateKeyPEM) == 0 {
		panic("certificate missing")
	}
	if len(bb.ClientCAPEM) == 0 {
		panic("client CA missing")
	}
	addr := bb.Addr
	if addr == "" {
		addr = fmt.Sprintf(":%d", greengrass.DiscoveryPort)
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
	}

	router := mux.NewRouter()
	logger.AddRequestID(router)
	bb.Service.HandleRoutes(router)

	ln, err := tls.Listen("tcp", addr, tlsConfig)
	if err != nil {
		return nil, err
	}
	return &Server{
		ln: ln,
		server: &http.Server{
			Handler:           handlers.LoggingHandler(logger.Default().Writer(), router),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Addr returns the address the server listens on
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Run serves requests in the background
func (s *Server) Run() {
	logger.Default().Infoln("discovery listening on", s.Addr())
	go func() {
		if err := s.server.Serve(s.ln); err != nil && err != http.ErrServerClosed {
			logger.Default().Errorln("discovery server:", err)
		}
	}()
}

// Shutdown stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
