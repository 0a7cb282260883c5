package api

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"
)

// DefaultTimeout is the per-request timeout of clients built by NewHTTPClient.
const DefaultTimeout = 10 * time.Second

// TransportOptions configures the HTTP client used to reach the backend.
type TransportOptions struct {
	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration
	// CAFile is a PEM bundle of extra root certificates.
	CAFile string
	// CertFile and KeyFile enable a client certificate when both are set.
	CertFile string
	KeyFile  string
}

// NewHTTPClient builds an *http.Client honoring opts. With no TLS options it
// uses the system roots.
func NewHTTPClient(opts TransportOptions) (*http.Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.CAFile != "" || opts.CertFile != "" {
		tlsCfg, err := loadTLSConfig(opts)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsCfg
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

func loadTLSConfig(opts TransportOptions) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if opts.CAFile != "" {
		caCert, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert: %w", err)
		}
		caPool := x509.NewCertPool()
		if !caPool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("failed to parse CA cert")
		}
		cfg.RootCAs = caPool
	}

	if opts.CertFile != "" || opts.KeyFile != "" {
		if opts.CertFile == "" || opts.KeyFile == "" {
			return nil, errors.New("client certificate requires both cert and key files")
		}
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client cert/key: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
