package nanohttp

import (
	"context"
	"crypto/tls"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pkcs12"
	"golang.org/x/net/netutil"
)

// SocketFactory creates the listening socket of a Server. The acceptor does
// not know whether the listener speaks plain TCP or TLS.
type SocketFactory interface {
	Listen(ctx context.Context, network, addr string, backlog int) (net.Listener, error)
}

// SocketFactoryFunc adapts a function to SocketFactory.
type SocketFactoryFunc func(ctx context.Context, network, addr string, backlog int) (net.Listener, error)

func (f SocketFactoryFunc) Listen(ctx context.Context, network, addr string, backlog int) (net.Listener, error) {
	return f(ctx, network, addr, backlog)
}

// DefaultSocketFactory listens with net.ListenConfig and SO_REUSEADDR, so a
// stopped server's port can be bound again right away.
//
// The backlog is left to the operating system (somaxconn).
// Use ReusePortSocketFactory when the backlog must be set explicitly.
type DefaultSocketFactory struct {
	// KeepAlivePeriod enables TCP keep-alive on accepted connections. Zero
	// uses the operating system default, negative disables keep-alive.
	KeepAlivePeriod time.Duration

	// MaxConns caps the number of simultaneously open accepted connections.
	// Accept blocks while the cap is reached. Zero means no cap.
	MaxConns int
}

func (f *DefaultSocketFactory) Listen(ctx context.Context, network, addr string, _ int) (net.Listener, error) {
	lc := net.ListenConfig{
		KeepAlive: f.KeepAlivePeriod,
		Control:   setReuseAddr,
	}
	ln, err := lc.Listen(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	if f.MaxConns > 0 {
		ln = netutil.LimitListener(ln, f.MaxConns)
	}
	return ln, nil
}

// TLSSocketFactory wraps the listener of Base with TLS.
type TLSSocketFactory struct {
	// Base creates the underlying listener. DefaultSocketFactory if nil.
	Base   SocketFactory
	Config *tls.Config
}

// NewTLSSocketFactory returns a factory serving TLS with config on top of
// the default plain factory.
func NewTLSSocketFactory(config *tls.Config) *TLSSocketFactory {
	return &TLSSocketFactory{Config: config}
}

func (f *TLSSocketFactory) Listen(ctx context.Context, network, addr string, backlog int) (net.Listener, error) {
	if f.Config == nil || (len(f.Config.Certificates) == 0 && f.Config.GetCertificate == nil && f.Config.GetConfigForClient == nil) {
		return nil, ErrNoCertificates
	}
	base := f.Base
	if base == nil {
		base = &DefaultSocketFactory{}
	}
	ln, err := base.Listen(ctx, network, addr, backlog)
	if err != nil {
		return nil, err
	}
	return tls.NewListener(ln, f.Config), nil
}

// ErrNoCertificates is returned when a TLS listener is requested without
// any server certificate.
var ErrNoCertificates = errors.New("tls: neither Certificates, GetCertificate, nor GetConfigForClient set in Config")

// NewTLSConfigFromKeystore loads a PKCS#12 keystore protected by passphrase
// and returns a server TLS config using its key pair.
func NewTLSConfigFromKeystore(path, passphrase string) (*tls.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read keystore")
	}
	key, cert, err := pkcs12.Decode(data, passphrase)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot decode keystore %q", path)
	}
	return newServerTLSConfig(tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}), nil
}

// NewTLSConfigFromPEM loads a PEM encoded certificate and key pair.
func NewTLSConfigFromPEM(certFile, keyFile string) (*tls.Config, error) {
	if certFile == "" || keyFile == "" {
		return nil, errors.New("cert and key file must be provided")
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot load TLS key pair from certFile=%q and keyFile=%q", certFile, keyFile)
	}
	return newServerTLSConfig(cert), nil
}

func newServerTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		NextProtos:   []string{"http/1.1"},
	}
}
