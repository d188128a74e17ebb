// Package client connects the CLI to the charforge backend over gRPC and maps
// transport errors back to domain sentinels.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Options controls how Dial reaches the server.
type Options struct {
	Addr      string
	CACert    string // PEM bundle; empty uses the system roots
	Insecure  bool   // TLS without certificate verification
	Plaintext bool   // no TLS at all, for local development
	Token     string // access token sent with every call; empty for anonymous calls
}

type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}

func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

// LoadTLS builds transport credentials from a CA bundle path.
func LoadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil //nolint:gosec // opt-in via --insecure
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

// Dial creates a client connection. The connection is lazy: errors reaching
// the server surface on the first call.
func Dial(o Options, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	if o.Addr == "" {
		return nil, errors.New("server address is required")
	}
	var creds credentials.TransportCredentials
	if o.Plaintext {
		creds = insecure.NewCredentials()
	} else {
		c, err := LoadTLS(o.CACert, o.Insecure)
		if err != nil {
			return nil, fmt.Errorf("load tls: %w", err)
		}
		creds = c
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if o.Token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: o.Token, secure: !o.Plaintext}))
	}
	return grpc.NewClient(o.Addr, append(opts, extra...)...)
}
