package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/colink-dev/colink-core/internal/security"
)

// TLSConfig names the files colink-core reads for inter-core mTLS,
// supplementing spec.md's transport description with the
// inter_core_ca/inter_core_cert/inter_core_key knobs original_source
// exposes as CLI flags. All three empty means plaintext dialling, for
// local development and the test suite.
type TLSConfig struct {
	CAFile   string
	CertFile string
	KeyFile  string
}

func (c TLSConfig) enabled() bool {
	return c.CAFile != "" && c.CertFile != "" && c.KeyFile != ""
}

// dialOptions builds the grpc.DialOption for reaching another core,
// grounded on pkg/client/client.go's connectWithMTLS: load a keypair,
// load a CA to verify the peer, require TLS 1.3. Unlike the teacher,
// certificates here are loaded from explicit file paths rather than a
// fixed ~/.warren/certs/<node> layout, since colink-core has no
// manager-issued-certificate flow to populate that directory.
func dialOptions(cfg TLSConfig) (grpc.DialOption, error) {
	if !cfg.enabled() {
		return grpc.WithTransportCredentials(insecure.NewCredentials()), nil
	}

	cert, err := security.LoadCertFromFile(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load inter-core certificate: %w", err)
	}
	caCert, err := security.LoadCACertFromFile(cfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("load inter-core CA: %w", err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(caCert)

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{*cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS13,
	}
	return grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)), nil
}

// Dial opens a connection to another core's RPC address.
func Dial(addr string, cfg TLSConfig) (*grpc.ClientConn, error) {
	opt, err := dialOptions(cfg)
	if err != nil {
		return nil, err
	}
	return grpc.NewClient(addr, opt)
}
