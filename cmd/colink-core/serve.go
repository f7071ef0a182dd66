package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/colink-dev/colink-core/internal/auth"
	"github.com/colink-dev/colink-core/internal/coremetrics"
	"github.com/colink-dev/colink-core/internal/corelog"
	"github.com/colink-dev/colink-core/internal/corestate"
	"github.com/colink-dev/colink-core/internal/coretypes"
	"github.com/colink-dev/colink-core/internal/kvstore"
	"github.com/colink-dev/colink-core/internal/mq"
	"github.com/colink-dev/colink-core/internal/operator"
	"github.com/colink-dev/colink-core/internal/rpc"
	"github.com/colink-dev/colink-core/internal/security"
	"github.com/colink-dev/colink-core/internal/subscription"
	"github.com/colink-dev/colink-core/internal/task"
	"github.com/colink-dev/colink-core/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a colink-core server",
	Long: `Starts a colink-core server: key-value store, subscription bus,
task coordinator, protocol operator supervisor, and the gRPC surface other
cores and local users reach it through.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("data-dir", "./colink-data", "Directory for the key-value store and durable identity material")
	serveCmd.Flags().String("listen-addr", "127.0.0.1:8891", "Address the gRPC server listens on")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address the Prometheus metrics endpoint listens on")
	serveCmd.Flags().String("core-uri", "", "This core's address as reachable by peers (blank if only reachable via reverse connections)")
	serveCmd.Flags().Bool("force-gen-keys", false, "Regenerate the JWT secret and identity key even if they already exist")
	serveCmd.Flags().Bool("inter-core-reverse-mode", false, "Maintain an outbound reverse connection to each --reverse-peer, for a core that peers cannot dial directly")

	serveCmd.Flags().String("server-cert", "", "TLS certificate for the gRPC listener (blank for plaintext)")
	serveCmd.Flags().String("server-key", "", "TLS key for the gRPC listener")
	serveCmd.Flags().String("server-ca", "", "CA bundle the gRPC listener trusts for client certificates (enables mTLS)")

	serveCmd.Flags().String("inter-core-cert", "", "Client certificate used when dialing peer cores")
	serveCmd.Flags().String("inter-core-key", "", "Client key used when dialing peer cores")
	serveCmd.Flags().String("inter-core-ca", "", "CA bundle used to verify peer cores")

	serveCmd.Flags().StringSlice("reverse-peer", nil, "peer_host_id=peer_user_id=address triples to maintain outbound reverse connections to")
}

func runServe(cmd *cobra.Command, _ []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	listenAddr, _ := cmd.Flags().GetString("listen-addr")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	coreURI, _ := cmd.Flags().GetString("core-uri")
	forceGenKeys, _ := cmd.Flags().GetBool("force-gen-keys")
	reverseMode, _ := cmd.Flags().GetBool("inter-core-reverse-mode")

	serverCert, _ := cmd.Flags().GetString("server-cert")
	serverKey, _ := cmd.Flags().GetString("server-key")
	serverCA, _ := cmd.Flags().GetString("server-ca")

	interCoreTLS := transport.TLSConfig{}
	interCoreTLS.CertFile, _ = cmd.Flags().GetString("inter-core-cert")
	interCoreTLS.KeyFile, _ = cmd.Flags().GetString("inter-core-key")
	interCoreTLS.CAFile, _ = cmd.Flags().GetString("inter-core-ca")

	reversePeers, _ := cmd.Flags().GetStringSlice("reverse-peer")

	state, err := corestate.LoadOrInit(dataDir, forceGenKeys)
	if err != nil {
		return fmt.Errorf("load core identity: %w", err)
	}
	hostID := state.Keys.ID()

	log := corelog.WithCoreID(hostID)
	log.Info().Str("data_dir", dataDir).Msg("core identity loaded")

	publisher := &publisherHandle{}
	store, err := kvstore.NewBoltStore(dataDir, publisher)
	if err != nil {
		return fmt.Errorf("open key-value store: %w", err)
	}
	defer store.Close()

	mqAdapter := mq.NewLocal()
	if err := mqAdapter.DeleteAllAccounts(); err != nil {
		return fmt.Errorf("reset mq accounts: %w", err)
	}

	bus := subscription.New(store, mqAdapter)
	publisher.bus = bus

	authSvc := auth.NewService(state.JWTSecret, hostID, state.Keys.Pub, mqAdapter)

	// directory maps peer user_ids to their core's address; it starts empty
	// and nothing here adds entries, so syncs go over reverse connections.
	directory := transport.NewDirectory()

	receiver := &taskReceiverHandle{}
	reverseRegistry := transport.NewReverseRegistry(receiver)

	tokenForHost := func() (string, error) {
		return authSvc.IssueHostToken(hostTokenTTL)
	}
	syncer := transport.NewSync(directory, interCoreTLS, tokenForHost, reverseRegistry)
	defer syncer.Close()

	taskEngine := task.New(store.DB(), authSvc, state.Keys, syncer)
	receiver.engine = taskEngine

	childCoreAddr := listenAddr
	if coreURI != "" {
		childCoreAddr = coreURI
	}
	colinkHome := colinkHomeDir()
	supervisor := operator.New(store, authSvc, hostID, childCoreAddr, colinkHome)

	grpcCfg := rpc.Config{
		Store:     store,
		Bus:       bus,
		Auth:      authSvc,
		Tasks:     taskEngine,
		Operator:  supervisor,
		Reverse:   reverseRegistry,
		HostID:    hostID,
		CorePubID: state.Keys.ID(),
		MQURI:     "local",
	}

	var extraOpts []grpc.ServerOption
	if serverCert != "" && serverKey != "" {
		creds, err := serverCredentials(serverCert, serverKey, serverCA)
		if err != nil {
			return fmt.Errorf("load gRPC server TLS material: %w", err)
		}
		extraOpts = append(extraOpts, grpc.Creds(creds))
	}

	grpcServer := rpc.NewGRPCServer(grpcCfg, extraOpts...)

	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := grpcServer.Serve(listener); err != nil {
			errCh <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()
	log.Info().Str("addr", listenAddr).Msg("gRPC server listening")

	metricsServer := &http.Server{Addr: metricsAddr}
	http.Handle("/metrics", coremetrics.Handler())
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()
	log.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")

	hostToken, err := authSvc.IssueHostToken(hostTokenTTL)
	if err != nil {
		log.Error().Err(err).Msg("failed to mint startup host token")
	} else {
		log.Info().Str("host_token", hostToken).Msg("host token (present this to import users)")
	}

	reverseCtx, cancelReverse := context.WithCancel(context.Background())
	defer cancelReverse()
	if reverseMode {
		for _, peer := range reversePeers {
			parts := strings.SplitN(peer, "=", 3)
			if len(parts) != 3 {
				log.Warn().Str("peer", peer).Msg("ignoring malformed --reverse-peer entry, expected host_id=user_id=address")
				continue
			}
			peerHostID, peerUserID, addr := parts[0], parts[1], parts[2]
			go func() {
				if err := transport.MaintainReverseConnection(reverseCtx, addr, interCoreTLS, hostToken, peerHostID, peerUserID, hostID, coretypes.HostSubject, reverseRegistry); err != nil && reverseCtx.Err() == nil {
					log.Error().Err(err).Str("peer", addr).Msg("reverse connection ended")
				}
			}()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("shutting down after server error")
	}

	cancelReverse()
	grpcServer.GracefulStop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)

	log.Info().Msg("shutdown complete")
	return nil
}

const hostTokenTTL = 24 * time.Hour

// publisherHandle breaks the construction cycle between kvstore.NewBoltStore
// (which takes a Publisher) and subscription.New (which takes the Store
// that publisher must already wrap): the store is built against this
// handle, then bus is assigned once subscription.New returns.
type publisherHandle struct {
	bus *subscription.Bus
}

func (p *publisherHandle) Publish(userID string, ev coretypes.Event) {
	if p.bus != nil {
		p.bus.Publish(userID, ev)
	}
}

// taskReceiverHandle resolves the same construction-order cycle between
// transport.NewReverseRegistry (needs a TaskReceiver) and task.New (needs
// the Syncer that registry backs): the registry is built against this
// handle, then engine is assigned once task.New returns.
type taskReceiverHandle struct {
	engine *task.Engine
}

func (h *taskReceiverHandle) InterCoreSyncTask(localUserID string, t coretypes.Task) error {
	return h.engine.InterCoreSyncTask(localUserID, t)
}

// serverCredentials builds the gRPC listener's TLS config, grounded on
// internal/transport's dialOptions but on the server side: certFile/keyFile
// are always required once TLS is requested, caFile is optional and, when
// given, turns on mTLS by requiring and verifying client certificates.
func serverCredentials(certFile, keyFile, caFile string) (credentials.TransportCredentials, error) {
	cert, err := security.LoadCertFromFile(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}
	if security.NeedsRotation(cert.Leaf) {
		corelog.Logger.Warn().Time("not_after", cert.Leaf.NotAfter).Msg("server certificate is within 30 days of expiry")
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{*cert},
		MinVersion:   tls.VersionTLS13,
	}

	if caFile != "" {
		caCert, err := security.LoadCACertFromFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("load client CA: %w", err)
		}
		pool := x509.NewCertPool()
		pool.AddCert(caCert)
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return credentials.NewTLS(tlsConfig), nil
}
