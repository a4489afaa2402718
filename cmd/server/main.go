package main

import (
	"flag"
	"fmt"
	"os"

	logging "github.com/ipfs/go-log/v2"

	"github.com/mpcvote/mpcvote/pkg/server"
)

func main() {
	// Flags override the MODE/NODE_ID/HMAC_KEY/... environment variables.
	mode := flag.String("mode", "", "Process role: coordinator or share")
	nodeID := flag.String("node-id", "", "Share node identifier (A or B), share mode only")
	host := flag.String("host", "", "Server host address")
	port := flag.Int("port", 0, "Server port")
	dataDir := flag.String("data-dir", "", "Data directory for persistent storage")
	corsOrigin := flag.String("cors-origin", "", "CORS allowed origin")
	enableTLS := flag.Bool("tls", false, "Enable TLS/SSL")
	tlsCert := flag.String("tls-cert", "", "Path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "Path to TLS private key file")
	enableGraphQL := flag.Bool("graphql", false, "Enable the read-only GraphQL endpoint (/graphql)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	if err := logging.SetLogLevel("*", *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Invalid log level %q: %v\n", *logLevel, err)
		os.Exit(1)
	}

	config, err := server.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Invalid environment: %v\n", err)
		os.Exit(1)
	}
	if *mode != "" {
		config.Mode = server.Mode(*mode)
	}
	if *nodeID != "" {
		config.NodeID = *nodeID
	}
	if *host != "" {
		config.Host = *host
	}
	if *port != 0 {
		config.Port = *port
	}
	if *dataDir != "" {
		config.DataDir = *dataDir
	}
	if *corsOrigin != "" {
		config.AllowedOrigins = []string{*corsOrigin}
	}
	if *enableTLS {
		config.EnableTLS = true
		config.TLSCertFile = *tlsCert
		config.TLSKeyFile = *tlsKey
	}
	if *enableGraphQL {
		config.EnableGraphQL = true
	}

	srv, err := server.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to create server: %v\n", err)
		os.Exit(1)
	}

	// Start server (blocks until shutdown)
	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Server error: %v\n", err)
		os.Exit(1)
	}
}
