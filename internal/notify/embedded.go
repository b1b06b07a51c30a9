package notify

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServer is an in-process NATS server for single host deployments
type EmbeddedServer struct {
	ns     *server.Server
	logger *slog.Logger
}

// StartEmbeddedServer starts a NATS server on host:port. A port of -1
// picks a random free port.
func StartEmbeddedServer(host string, port int, logger *slog.Logger) (*EmbeddedServer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ns, err := server.NewServer(&server.Options{
		ServerName: "killfeed",
		Host:       host,
		Port:       port,
		NoLog:      true,
		NoSigs:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedded nats server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded nats server not ready on %s:%d", host, port)
	}
	logger.Info("embedded nats server started", "url", ns.ClientURL())
	return &EmbeddedServer{ns: ns, logger: logger}, nil
}

// ClientURL returns the URL clients connect to
func (e *EmbeddedServer) ClientURL() string {
	return e.ns.ClientURL()
}

// Shutdown stops the server and waits for it to exit
func (e *EmbeddedServer) Shutdown() {
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
	e.logger.Info("embedded nats server stopped")
}
