// Package health probes the three protocol engines' liveness. Grounded on
// the teacher's internal/health/health.go (CheckProvider/CheckEndpoints
// hitting HTTP endpoints with a short timeout and treating non-200 as
// failure); retargeted from IPTV provider/lineup checks to discovery,
// http11, and castlink.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/castbeam/castbeam/internal/castlink"
	"github.com/castbeam/castbeam/internal/discovery"
	"github.com/castbeam/castbeam/internal/http11"
	"github.com/castbeam/castbeam/internal/logging"
)

// CheckDiscoveryAvailable confirms the host has a usable egress interface
// for mDNS multicast (spec.md §4.1's DiscoveryUnavailable failure mode)
// by opening and immediately closing a probe client.
func CheckDiscoveryAvailable(log *logging.Logger) error {
	c, err := discovery.NewClient(log)
	if err != nil {
		return fmt.Errorf("discovery unavailable: %w", err)
	}
	return c.Close()
}

// CheckHTTPServer confirms our own internal/http11 server is answering at
// host:port by issuing a bare GET through the same package's client
// (dogfooding the engine rather than reaching for net/http). Any response
// at all, even a non-2xx one, proves the server is alive; only a
// connection-level failure is reported.
func CheckHTTPServer(ctx context.Context, host string, port int, log *logging.Logger) error {
	c := http11.NewClient(host, port, log)
	defer c.Close()
	if _, err := c.Request(ctx, "/", nil); err != nil {
		return fmt.Errorf("http11 server %s:%d unreachable: %w", host, port, err)
	}
	return nil
}

// CheckCastlink confirms a receiver's control-channel port accepts a TLS
// connection by connecting and immediately disconnecting. Connect queues
// the CONNECT envelope, but nothing waits for a reply; spec.md §4.3's
// receiver handshake is exercised by internal/castlink's own tests.
func CheckCastlink(ctx context.Context, host string, port int, insecureSkipVerify bool, log *logging.Logger) error {
	c := castlink.NewClient(host, port, insecureSkipVerify, log)
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Connect(connectCtx); err != nil {
		return fmt.Errorf("castlink %s:%d unreachable: %w", host, port, err)
	}
	return c.Close()
}
