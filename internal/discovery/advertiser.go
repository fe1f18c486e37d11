// Package discovery advertises the host's pairing endpoint over mDNS
// so clients can find it without a manually-entered address.
//
// Grounded on moonshine/src/service_publisher.rs (service type, name,
// keep-alive poll loop) using github.com/grandcat/zeroconf, the Go
// ecosystem's namesake of the Rust original's zeroconf crate.
package discovery

import (
	"context"
	"log"

	"github.com/grandcat/zeroconf"
)

const (
	serviceName = "Moonshine"
	serviceType = "_nvstream._tcp"
	domain      = "local."
)

// Advertiser publishes the host's service record for as long as Run
// is active.
type Advertiser struct {
	logger *log.Logger
	port   int
}

// New builds an advertiser for the HTTPS pairing port (spec §6).
func New(logger *log.Logger, port int) *Advertiser {
	return &Advertiser{logger: logger, port: port}
}

// Run registers the mDNS service record and keeps it alive until ctx
// is cancelled.
func (a *Advertiser) Run(ctx context.Context) error {
	server, err := zeroconf.Register(serviceName, serviceType, domain, a.port, nil, nil)
	if err != nil {
		return err
	}
	defer server.Shutdown()

	a.logger.Printf("discovery: advertising %s.%s on port %d", serviceName, serviceType, a.port)

	<-ctx.Done()
	return nil
}
