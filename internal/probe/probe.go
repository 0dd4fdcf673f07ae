// Package probe observes the current runtime state of VMs.
//
// The Prober answers two questions: what state is a domain in right now
// (absent, defined, running), and what guest IP address does it have, if
// any. It never mutates anything; lifecycle actions belong to the
// hypervisor driver.
package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/digitalocean/go-libvirt"
)

const (
	// ipPollInterval is how often ResolveIP re-queries guest addresses.
	ipPollInterval = 2 * time.Second

	domainStateRunning = 1
)

// libvirtClient defines the libvirt operations needed for state probing.
// This wraps operations from *libvirt.Libvirt to allow for testing.
//
// In production, this is satisfied by *libvirt.Libvirt directly.
// In tests, this is satisfied by mock implementations.
type libvirtClient interface {
	// DomainLookupByName looks up a domain by name
	DomainLookupByName(name string) (libvirt.Domain, error)

	// DomainGetState gets the state of a domain
	DomainGetState(dom libvirt.Domain, flags uint32) (state int32, reason int32, err error)

	// DomainInterfaceAddresses queries guest interface addresses
	DomainInterfaceAddresses(dom libvirt.Domain, source uint32, flags uint32) ([]libvirt.DomainInterface, error)
}

// RuntimeState is a point-in-time observation of a VM.
type RuntimeState struct {
	// Exists is true when the domain is defined in libvirt.
	Exists bool

	// Running is true when the domain is actively running.
	Running bool

	// IPAddress is the guest's primary IPv4 address, or empty when no
	// address could be observed.
	IPAddress string
}

// Prober observes VM runtime state via libvirt.
type Prober struct {
	lv libvirtClient
}

// NewProber creates a Prober backed by the given libvirt client.
func NewProber(lv libvirtClient) *Prober {
	return &Prober{lv: lv}
}

// Probe returns the current runtime state of the named VM.
//
// A domain missing from libvirt is a valid observation (Exists=false), not
// an error. For a running domain a single best-effort IP lookup is made;
// an empty IPAddress means none was observable at this instant.
func (p *Prober) Probe(_ context.Context, name string) (RuntimeState, error) {
	domain, err := p.lv.DomainLookupByName(name)
	if err != nil {
		if isNotFound(err) {
			return RuntimeState{}, nil
		}
		return RuntimeState{}, fmt.Errorf("failed to look up domain '%s': %w", name, err)
	}

	state, _, err := p.lv.DomainGetState(domain, 0)
	if err != nil {
		return RuntimeState{}, fmt.Errorf("failed to get state of domain '%s': %w", name, err)
	}

	rs := RuntimeState{
		Exists:  true,
		Running: state == domainStateRunning,
	}
	if rs.Running {
		rs.IPAddress = p.fetchIP(domain)
	}

	return rs, nil
}

// ResolveIP polls for the named VM's guest IP until one is observed, the
// timeout expires, or ctx is cancelled. Running out of time either way is a
// valid outcome, not an error: it returns an empty address with a nil error,
// so callers report the VM as converged with no address yet.
func (p *Prober) ResolveIP(ctx context.Context, name string, timeout time.Duration) (string, error) {
	domain, err := p.lv.DomainLookupByName(name)
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to look up domain '%s': %w", name, err)
	}

	if ip := p.fetchIP(domain); ip != "" {
		return ip, nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(ipPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", nil
		case <-deadline.C:
			return "", nil
		case <-ticker.C:
			if ip := p.fetchIP(domain); ip != "" {
				return ip, nil
			}
		}
	}
}

// fetchIP makes a single attempt to observe the guest's primary IPv4
// address, preferring the guest agent over DHCP leases. Errors are treated
// as "no address yet".
func (p *Prober) fetchIP(domain libvirt.Domain) string {
	sources := []uint32{
		uint32(libvirt.DomainInterfaceAddressesSrcAgent),
		uint32(libvirt.DomainInterfaceAddressesSrcLease),
	}

	for _, source := range sources {
		ifaces, err := p.lv.DomainInterfaceAddresses(domain, source, 0)
		if err != nil {
			continue
		}
		if ip := firstIPv4(ifaces); ip != "" {
			return ip
		}
	}

	return ""
}

// firstIPv4 returns the first non-loopback IPv4 address from the interface
// list, or empty if there is none.
func firstIPv4(ifaces []libvirt.DomainInterface) string {
	for _, iface := range ifaces {
		if iface.Name == "lo" {
			continue
		}
		for _, addr := range iface.Addrs {
			if addr.Type != int32(libvirt.IPAddrTypeIpv4) {
				continue
			}
			if strings.HasPrefix(addr.Addr, "127.") {
				continue
			}
			return addr.Addr
		}
	}
	return ""
}

// isNotFound reports whether err is libvirt's "no such domain" error.
func isNotFound(err error) bool {
	var lverr libvirt.Error
	if errors.As(err, &lverr) {
		return lverr.Code == uint32(libvirt.ErrNoDomain)
	}
	return false
}
