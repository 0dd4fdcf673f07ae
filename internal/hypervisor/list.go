package hypervisor

import (
	"context"
	"fmt"
	"log"

	"github.com/digitalocean/go-libvirt"
)

// DomainSummary describes a defined domain on the host.
type DomainSummary struct {
	Name     string
	State    string
	CPUs     uint16
	MemoryMB uint64
}

// List returns summaries for all domains on the host, running and stopped.
func (d *Driver) List(_ context.Context) ([]DomainSummary, error) {
	// NeedResults: 1 means populate the domains slice
	// Flags: 0 means all domains (active and inactive)
	domains, _, err := d.lv.ConnectListAllDomains(1, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}

	if len(domains) == 0 {
		return []DomainSummary{}, nil
	}

	summaries := make([]DomainSummary, 0, len(domains))
	for _, domain := range domains {
		summary, err := d.domainSummary(domain)
		if err != nil {
			log.Printf("Warning: failed to get info for domain %s: %v", domain.Name, err)
			continue
		}
		summaries = append(summaries, summary)
	}

	return summaries, nil
}

func (d *Driver) domainSummary(domain libvirt.Domain) (DomainSummary, error) {
	state, _, err := d.lv.DomainGetState(domain, 0)
	if err != nil {
		return DomainSummary{}, fmt.Errorf("failed to get domain state: %w", err)
	}

	_, _, memory, nrVirtCPU, _, err := d.lv.DomainGetInfo(domain)
	if err != nil {
		return DomainSummary{}, fmt.Errorf("failed to get domain info: %w", err)
	}

	return DomainSummary{
		Name:     domain.Name,
		State:    StateToString(state),
		CPUs:     nrVirtCPU,
		MemoryMB: memory / 1024, // libvirt reports KiB
	}, nil
}

// StateToString converts a libvirt domain state to a human-readable string.
func StateToString(state int32) string {
	switch state {
	case 0:
		return "no state"
	case 1:
		return "running"
	case 2:
		return "blocked"
	case 3:
		return "paused"
	case 4:
		return "shutdown"
	case 5:
		return "shutoff"
	case 6:
		return "crashed"
	case 7:
		return "pmsuspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}
