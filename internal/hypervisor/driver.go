package hypervisor

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/digitalocean/go-libvirt"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/anvil/api/v1alpha1"
	anvillibvirt "github.com/jbweber/anvil/internal/libvirt"
	"github.com/jbweber/anvil/internal/metadata"
)

const (
	// shutdownGracePeriod is how long Stop waits for a graceful shutdown
	// before falling back to a forced power-off.
	shutdownGracePeriod = 30 * time.Second

	// shutdownPollInterval is how often Stop re-checks domain state while
	// waiting for a graceful shutdown.
	shutdownPollInterval = 500 * time.Millisecond

	// Domain states (from libvirt VIR_DOMAIN_* constants)
	domainStateRunning = 1
	domainStateShutoff = 5
)

// Driver executes VM lifecycle actions against libvirt.
//
// Each method performs a single transition and returns an error on failure
// without retrying. Callers own sequencing and state verification.
type Driver struct {
	lv libvirtClient

	// removeFile deletes a disk or seed ISO file. Overridable in tests.
	removeFile func(path string) error
}

// NewDriver creates a Driver backed by the given libvirt client.
func NewDriver(lv libvirtClient) *Driver {
	return &Driver{
		lv:         lv,
		removeFile: os.Remove,
	}
}

// Define defines the domain in libvirt from the VM spec and persists the
// spec in the domain's metadata. It does not start the domain.
func (d *Driver) Define(_ context.Context, vm *v1alpha1.VirtualMachine) error {
	domainXML, err := anvillibvirt.GenerateDomainXML(vm)
	if err != nil {
		return fmt.Errorf("failed to generate domain XML: %w", err)
	}

	log.Printf("Defining domain '%s'...", vm.Name)
	domain, err := d.lv.DomainDefineXML(domainXML)
	if err != nil {
		return fmt.Errorf("failed to define domain: %w", err)
	}

	if err := metadata.Store(d.lv, domain, vm); err != nil {
		return fmt.Errorf("failed to store domain metadata: %w", err)
	}

	return nil
}

// Start starts a defined domain. Starting an already-running domain is an
// error surfaced from libvirt.
func (d *Driver) Start(_ context.Context, name string) error {
	domain, err := d.lv.DomainLookupByName(name)
	if err != nil {
		return fmt.Errorf("VM '%s' not found: %w", name, err)
	}

	log.Printf("Starting VM '%s'...", name)
	if err := d.lv.DomainCreate(domain); err != nil {
		return fmt.Errorf("failed to start domain: %w", err)
	}

	return nil
}

// Stop stops a running domain. When graceful is true it requests an ACPI
// shutdown and waits up to the grace period before forcing a power-off;
// otherwise it powers off immediately.
func (d *Driver) Stop(ctx context.Context, name string, graceful bool) error {
	domain, err := d.lv.DomainLookupByName(name)
	if err != nil {
		return fmt.Errorf("VM '%s' not found: %w", name, err)
	}

	state, _, err := d.lv.DomainGetState(domain, 0)
	if err != nil {
		return fmt.Errorf("failed to get VM state: %w", err)
	}
	if state != domainStateRunning {
		return fmt.Errorf("VM '%s' is not running", name)
	}

	needsForceDestroy := !graceful
	if graceful {
		log.Printf("Requesting graceful shutdown of VM '%s'...", name)
		if err := d.lv.DomainShutdown(domain); err != nil {
			log.Printf("Warning: graceful shutdown failed: %v", err)
			needsForceDestroy = true
		} else if !d.waitForShutoff(ctx, domain) {
			log.Printf("Graceful shutdown timed out")
			needsForceDestroy = true
		}
	}

	if needsForceDestroy {
		currentState, _, err := d.lv.DomainGetState(domain, 0)
		if err == nil && currentState != domainStateRunning {
			return nil
		}
		log.Printf("Force destroying VM '%s'...", name)
		if err := d.lv.DomainDestroy(domain); err != nil {
			return fmt.Errorf("failed to destroy domain: %w", err)
		}
	}

	return nil
}

// waitForShutoff polls domain state until shutoff, the grace period expires,
// or ctx is cancelled. Returns true if the domain reached shutoff.
func (d *Driver) waitForShutoff(ctx context.Context, domain libvirt.Domain) bool {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGracePeriod)
	defer cancel()

	ticker := time.NewTicker(shutdownPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-shutdownCtx.Done():
			return false
		case <-ticker.C:
			state, _, err := d.lv.DomainGetState(domain, 0)
			if err != nil {
				log.Printf("Warning: failed to check shutdown state: %v", err)
				return false
			}
			if state == domainStateShutoff {
				return true
			}
		}
	}
}

// Destroy removes a domain completely: force-stops it if running, undefines
// it (including NVRAM for UEFI guests), and deletes its file-backed disks
// and cloud-init seed ISO.
//
// Disk paths are discovered from the domain's own XML before undefining, so
// nothing outside libvirt needs to remember what the VM owned. File cleanup
// is best-effort: failures are logged but do not fail the destroy.
func (d *Driver) Destroy(_ context.Context, name string) error {
	domain, err := d.lv.DomainLookupByName(name)
	if err != nil {
		return fmt.Errorf("VM '%s' not found: %w", name, err)
	}

	// Collect disk paths before the definition disappears.
	diskPaths, err := d.domainDiskPaths(domain)
	if err != nil {
		log.Printf("Warning: failed to read domain XML for disk cleanup: %v", err)
	}

	state, _, err := d.lv.DomainGetState(domain, 0)
	if err != nil {
		return fmt.Errorf("failed to get VM state: %w", err)
	}
	if state == domainStateRunning {
		log.Printf("Force stopping VM '%s'...", name)
		if err := d.lv.DomainDestroy(domain); err != nil {
			return fmt.Errorf("failed to destroy domain: %w", err)
		}
	}

	// Drop the spec metadata while the domain still exists.
	if err := metadata.Delete(d.lv, domain); err != nil {
		log.Printf("Warning: failed to remove domain metadata: %v", err)
	}

	log.Printf("Undefining domain '%s'...", name)
	if err := d.lv.DomainUndefineFlags(domain, libvirt.DomainUndefineNvram); err != nil {
		return fmt.Errorf("failed to undefine domain: %w", err)
	}

	deletedCount := 0
	for _, path := range diskPaths {
		log.Printf("Removing %s...", path)
		if err := d.removeFile(path); err != nil {
			if !os.IsNotExist(err) {
				log.Printf("Warning: failed to remove %s: %v", path, err)
			}
			continue
		}
		deletedCount++
	}

	log.Printf("VM '%s' destroyed (%d files removed)", name, deletedCount)
	return nil
}

// DeclaredVM recovers the VirtualMachine spec persisted in the domain's
// metadata. It returns nil without error when the domain carries none, for
// domains defined outside this tool.
func (d *Driver) DeclaredVM(_ context.Context, name string) (*v1alpha1.VirtualMachine, error) {
	domain, err := d.lv.DomainLookupByName(name)
	if err != nil {
		return nil, fmt.Errorf("VM '%s' not found: %w", name, err)
	}

	if !metadata.Exists(d.lv, domain) {
		return nil, nil
	}

	vm, err := metadata.Load(d.lv, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to load spec metadata for '%s': %w", name, err)
	}
	return vm, nil
}

// domainDiskPaths parses the domain XML and returns the file paths of all
// file-backed disks and cdroms attached to it.
func (d *Driver) domainDiskPaths(domain libvirt.Domain) ([]string, error) {
	xmlDesc, err := d.lv.DomainGetXMLDesc(domain, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to get domain XML: %w", err)
	}

	var parsed libvirtxml.Domain
	if err := parsed.Unmarshal(xmlDesc); err != nil {
		return nil, fmt.Errorf("failed to parse domain XML: %w", err)
	}

	var paths []string
	if parsed.Devices == nil {
		return paths, nil
	}
	for _, disk := range parsed.Devices.Disks {
		if disk.Source != nil && disk.Source.File != nil && disk.Source.File.File != "" {
			paths = append(paths, disk.Source.File.File)
		}
	}
	return paths, nil
}
