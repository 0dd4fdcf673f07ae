package reconcile

import (
	"context"
	"time"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/probe"
)

// driver defines the lifecycle actions the reconciler executes.
//
// In production, this is satisfied by *hypervisor.Driver.
// In tests, this is satisfied by mock implementations.
type driver interface {
	// Define defines the domain and persists its spec metadata
	Define(ctx context.Context, vm *v1alpha1.VirtualMachine) error

	// Start starts a defined domain
	Start(ctx context.Context, name string) error

	// Stop stops a running domain, gracefully when requested
	Stop(ctx context.Context, name string, graceful bool) error

	// Destroy removes the domain and its backing files
	Destroy(ctx context.Context, name string) error
}

// prober defines the state observations the reconciler depends on.
//
// In production, this is satisfied by *probe.Prober.
// In tests, this is satisfied by mock implementations.
type prober interface {
	// Probe returns the current runtime state of a VM
	Probe(ctx context.Context, name string) (probe.RuntimeState, error)

	// ResolveIP polls for the VM's guest IP within the timeout
	ResolveIP(ctx context.Context, name string, timeout time.Duration) (string, error)
}

// imageProvisioner defines the disk provisioning the reconciler depends on.
//
// In production, this is satisfied by *image.Provisioner.
// In tests, this is satisfied by mock implementations.
type imageProvisioner interface {
	// Ensure makes sure the disk image exists, reporting whether it was created
	Ensure(ctx context.Context, spec v1alpha1.DiskSpec) (created bool, err error)

	// WriteSeedISO writes cloud-init seed ISO data to the given path
	WriteSeedISO(path string, data []byte) error
}
