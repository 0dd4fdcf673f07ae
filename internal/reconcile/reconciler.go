// Package reconcile drives VMs from their observed state to their declared
// state.
//
// The reconciler is the only component that decides which lifecycle actions
// to take. It observes current state through the prober, executes actions
// through the driver and image provisioner, then re-probes so the reported
// state is what actually holds on the host, not what was merely attempted.
//
// Reconciliations for the same VM name are serialized; different names
// proceed in parallel.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/cloudinit"
	"github.com/jbweber/anvil/internal/naming"
)

// Reconciler converges VMs toward their declared state.
type Reconciler struct {
	driver driver
	prober prober
	images imageProvisioner

	// DryRun reports what would change without executing any action.
	DryRun bool

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Reconciler with the given dependencies.
func New(d driver, p prober, i imageProvisioner) *Reconciler {
	return &Reconciler{
		driver: d,
		prober: p,
		images: i,
		locks:  make(map[string]*sync.Mutex),
	}
}

// lockFor returns the per-name mutex, creating it on first use. Locks are
// never removed; the set of VM names on one host is small.
func (r *Reconciler) lockFor(name string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[name]
	if !ok {
		l = &sync.Mutex{}
		r.locks[name] = l
	}
	return l
}

// Reconcile drives one VM toward its declared state and reports the outcome.
//
// The returned Outcome always carries the final observed state. Changed and
// Failure are independent: partially-applied work (say, a disk image created
// before a define failed) still reports Changed=true.
func (r *Reconciler) Reconcile(ctx context.Context, vm *v1alpha1.VirtualMachine) Outcome {
	vm.Normalize()
	vm.ApplyDefaults()

	if err := vm.Validate(); err != nil {
		return failed(vm.Name, NewFailure(CodeInvalidSpec, err))
	}
	if vm.Spec.State != v1alpha1.StateAbsent && !vm.IsArchSupported() {
		return failed(vm.Name, NewFailure(CodeUnsupportedArchitecture,
			fmt.Errorf("architecture %q is not supported, must be one of %v", vm.Spec.Arch, v1alpha1.SupportedArchitectures)))
	}

	lock := r.lockFor(vm.Name)
	lock.Lock()
	defer lock.Unlock()

	observed, err := r.prober.Probe(ctx, vm.Name)
	if err != nil {
		return failed(vm.Name, NewFailure(CodeProbeError, err))
	}
	current := FromRuntime(observed)

	if r.DryRun {
		return Outcome{
			Changed: wouldChange(vm.Spec.State, current),
			VM: VMInfo{
				Name:          vm.Name,
				DeclaredState: string(vm.Spec.State),
				State:         current,
				IPAddress:     observed.IPAddress,
			},
		}
	}

	changed, failure := r.converge(ctx, vm, current)

	// Re-probe so the outcome reflects what actually holds, not what we
	// attempted.
	final, err := r.prober.Probe(ctx, vm.Name)
	if err != nil && failure == nil {
		failure = NewFailure(CodeProbeError, err)
	}

	info := VMInfo{
		Name:          vm.Name,
		DeclaredState: string(vm.Spec.State),
		State:         FromRuntime(final),
		IPAddress:     final.IPAddress,
	}

	if failure == nil && vm.Spec.WaitForIP && final.Running && info.IPAddress == "" {
		ip, err := r.prober.ResolveIP(ctx, vm.Name, vm.GetIPTimeout())
		if err != nil {
			failure = NewFailure(CodeProbeError, err)
		} else if ip == "" {
			// The wait ran out (timeout or cancellation). The VM is
			// otherwise converged, so this is reported as an absent
			// address rather than a failure.
			log.Printf("No IP observed for VM '%s' before the wait ended", vm.Name)
		}
		info.IPAddress = ip
	}

	outcome := Outcome{Changed: changed, VM: info, Failure: failure}
	if failure != nil {
		outcome.Error = failure.Error()
	}
	return outcome
}

// converge executes the actions needed to move from current to the declared
// state. It returns whether anything was mutated, and the first failure.
func (r *Reconciler) converge(ctx context.Context, vm *v1alpha1.VirtualMachine, current CurrentState) (bool, *Failure) {
	switch vm.Spec.State {
	case v1alpha1.StatePresent:
		if current == CurrentAbsent {
			return r.create(ctx, vm)
		}

	case v1alpha1.StateStarted:
		switch current {
		case CurrentAbsent:
			changed, failure := r.create(ctx, vm)
			if failure != nil {
				return changed, failure
			}
			if err := r.driver.Start(ctx, vm.Name); err != nil {
				return true, NewFailure(CodeProcessError, err)
			}
			return true, nil
		case CurrentDefined:
			if err := r.driver.Start(ctx, vm.Name); err != nil {
				return false, NewFailure(CodeProcessError, err)
			}
			return true, nil
		}

	case v1alpha1.StateStopped:
		// Absent and defined both already satisfy "not running"; only a
		// running VM needs an action.
		if current == CurrentRunning {
			if err := r.driver.Stop(ctx, vm.Name, true); err != nil {
				return false, NewFailure(CodeProcessError, err)
			}
			return true, nil
		}

	case v1alpha1.StateAbsent:
		if current != CurrentAbsent {
			if err := r.driver.Destroy(ctx, vm.Name); err != nil {
				return false, NewFailure(CodeProcessError, err)
			}
			return true, nil
		}
	}

	return false, nil
}

// create provisions the VM's resources and defines its domain, without
// starting it. The changed return is true as soon as the host was mutated,
// even when a later step fails.
func (r *Reconciler) create(ctx context.Context, vm *v1alpha1.VirtualMachine) (bool, *Failure) {
	changed := false

	created, err := r.images.Ensure(ctx, vm.Spec.Disk)
	if created {
		changed = true
	}
	if err != nil {
		return changed, NewFailure(CodeImageError, err)
	}

	if vm.Spec.CloudInit != nil {
		isoData, err := cloudinit.GenerateISO(vm)
		if err != nil {
			return changed, NewFailure(CodeImageError, err)
		}
		isoPath := naming.SeedISOPath(vm.Spec.Disk.Path, vm.Name)
		if err := r.images.WriteSeedISO(isoPath, isoData); err != nil {
			return changed, NewFailure(CodeImageError, err)
		}
		changed = true
	}

	if err := r.driver.Define(ctx, vm); err != nil {
		return changed, NewFailure(CodeProcessError, err)
	}

	return true, nil
}

// wouldChange reports whether converging from current to desired requires
// any action. This is the dry-run mirror of converge.
func wouldChange(desired v1alpha1.DesiredState, current CurrentState) bool {
	switch desired {
	case v1alpha1.StatePresent:
		return current == CurrentAbsent
	case v1alpha1.StateStarted:
		return current != CurrentRunning
	case v1alpha1.StateStopped:
		return current == CurrentRunning
	case v1alpha1.StateAbsent:
		return current != CurrentAbsent
	}
	return false
}

// failed builds an Outcome for a reconciliation that never probed or
// mutated anything. The observed state is left empty.
func failed(name string, failure *Failure) Outcome {
	return Outcome{
		VM:      VMInfo{Name: name},
		Failure: failure,
		Error:   failure.Error(),
	}
}
