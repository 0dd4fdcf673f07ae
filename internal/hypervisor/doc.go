// Package hypervisor provides the process driver for VM lifecycle actions.
//
// The Driver executes individual lifecycle transitions against libvirt:
// define, start, stop (graceful with forced fallback), and destroy. It
// performs exactly the action asked of it and reports failure without
// retrying; deciding WHICH action to take is the reconciler's job.
//
// Destroy removes the domain definition along with its file-backed disks
// and cloud-init seed ISO, discovered by parsing the domain's own XML so
// no external bookkeeping is needed.
package hypervisor
