package reconcile

import (
	"github.com/jbweber/anvil/internal/probe"
)

// CurrentState is the observed lifecycle state of a VM.
type CurrentState string

const (
	// CurrentAbsent means the domain is not defined in libvirt.
	CurrentAbsent CurrentState = "absent"

	// CurrentDefined means the domain is defined but not running.
	CurrentDefined CurrentState = "defined"

	// CurrentRunning means the domain is actively running.
	CurrentRunning CurrentState = "running"
)

// FromRuntime collapses a probe observation into a lifecycle state.
func FromRuntime(rs probe.RuntimeState) CurrentState {
	switch {
	case !rs.Exists:
		return CurrentAbsent
	case rs.Running:
		return CurrentRunning
	default:
		return CurrentDefined
	}
}
