package reconcile

// VMInfo describes a VM's observed state after reconciliation.
type VMInfo struct {
	// Name is the VM name.
	Name string `json:"name" yaml:"name"`

	// DeclaredState echoes the desired state the VM was reconciled toward,
	// when known.
	DeclaredState string `json:"declaredState,omitempty" yaml:"declaredState,omitempty"`

	// State is the observed lifecycle state (absent, defined, running).
	// Empty when reconciliation failed before the first probe.
	State CurrentState `json:"state,omitempty" yaml:"state,omitempty"`

	// IPAddress is the guest's primary IPv4 address, if one was observed.
	IPAddress string `json:"ipAddress,omitempty" yaml:"ipAddress,omitempty"`
}

// Outcome is the result of reconciling one VM.
//
// Changed and Failure are independent: a reconciliation that created the
// disk image but failed to define the domain reports Changed=true alongside
// the failure, because the host was mutated.
type Outcome struct {
	// Changed is true when at least one action was executed (or, in dry-run
	// mode, would have been executed).
	Changed bool `json:"changed" yaml:"changed"`

	// VM is the observed state after all actions completed.
	VM VMInfo `json:"vm" yaml:"vm"`

	// Failure is non-nil when reconciliation failed.
	Failure *Failure `json:"-" yaml:"-"`

	// Error is the failure rendered for serialized output.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Err returns the outcome's failure as an error, or nil on success.
func (o Outcome) Err() error {
	if o.Failure == nil {
		return nil
	}
	return o.Failure
}
