package v1alpha1

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// GroupName is the API group for Anvil resources.
	GroupName = "anvil.cofront.xyz"

	// Version is the API version.
	Version = "v1alpha1"

	// VirtualMachineKind is the kind string for VirtualMachine resources.
	VirtualMachineKind = "VirtualMachine"
)

// APIVersion returns the full apiVersion string for this package's types.
func APIVersion() string {
	return GroupName + "/" + Version
}

// NewVirtualMachine creates a new VirtualMachine with TypeMeta and ObjectMeta
// defaults and spec defaults applied.
func NewVirtualMachine(name string) *VirtualMachine {
	vm := &VirtualMachine{
		TypeMeta: TypeMeta{
			APIVersion: APIVersion(),
			Kind:       VirtualMachineKind,
		},
		ObjectMeta: ObjectMeta{
			Name:              name,
			UID:               uuid.New().String(),
			CreationTimestamp: Time{Time: time.Now()},
		},
	}
	vm.ApplyDefaults()
	return vm
}

// SetDefaultAPIVersion ensures the VM has the correct apiVersion and kind.
// Useful when loading from files that might be missing these fields.
func SetDefaultAPIVersion(vm *VirtualMachine) {
	if vm.APIVersion == "" {
		vm.APIVersion = APIVersion()
	}
	if vm.Kind == "" {
		vm.Kind = VirtualMachineKind
	}
}

// Normalize sanitizes user input to consistent formats.
// This is called automatically before validation.
func (vm *VirtualMachine) Normalize() {
	// Normalize VM name to lowercase
	vm.Name = strings.ToLower(strings.TrimSpace(vm.Name))

	// Normalize cloud-init FQDN to lowercase (hostname will be derived from this)
	if vm.Spec.CloudInit != nil {
		vm.Spec.CloudInit.FQDN = strings.ToLower(strings.TrimSpace(vm.Spec.CloudInit.FQDN))
	}

	// Note: Bridge names are NOT normalized - they must match hypervisor config exactly
}

// GetIPTimeout returns the configured guest IP wait bound, applying the
// default when unset.
func (vm *VirtualMachine) GetIPTimeout() time.Duration {
	if vm.Spec.IPTimeoutSeconds <= 0 {
		return time.Duration(DefaultIPTimeoutSeconds) * time.Second
	}
	return time.Duration(vm.Spec.IPTimeoutSeconds) * time.Second
}
