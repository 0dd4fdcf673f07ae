package v1alpha1

import (
	"fmt"
	"net"
	"regexp"

	"golang.org/x/crypto/ssh"
)

// VirtualMachine represents a QEMU/KVM virtual machine managed by Anvil.
//
// The resource carries only desired state. Observed state is re-derived from
// the hypervisor on every reconciliation and reported in the reconcile
// outcome; it is never persisted here.
type VirtualMachine struct {
	// TypeMeta contains the API version and kind.
	TypeMeta `json:",inline" yaml:",inline"`

	// ObjectMeta contains metadata like name, labels, annotations.
	// +optional
	ObjectMeta `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// Spec defines the desired state of the VirtualMachine.
	Spec VirtualMachineSpec `json:"spec" yaml:"spec"`
}

// DesiredState is the declared lifecycle state for a VirtualMachine.
type DesiredState string

const (
	// StatePresent means the VM is defined on the host but not necessarily running.
	StatePresent DesiredState = "present"
	// StateStarted means the VM is defined and running.
	StateStarted DesiredState = "started"
	// StateStopped means the VM may exist but must not be running.
	StateStopped DesiredState = "stopped"
	// StateAbsent means the VM and its backing disk are removed from the host.
	StateAbsent DesiredState = "absent"
)

// NetworkMode selects how the guest is attached to the network.
type NetworkMode string

const (
	// NetworkModeUser is QEMU user-mode (SLIRP) networking with an SSH
	// host-forward. The guest presents as localhost on the forwarded port.
	NetworkModeUser NetworkMode = "user"
	// NetworkModeBridge attaches the guest to a host bridge interface.
	NetworkModeBridge NetworkMode = "bridge"
)

// VirtualMachineSpec defines the desired state of a VirtualMachine.
type VirtualMachineSpec struct {
	// State is the desired lifecycle state.
	// Valid values: "present" (default), "started", "stopped", "absent".
	// +optional
	State DesiredState `json:"state,omitempty" yaml:"state,omitempty"`

	// MemoryMB is the amount of memory to allocate in mebibytes.
	// +optional
	MemoryMB int `json:"memoryMB,omitempty" yaml:"memoryMB,omitempty"`

	// VCPUs is the number of virtual CPUs to allocate.
	// +optional
	VCPUs int `json:"vcpus,omitempty" yaml:"vcpus,omitempty"`

	// Arch is the guest architecture. Valid values: "x86_64" (default), "aarch64".
	// +optional
	Arch string `json:"arch,omitempty" yaml:"arch,omitempty"`

	// Disk defines the backing boot disk.
	Disk DiskSpec `json:"disk" yaml:"disk"`

	// Network defines guest network attachment.
	// +optional
	Network NetworkSpec `json:"network,omitempty" yaml:"network,omitempty"`

	// CloudInit holds optional NoCloud seed configuration.
	// +optional
	CloudInit *CloudInitSpec `json:"cloudInit,omitempty" yaml:"cloudInit,omitempty"`

	// WaitForIP requests that reconciliation resolve the guest IP address
	// after the VM reaches the running state.
	// +optional
	WaitForIP bool `json:"waitForIP,omitempty" yaml:"waitForIP,omitempty"`

	// IPTimeoutSeconds bounds the guest IP wait. Zero means use the default.
	// +optional
	IPTimeoutSeconds int `json:"ipTimeoutSeconds,omitempty" yaml:"ipTimeoutSeconds,omitempty"`
}

// DiskSpec defines the VM's backing disk image.
type DiskSpec struct {
	// Path is the filesystem path of the qcow2 backing image.
	Path string `json:"path" yaml:"path"`

	// SizeGB is the virtual disk size in gigabytes. It applies only when the
	// image is first created; an existing image is never resized.
	SizeGB int `json:"sizeGB" yaml:"sizeGB"`

	// BaseImage is an optional qcow2 base image used as a backing file,
	// so the VM writes into an overlay without modifying the base.
	// +optional
	BaseImage string `json:"baseImage,omitempty" yaml:"baseImage,omitempty"`
}

// NetworkSpec defines guest network attachment.
type NetworkSpec struct {
	// Mode selects user-mode or bridged networking. Defaults to "user".
	// +optional
	Mode NetworkMode `json:"mode,omitempty" yaml:"mode,omitempty"`

	// Bridge is the host bridge interface name. Required when mode=bridge.
	// +optional
	Bridge string `json:"bridge,omitempty" yaml:"bridge,omitempty"`

	// IP is an optional static address (with CIDR) used to derive a
	// deterministic MAC address in bridge mode.
	// +optional
	IP string `json:"ip,omitempty" yaml:"ip,omitempty"`

	// SSHPort is the host port forwarded to guest port 22 in user mode.
	// Zero lets the hypervisor pick.
	// +optional
	SSHPort int `json:"sshPort,omitempty" yaml:"sshPort,omitempty"`
}

// CloudInitSpec contains cloud-init NoCloud seed configuration.
// Follows the cloud-init spec: https://cloudinit.readthedocs.io/
// Note: Hostname is derived from FQDN (everything before the first dot).
type CloudInitSpec struct {
	// FQDN is the guest's fully qualified domain name.
	// +optional
	FQDN string `json:"fqdn,omitempty" yaml:"fqdn,omitempty"`

	// SSHKeys are authorized public keys installed for the default user.
	// +optional
	SSHKeys []string `json:"sshKeys,omitempty" yaml:"sshKeys,omitempty"`

	// RootPasswordHash is a crypt(5) hash set for root.
	// +optional
	RootPasswordHash string `json:"rootPasswordHash,omitempty" yaml:"rootPasswordHash,omitempty"`

	// SSHPwAuth enables SSH password authentication. Pointer to distinguish
	// unset from false.
	// +optional
	SSHPwAuth *bool `json:"sshPwAuth,omitempty" yaml:"sshPwAuth,omitempty"`
}

// Defaults applied by ApplyDefaults. These mirror the historical module
// defaults so existing manifests keep their meaning.
const (
	DefaultMemoryMB         = 2048
	DefaultVCPUs            = 2
	DefaultArch             = "x86_64"
	DefaultIPTimeoutSeconds = 300
)

// SupportedArchitectures lists the guest architectures the driver can define.
var SupportedArchitectures = []string{"x86_64", "aarch64"}

// vmNamePattern matches libvirt domain name requirements: must start and end
// with alphanumeric, may contain hyphens and underscores in between.
var (
	vmNamePattern       = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*[a-z0-9]$`)
	vmNameSinglePattern = regexp.MustCompile(`^[a-z0-9]$`)
)

// ApplyDefaults fills unset spec fields with their default values.
func (vm *VirtualMachine) ApplyDefaults() {
	if vm.Spec.State == "" {
		vm.Spec.State = StatePresent
	}
	if vm.Spec.MemoryMB == 0 {
		vm.Spec.MemoryMB = DefaultMemoryMB
	}
	if vm.Spec.VCPUs == 0 {
		vm.Spec.VCPUs = DefaultVCPUs
	}
	if vm.Spec.Arch == "" {
		vm.Spec.Arch = DefaultArch
	}
	if vm.Spec.Network.Mode == "" {
		vm.Spec.Network.Mode = NetworkModeUser
	}
	if vm.Spec.WaitForIP && vm.Spec.IPTimeoutSeconds == 0 {
		vm.Spec.IPTimeoutSeconds = DefaultIPTimeoutSeconds
	}
}

// Validate checks the resource for errors. It validates structure only, not
// hypervisor resources (bridges, base images, etc).
func (vm *VirtualMachine) Validate() error {
	if vm.Name == "" {
		return fmt.Errorf("metadata.name is required")
	}

	pattern := vmNamePattern
	if len(vm.Name) == 1 {
		pattern = vmNameSinglePattern
	}
	if !pattern.MatchString(vm.Name) {
		return fmt.Errorf("name must start and end with alphanumeric characters and contain only alphanumeric, hyphens, or underscores, got %q", vm.Name)
	}

	switch vm.Spec.State {
	case StatePresent, StateStarted, StateStopped, StateAbsent:
	default:
		return fmt.Errorf("state must be one of present, started, stopped, absent, got %q", vm.Spec.State)
	}

	if vm.Spec.MemoryMB <= 0 {
		return fmt.Errorf("memoryMB must be > 0, got %d", vm.Spec.MemoryMB)
	}
	if vm.Spec.VCPUs <= 0 {
		return fmt.Errorf("vcpus must be > 0, got %d", vm.Spec.VCPUs)
	}
	if vm.Spec.IPTimeoutSeconds < 0 {
		return fmt.Errorf("ipTimeoutSeconds must be >= 0, got %d", vm.Spec.IPTimeoutSeconds)
	}

	// Removal doesn't touch the disk spec, so don't require one.
	if vm.Spec.State != StateAbsent {
		if err := vm.Spec.Disk.Validate(); err != nil {
			return fmt.Errorf("disk: %w", err)
		}
	}

	if err := vm.Spec.Network.Validate(); err != nil {
		return fmt.Errorf("network: %w", err)
	}

	if vm.Spec.CloudInit != nil {
		if err := vm.Spec.CloudInit.Validate(); err != nil {
			return fmt.Errorf("cloudInit: %w", err)
		}
	}

	return nil
}

// IsArchSupported reports whether the spec's architecture can be defined on
// this driver.
func (vm *VirtualMachine) IsArchSupported() bool {
	for _, arch := range SupportedArchitectures {
		if vm.Spec.Arch == arch {
			return true
		}
	}
	return false
}

// Validate checks the disk spec.
func (d *DiskSpec) Validate() error {
	if d.Path == "" {
		return fmt.Errorf("path is required")
	}
	if d.SizeGB <= 0 {
		return fmt.Errorf("sizeGB must be > 0, got %d", d.SizeGB)
	}
	return nil
}

// Validate checks the network spec.
func (n *NetworkSpec) Validate() error {
	switch n.Mode {
	case NetworkModeUser, NetworkModeBridge, "":
	default:
		return fmt.Errorf("mode must be user or bridge, got %q", n.Mode)
	}

	if n.Mode == NetworkModeBridge && n.Bridge == "" {
		return fmt.Errorf("bridge is required when mode=bridge")
	}
	if n.Mode != NetworkModeBridge && n.Bridge != "" {
		return fmt.Errorf("bridge is only valid when mode=bridge")
	}

	if n.IP != "" {
		if _, _, err := net.ParseCIDR(n.IP); err != nil {
			return fmt.Errorf("invalid ip/cidr format %q: %w", n.IP, err)
		}
	}

	if n.SSHPort < 0 || n.SSHPort > 65535 {
		return fmt.Errorf("sshPort must be in [0, 65535], got %d", n.SSHPort)
	}

	return nil
}

// Validate checks the cloud-init spec.
func (c *CloudInitSpec) Validate() error {
	// Validate FQDN format if provided
	if c.FQDN != "" {
		// FQDN must be a valid hostname with at least one dot.
		// RFC 952/1123: labels of 1-63 chars, start/end alphanumeric.
		fqdnPattern := `^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+$`
		matched, err := regexp.MatchString(fqdnPattern, c.FQDN)
		if err != nil {
			return fmt.Errorf("fqdn validation error: %w", err)
		}
		if !matched {
			return fmt.Errorf("fqdn must be a valid hostname with domain (e.g., host.example.com), got %q", c.FQDN)
		}
	}

	// Validate SSH keys using golang.org/x/crypto/ssh parser
	for i, key := range c.SSHKeys {
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key)); err != nil {
			return fmt.Errorf("sshKeys[%d] is not a valid SSH public key: %w", i, err)
		}
	}

	if c.RootPasswordHash != "" {
		if len(c.RootPasswordHash) < 10 || c.RootPasswordHash[0] != '$' {
			return fmt.Errorf("rootPasswordHash must be a valid crypt hash (should start with $)")
		}
	}

	return nil
}
