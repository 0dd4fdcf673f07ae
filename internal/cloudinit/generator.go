// Package cloudinit provides cloud-init configuration generation for VM provisioning.
//
// This package generates cloud-init configuration files (user-data, meta-data,
// network-config) following the official cloud-init NoCloud datasource
// specification.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
package cloudinit

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/naming"
)

// UserData represents the cloud-config user-data structure.
// This is marshaled to YAML and prefixed with "#cloud-config" header.
//
// See https://cloudinit.readthedocs.io/en/latest/explanation/format.html#cloud-config-data
type UserData struct {
	Hostname          string    `yaml:"hostname"`
	FQDN              string    `yaml:"fqdn"`
	SSHAuthorizedKeys []string  `yaml:"ssh_authorized_keys,omitempty"`
	Chpasswd          *Chpasswd `yaml:"chpasswd,omitempty"`
	SSHPasswordAuth   bool      `yaml:"ssh_pwauth"`
	Output            *Output   `yaml:"output,omitempty"`
}

// Chpasswd configures user password settings.
type Chpasswd struct {
	Expire bool   `yaml:"expire"` // Whether to expire passwords on first login
	List   string `yaml:"list"`   // Format: "username:hash"
}

// Output configures cloud-init output logging.
type Output struct {
	All string `yaml:"all"`
}

// MetaData represents the cloud-init meta-data structure.
type MetaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// NetworkConfig represents the netplan v2 network configuration.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/network-config-format-v2.html
type NetworkConfig struct {
	Version   int                       `yaml:"version"`
	Ethernets map[string]EthernetConfig `yaml:"ethernets"`
}

// EthernetConfig represents a single ethernet interface configuration.
type EthernetConfig struct {
	Match     MatchConfig `yaml:"match"`
	Addresses []string    `yaml:"addresses"`
}

// MatchConfig matches an interface by MAC address.
type MatchConfig struct {
	MACAddress string `yaml:"macaddress"`
}

// GenerateUserData generates the user-data YAML content for a VM.
//
// Returns the complete user-data file content including the "#cloud-config" header.
func GenerateUserData(vm *v1alpha1.VirtualMachine) (string, error) {
	if vm == nil {
		return "", fmt.Errorf("VM cannot be nil")
	}

	// Derive hostname from FQDN or VM name
	hostname := vm.Name
	fqdn := vm.Name
	if vm.Spec.CloudInit != nil && vm.Spec.CloudInit.FQDN != "" {
		fqdn = vm.Spec.CloudInit.FQDN
		hostname = strings.SplitN(fqdn, ".", 2)[0]
	}

	userData := UserData{
		Hostname:        hostname,
		FQDN:            fqdn,
		SSHPasswordAuth: false,
		Output: &Output{
			All: "| tee -a /var/log/cloud-init-output.log",
		},
	}

	if ci := vm.Spec.CloudInit; ci != nil {
		if len(ci.SSHKeys) > 0 {
			userData.SSHAuthorizedKeys = ci.SSHKeys
		}

		if ci.RootPasswordHash != "" {
			userData.Chpasswd = &Chpasswd{
				Expire: false,
				List:   fmt.Sprintf("root:%s", ci.RootPasswordHash),
			}
		}

		if ci.SSHPwAuth != nil {
			userData.SSHPasswordAuth = *ci.SSHPwAuth
		}
	}

	yamlBytes, err := yaml.Marshal(&userData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal user-data to YAML: %w", err)
	}

	// #cloud-config header is required by the cloud-init spec
	return "#cloud-config\n" + string(yamlBytes), nil
}

// GenerateMetaData generates the meta-data YAML content for a VM.
//
// The instance-id is the VM's UID. Cloud-init uses instance-id to determine
// first boot, so a VM destroyed and recreated under the same name gets a
// fresh UID and re-runs cloud-init.
func GenerateMetaData(vm *v1alpha1.VirtualMachine) (string, error) {
	if vm == nil {
		return "", fmt.Errorf("VM cannot be nil")
	}

	instanceID := vm.UID
	if instanceID == "" {
		instanceID = vm.Name
	}

	metaData := MetaData{
		InstanceID:    instanceID,
		LocalHostname: vm.Name,
	}

	yamlBytes, err := yaml.Marshal(&metaData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal meta-data to YAML: %w", err)
	}

	return string(yamlBytes), nil
}

// GenerateNetworkConfig generates the network-config YAML content for a VM.
//
// Only bridge-mode VMs with a static IP get a network-config: the interface
// is matched by its deterministic MAC address and assigned the declared
// address. User-mode and DHCP guests return an empty string, meaning the
// file should be omitted so cloud-init falls back to DHCP.
func GenerateNetworkConfig(vm *v1alpha1.VirtualMachine) (string, error) {
	if vm == nil {
		return "", fmt.Errorf("VM cannot be nil")
	}

	net := vm.Spec.Network
	if net.Mode != v1alpha1.NetworkModeBridge || net.IP == "" {
		return "", nil
	}

	macAddr, err := naming.MACFromIP(net.IP)
	if err != nil {
		return "", fmt.Errorf("failed to calculate MAC address for %s: %w", net.IP, err)
	}

	networkConfig := NetworkConfig{
		Version: 2,
		Ethernets: map[string]EthernetConfig{
			"eth0": {
				Match:     MatchConfig{MACAddress: macAddr},
				Addresses: []string{net.IP},
			},
		},
	}

	yamlBytes, err := yaml.Marshal(&networkConfig)
	if err != nil {
		return "", fmt.Errorf("failed to marshal network-config to YAML: %w", err)
	}

	return string(yamlBytes), nil
}
