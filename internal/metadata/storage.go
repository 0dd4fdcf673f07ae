// Package metadata persists VirtualMachine specifications in libvirt's
// custom XML metadata. The spec travels with the domain itself, so no
// external state store is needed to reconstruct what a VM was declared as.
package metadata

import (
	"encoding/xml"
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/anvil/api/v1alpha1"
)

const (
	// Namespace is the XML namespace for anvil metadata.
	Namespace = "http://anvil.cofront.xyz/v1alpha1"

	// Key is the key used to store/retrieve metadata from libvirt.
	Key = "anvil-vm-spec"
)

// Client defines the libvirt metadata operations this package needs.
// Satisfied by *libvirt.Libvirt in production and by mocks in tests.
type Client interface {
	DomainSetMetadata(dom libvirt.Domain, typ int32, metadata libvirt.OptString, key libvirt.OptString, uri libvirt.OptString, flags libvirt.DomainModificationImpact) error
	DomainGetMetadata(dom libvirt.Domain, typ int32, uri libvirt.OptString, flags libvirt.DomainModificationImpact) (string, error)
}

// Envelope is the XML structure wrapping a VirtualMachine in domain metadata.
// The spec is stored as YAML text so it stays human-readable when inspecting
// the domain XML directly.
type Envelope struct {
	XMLName xml.Name `xml:"metadata"`
	Xmlns   string   `xml:"xmlns,attr"`
	// SpecYAML contains the VirtualMachine serialized as YAML
	SpecYAML string `xml:",innerxml"`
}

// Store saves the VirtualMachine spec to libvirt domain metadata.
func Store(c Client, domain libvirt.Domain, vm *v1alpha1.VirtualMachine) error {
	yamlData, err := yaml.Marshal(vm)
	if err != nil {
		return fmt.Errorf("failed to marshal VM spec to YAML: %w", err)
	}

	envelope := Envelope{
		Xmlns:    Namespace,
		SpecYAML: string(yamlData),
	}

	xmlData, err := xml.MarshalIndent(envelope, "  ", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata to XML: %w", err)
	}

	// flags: 0 = replace existing metadata
	err = c.DomainSetMetadata(
		domain,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{string(xmlData)},
		libvirt.OptString{Key},
		libvirt.OptString{Namespace},
		libvirt.DomainModificationImpact(0),
	)
	if err != nil {
		return fmt.Errorf("failed to set libvirt domain metadata: %w", err)
	}

	return nil
}

// Load retrieves the VirtualMachine spec from libvirt domain metadata.
func Load(c Client, domain libvirt.Domain) (*v1alpha1.VirtualMachine, error) {
	xmlStr, err := c.DomainGetMetadata(
		domain,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{Namespace},
		libvirt.DomainModificationImpact(0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get libvirt domain metadata: %w", err)
	}

	var envelope Envelope
	if err := xml.Unmarshal([]byte(xmlStr), &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata XML: %w", err)
	}

	var vm v1alpha1.VirtualMachine
	if err := yaml.Unmarshal([]byte(envelope.SpecYAML), &vm); err != nil {
		return nil, fmt.Errorf("failed to unmarshal VM spec from YAML: %w", err)
	}

	return &vm, nil
}

// Delete removes anvil metadata from a domain.
// This is typically called during VM destruction cleanup.
func Delete(c Client, domain libvirt.Domain) error {
	// Setting empty string with flags=1 removes the metadata
	err := c.DomainSetMetadata(
		domain,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{""},
		libvirt.OptString{Key},
		libvirt.OptString{Namespace},
		libvirt.DomainModificationImpact(1),
	)
	if err != nil {
		return fmt.Errorf("failed to delete libvirt domain metadata: %w", err)
	}

	return nil
}

// Exists checks if anvil metadata exists for a domain.
func Exists(c Client, domain libvirt.Domain) bool {
	_, err := c.DomainGetMetadata(
		domain,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{Namespace},
		libvirt.DomainModificationImpact(0),
	)
	return err == nil
}
