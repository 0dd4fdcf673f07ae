package cloudinit

import (
	"bytes"
	"fmt"

	"github.com/kdomanski/iso9660"

	"github.com/jbweber/anvil/api/v1alpha1"
)

// GenerateISO creates a cloud-init NoCloud seed ISO for the VM.
//
// The generated ISO contains user-data and meta-data in the root directory,
// plus network-config when the VM declares a static bridge address. The
// volume label is "CIDATA" as required by the NoCloud datasource.
//
// Returns the ISO image as a byte slice, ready to be written next to the
// VM's disk image.
func GenerateISO(vm *v1alpha1.VirtualMachine) ([]byte, error) {
	if vm == nil {
		return nil, fmt.Errorf("VM cannot be nil")
	}

	userData, err := GenerateUserData(vm)
	if err != nil {
		return nil, fmt.Errorf("failed to generate user-data: %w", err)
	}

	metaData, err := GenerateMetaData(vm)
	if err != nil {
		return nil, fmt.Errorf("failed to generate meta-data: %w", err)
	}

	networkConfig, err := GenerateNetworkConfig(vm)
	if err != nil {
		return nil, fmt.Errorf("failed to generate network-config: %w", err)
	}

	writer, err := iso9660.NewWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to create ISO writer: %w", err)
	}
	defer func() {
		// Cleanup temporary files created by the ISO writer. The ISO has
		// already been generated, so cleanup errors are ignored.
		_ = writer.Cleanup()
	}()

	if err := writer.AddFile(bytes.NewReader([]byte(userData)), "user-data"); err != nil {
		return nil, fmt.Errorf("failed to add user-data: %w", err)
	}

	if err := writer.AddFile(bytes.NewReader([]byte(metaData)), "meta-data"); err != nil {
		return nil, fmt.Errorf("failed to add meta-data: %w", err)
	}

	// An empty network-config means "let the guest DHCP"; omit the file.
	if networkConfig != "" {
		if err := writer.AddFile(bytes.NewReader([]byte(networkConfig)), "network-config"); err != nil {
			return nil, fmt.Errorf("failed to add network-config: %w", err)
		}
	}

	var buf bytes.Buffer

	// The volume identifier must be uppercase CIDATA per the NoCloud spec.
	if err := writer.WriteTo(&buf, "CIDATA"); err != nil {
		return nil, fmt.Errorf("failed to write ISO image: %w", err)
	}

	return buf.Bytes(), nil
}
