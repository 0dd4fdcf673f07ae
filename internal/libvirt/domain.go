package libvirt

import (
	"fmt"

	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/naming"
)

// GenerateDomainXML generates libvirt domain XML from a VirtualMachine spec.
//
// The domain boots from the spec's file-backed qcow2 disk. When cloud-init
// is configured, the NoCloud seed ISO is attached as a read-only cdrom next
// to the disk image.
func GenerateDomainXML(vm *v1alpha1.VirtualMachine) (string, error) {
	if !vm.IsArchSupported() {
		return "", fmt.Errorf("unsupported architecture: %s", vm.Spec.Arch)
	}

	machine := ""
	if vm.Spec.Arch == "aarch64" {
		// aarch64 guests need the generic virt machine type.
		machine = "virt"
	}

	domain := &libvirtxml.Domain{
		Type: "kvm",
		Name: vm.Name,
		Memory: &libvirtxml.DomainMemory{
			Value: uint(vm.Spec.MemoryMB),
			Unit:  "MiB",
		},
		VCPU: &libvirtxml.DomainVCPU{
			Placement: "static",
			Value:     uint(vm.Spec.VCPUs),
		},
		OS: &libvirtxml.DomainOS{
			Firmware: "efi",
			Type: &libvirtxml.DomainOSType{
				Arch:    vm.Spec.Arch,
				Machine: machine,
				Type:    "hvm",
			},
			BIOS: &libvirtxml.DomainBIOS{
				UseSerial: "yes",
			},
		},
		Features: &libvirtxml.DomainFeatureList{
			ACPI: &libvirtxml.DomainFeature{},
		},
		CPU: &libvirtxml.DomainCPU{
			Mode: "host-model",
			Model: &libvirtxml.DomainCPUModel{
				Fallback: "allow",
			},
		},
		Clock: &libvirtxml.DomainClock{
			Offset: "utc",
			Timer: []libvirtxml.DomainTimer{
				{Name: "rtc", TickPolicy: "catchup"},
				{Name: "pit", TickPolicy: "delay"},
				{Name: "hpet", Present: "no"},
			},
		},
		OnPoweroff: "destroy",
		OnReboot:   "restart",
		OnCrash:    "restart",
		Devices: &libvirtxml.DomainDeviceList{
			MemBalloon: &libvirtxml.DomainMemBalloon{
				Model: "virtio",
			},
			RNGs: []libvirtxml.DomainRNG{
				{
					Model: "virtio",
					Backend: &libvirtxml.DomainRNGBackend{
						Random: &libvirtxml.DomainRNGBackendRandom{
							Device: "/dev/urandom",
						},
					},
				},
			},
		},
	}

	// Boot disk (file-backed qcow2)
	bootDisk := libvirtxml.DomainDisk{
		Device: "disk",
		Driver: &libvirtxml.DomainDiskDriver{
			Name:  "qemu",
			Type:  "qcow2",
			Cache: "none",
		},
		Source: &libvirtxml.DomainDiskSource{
			File: &libvirtxml.DomainDiskSourceFile{
				File: vm.Spec.Disk.Path,
			},
		},
		Target: &libvirtxml.DomainDiskTarget{
			Dev: "vda",
			Bus: "virtio",
		},
		Boot: &libvirtxml.DomainDeviceBoot{
			Order: 1,
		},
	}
	domain.Devices.Disks = append(domain.Devices.Disks, bootDisk)

	// Cloud-init seed ISO if configured
	if vm.Spec.CloudInit != nil {
		cdrom := libvirtxml.DomainDisk{
			Device: "cdrom",
			Driver: &libvirtxml.DomainDiskDriver{
				Name: "qemu",
				Type: "raw",
			},
			Source: &libvirtxml.DomainDiskSource{
				File: &libvirtxml.DomainDiskSourceFile{
					File: naming.SeedISOPath(vm.Spec.Disk.Path, vm.Name),
				},
			},
			Target: &libvirtxml.DomainDiskTarget{
				Dev: "sda",
				Bus: "sata",
			},
			ReadOnly: &libvirtxml.DomainDiskReadOnly{},
		}
		domain.Devices.Disks = append(domain.Devices.Disks, cdrom)
	}

	// Network interface
	iface, err := generateInterface(vm)
	if err != nil {
		return "", err
	}
	domain.Devices.Interfaces = append(domain.Devices.Interfaces, *iface)

	// Serial console
	domain.Devices.Serials = []libvirtxml.DomainSerial{
		{
			Source: &libvirtxml.DomainChardevSource{
				Pty: &libvirtxml.DomainChardevSourcePty{},
			},
			Target: &libvirtxml.DomainSerialTarget{
				Port: func() *uint { p := uint(0); return &p }(),
			},
		},
	}
	domain.Devices.Consoles = []libvirtxml.DomainConsole{
		{
			Source: &libvirtxml.DomainChardevSource{
				Pty: &libvirtxml.DomainChardevSourcePty{},
			},
			Target: &libvirtxml.DomainConsoleTarget{
				Type: "serial",
				Port: func() *uint { p := uint(0); return &p }(),
			},
		},
	}

	xml, err := domain.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal domain XML: %w", err)
	}

	return xml, nil
}

// generateInterface builds the domain's network interface from the spec.
func generateInterface(vm *v1alpha1.VirtualMachine) (*libvirtxml.DomainInterface, error) {
	net := vm.Spec.Network

	if net.Mode == v1alpha1.NetworkModeBridge {
		iface := &libvirtxml.DomainInterface{
			Source: &libvirtxml.DomainInterfaceSource{
				Bridge: &libvirtxml.DomainInterfaceSourceBridge{
					Bridge: net.Bridge,
				},
			},
			Model: &libvirtxml.DomainInterfaceModel{
				Type: "virtio",
			},
		}

		// A static IP gives us deterministic MAC and tap names.
		if net.IP != "" {
			macAddr, err := naming.MACFromIP(net.IP)
			if err != nil {
				return nil, fmt.Errorf("failed to calculate MAC address for %s: %w", net.IP, err)
			}
			ifaceName, err := naming.InterfaceNameFromIP(net.IP)
			if err != nil {
				return nil, fmt.Errorf("failed to calculate interface name for %s: %w", net.IP, err)
			}
			iface.MAC = &libvirtxml.DomainInterfaceMAC{Address: macAddr}
			iface.Target = &libvirtxml.DomainInterfaceTarget{Dev: ifaceName}
		}

		return iface, nil
	}

	// User-mode (SLIRP) networking, optionally forwarding a host port to
	// guest SSH.
	iface := &libvirtxml.DomainInterface{
		Source: &libvirtxml.DomainInterfaceSource{
			User: &libvirtxml.DomainInterfaceSourceUser{},
		},
		Model: &libvirtxml.DomainInterfaceModel{
			Type: "virtio",
		},
	}

	if net.SSHPort > 0 {
		iface.PortForward = []libvirtxml.DomainInterfaceSourcePortForward{
			{
				Proto: "tcp",
				Ranges: []libvirtxml.DomainInterfaceSourcePortForwardRange{
					{Start: uint(net.SSHPort), To: 22},
				},
			},
		}
	}

	return iface, nil
}
