// Package naming provides infrastructure-level naming conventions for
// hypervisor resources. This includes MAC address calculation from IP,
// tap interface naming, and the on-disk layout of VM artifacts.
//
// These naming rules are version-independent and shared across all
// API versions.
package naming

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"
)

// MACFromIP calculates a deterministic MAC address from an IP address.
// Uses the locally administered be:ef: prefix.
//
// Example: IP 10.55.22.22 → MAC be:ef:0a:37:16:16
func MACFromIP(ip string) (string, error) {
	ipv4, err := parseIPv4(ip)
	if err != nil {
		return "", err
	}

	// Format: be:ef:XX:XX:XX:XX where XX are IP octets in hex
	return fmt.Sprintf("be:ef:%02x:%02x:%02x:%02x",
		ipv4[0], ipv4[1], ipv4[2], ipv4[3]), nil
}

// InterfaceNameFromIP calculates a deterministic tap interface name from an
// IP address. Format: vm{hex_octets} (10 chars, within the Linux 15-char limit).
//
// Example: IP 10.55.22.22 → vm0a371616
func InterfaceNameFromIP(ip string) (string, error) {
	ipv4, err := parseIPv4(ip)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("vm%02x%02x%02x%02x",
		ipv4[0], ipv4[1], ipv4[2], ipv4[3]), nil
}

// parseIPv4 parses an IP that may carry a CIDR suffix and returns its
// 4-byte representation.
func parseIPv4(ip string) (net.IP, error) {
	ipStr := ip
	if strings.Contains(ip, "/") {
		ipAddr, _, err := net.ParseCIDR(ip)
		if err != nil {
			return nil, fmt.Errorf("invalid IP/CIDR: %w", err)
		}
		ipStr = ipAddr.String()
	}

	parsedIP := net.ParseIP(ipStr)
	if parsedIP == nil {
		return nil, fmt.Errorf("invalid IP address: %s", ipStr)
	}

	ipv4 := parsedIP.To4()
	if ipv4 == nil {
		return nil, fmt.Errorf("not an IPv4 address: %s", ipStr)
	}

	return ipv4, nil
}

// SeedISOPath returns the path of a VM's cloud-init seed ISO. The ISO lives
// next to the backing disk image so both are cleaned up together.
// Format: {image dir}/{vmName}-cloudinit.iso
func SeedISOPath(imagePath, vmName string) string {
	return filepath.Join(filepath.Dir(imagePath), fmt.Sprintf("%s-cloudinit.iso", vmName))
}
