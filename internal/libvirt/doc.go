// Package libvirt provides a client wrapper for interacting with libvirt.
//
// This package wraps github.com/digitalocean/go-libvirt to provide:
//   - Connection management (connect, disconnect, ping)
//   - Domain XML generation from VirtualMachine specs
//
// The Client type provides connection lifecycle management while exposing
// the underlying *libvirt.Libvirt for packages that need direct access to
// the libvirt API.
//
// Connection Management:
//
//	client, err := libvirt.Connect("", 0)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	if err := client.Ping(); err != nil {
//	    return err
//	}
//
// Domain XML Generation:
//
//	xml, err := libvirt.GenerateDomainXML(vm)
//	if err != nil {
//	    return err
//	}
//	dom, err := client.Libvirt().DomainDefineXML(xml)
//
// Consumer-Side Interfaces:
//
// This package does not define interfaces. Instead, consumers
// (internal/hypervisor, internal/probe, internal/metadata) define their own
// client interfaces specifying only the operations they need. The
// *libvirt.Libvirt type satisfies these interfaces implicitly, enabling
// clean dependency injection in tests.
package libvirt
