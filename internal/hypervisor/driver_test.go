package hypervisor

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/digitalocean/go-libvirt"

	"github.com/jbweber/anvil/api/v1alpha1"
)

func testVM(name string) *v1alpha1.VirtualMachine {
	vm := v1alpha1.NewVirtualMachine(name)
	vm.Spec.State = v1alpha1.StateStarted
	vm.Spec.Disk = v1alpha1.DiskSpec{
		Path:   "/var/lib/anvil/" + name + ".qcow2",
		SizeGB: 20,
	}
	return vm
}

func newTestDriver(mock *mockLibvirtClient) (*Driver, *[]string) {
	d := NewDriver(mock)
	var removed []string
	d.removeFile = func(path string) error {
		removed = append(removed, path)
		return nil
	}
	return d, &removed
}

func TestDefine(t *testing.T) {
	mock := newMockLibvirtClient()
	d, _ := newTestDriver(mock)

	if err := d.Define(context.Background(), testVM("test-vm")); err != nil {
		t.Fatalf("Define failed: %v", err)
	}

	if len(mock.domainDefineXMLCalls) != 1 {
		t.Fatalf("expected 1 define call, got %d", len(mock.domainDefineXMLCalls))
	}
	if !strings.Contains(mock.domainDefineXMLCalls[0], "<name>test-vm</name>") {
		t.Errorf("defined XML missing domain name: %s", mock.domainDefineXMLCalls[0])
	}
	if len(mock.domainSetMetadataCalls) != 1 {
		t.Errorf("expected spec metadata to be stored, got %d calls", len(mock.domainSetMetadataCalls))
	}
}

func TestDefineUnsupportedArch(t *testing.T) {
	mock := newMockLibvirtClient()
	d, _ := newTestDriver(mock)

	vm := testVM("test-vm")
	vm.Spec.Arch = "sparc"

	err := d.Define(context.Background(), vm)
	if err == nil {
		t.Fatal("expected error for unsupported arch")
	}
	if len(mock.domainDefineXMLCalls) != 0 {
		t.Error("domain should not be defined when XML generation fails")
	}
}

func TestDefineLibvirtError(t *testing.T) {
	mock := newMockLibvirtClient()
	mock.domainDefineXMLFunc = func(xml string) (libvirt.Domain, error) {
		return libvirt.Domain{}, fmt.Errorf("define rejected")
	}
	d, _ := newTestDriver(mock)

	err := d.Define(context.Background(), testVM("test-vm"))
	if err == nil {
		t.Fatal("expected error from define")
	}
	if len(mock.domainSetMetadataCalls) != 0 {
		t.Error("metadata should not be stored when define fails")
	}
}

func TestStart(t *testing.T) {
	mock := newMockLibvirtClient()
	d, _ := newTestDriver(mock)

	if err := d.Start(context.Background(), "test-vm"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if len(mock.domainCreateCalls) != 1 {
		t.Errorf("expected 1 create call, got %d", len(mock.domainCreateCalls))
	}
}

func TestStartNotFound(t *testing.T) {
	mock := newMockLibvirtClient()
	mock.domainLookupByNameFunc = func(name string) (libvirt.Domain, error) {
		return libvirt.Domain{}, fmt.Errorf("domain not found: %s", name)
	}
	d, _ := newTestDriver(mock)

	if err := d.Start(context.Background(), "ghost"); err == nil {
		t.Fatal("expected error for missing VM")
	}
}

func TestStopGraceful(t *testing.T) {
	mock := newMockLibvirtClient()
	stateCalls := 0
	mock.domainGetStateFunc = func(dom libvirt.Domain, flags uint32) (int32, int32, error) {
		stateCalls++
		// Running on the initial check, shutoff once polled after shutdown.
		if stateCalls == 1 {
			return domainStateRunning, 0, nil
		}
		return domainStateShutoff, 0, nil
	}
	d, _ := newTestDriver(mock)

	if err := d.Stop(context.Background(), "test-vm", true); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if len(mock.domainShutdownCalls) != 1 {
		t.Errorf("expected 1 shutdown call, got %d", len(mock.domainShutdownCalls))
	}
	if len(mock.domainDestroyCalls) != 0 {
		t.Errorf("expected no destroy calls for graceful shutdown, got %d", len(mock.domainDestroyCalls))
	}
}

func TestStopForced(t *testing.T) {
	mock := newMockLibvirtClient()
	d, _ := newTestDriver(mock)

	if err := d.Stop(context.Background(), "test-vm", false); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if len(mock.domainShutdownCalls) != 0 {
		t.Errorf("expected no shutdown calls for forced stop, got %d", len(mock.domainShutdownCalls))
	}
	if len(mock.domainDestroyCalls) != 1 {
		t.Errorf("expected 1 destroy call, got %d", len(mock.domainDestroyCalls))
	}
}

func TestStopNotRunning(t *testing.T) {
	mock := newMockLibvirtClient()
	mock.domainGetStateFunc = func(dom libvirt.Domain, flags uint32) (int32, int32, error) {
		return domainStateShutoff, 0, nil
	}
	d, _ := newTestDriver(mock)

	if err := d.Stop(context.Background(), "test-vm", true); err == nil {
		t.Fatal("expected error for stopping a shutoff VM")
	}
}

func TestDestroyRunning(t *testing.T) {
	mock := newMockLibvirtClient()
	mock.domainGetXMLDescFunc = func(dom libvirt.Domain, flags libvirt.DomainXMLFlags) (string, error) {
		return `<domain type="kvm"><name>test-vm</name><devices>
			<disk type="file" device="disk"><source file="/var/lib/anvil/test-vm.qcow2"/><target dev="vda"/></disk>
			<disk type="file" device="cdrom"><source file="/var/lib/anvil/test-vm-cloudinit.iso"/><target dev="sda"/></disk>
		</devices></domain>`, nil
	}
	d, removed := newTestDriver(mock)

	if err := d.Destroy(context.Background(), "test-vm"); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}

	if len(mock.domainDestroyCalls) != 1 {
		t.Errorf("expected running VM to be force-stopped, got %d destroy calls", len(mock.domainDestroyCalls))
	}
	if len(mock.domainUndefineFlagsCalls) != 1 {
		t.Errorf("expected 1 undefine call, got %d", len(mock.domainUndefineFlagsCalls))
	}
	if len(mock.domainSetMetadataCalls) != 1 {
		t.Errorf("expected spec metadata to be cleared, got %d calls", len(mock.domainSetMetadataCalls))
	}
	if len(*removed) != 2 {
		t.Fatalf("expected 2 files removed, got %d: %v", len(*removed), *removed)
	}
	if (*removed)[0] != "/var/lib/anvil/test-vm.qcow2" || (*removed)[1] != "/var/lib/anvil/test-vm-cloudinit.iso" {
		t.Errorf("unexpected removed files: %v", *removed)
	}
}

func TestDestroyShutoff(t *testing.T) {
	mock := newMockLibvirtClient()
	mock.domainGetStateFunc = func(dom libvirt.Domain, flags uint32) (int32, int32, error) {
		return domainStateShutoff, 0, nil
	}
	d, _ := newTestDriver(mock)

	if err := d.Destroy(context.Background(), "test-vm"); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if len(mock.domainDestroyCalls) != 0 {
		t.Errorf("shutoff VM should not be force-stopped, got %d destroy calls", len(mock.domainDestroyCalls))
	}
	if len(mock.domainUndefineFlagsCalls) != 1 {
		t.Errorf("expected 1 undefine call, got %d", len(mock.domainUndefineFlagsCalls))
	}
}

func TestDestroyNotFound(t *testing.T) {
	mock := newMockLibvirtClient()
	mock.domainLookupByNameFunc = func(name string) (libvirt.Domain, error) {
		return libvirt.Domain{}, fmt.Errorf("domain not found: %s", name)
	}
	d, _ := newTestDriver(mock)

	if err := d.Destroy(context.Background(), "ghost"); err == nil {
		t.Fatal("expected error for missing VM")
	}
}

func TestDeclaredVM(t *testing.T) {
	mock := newMockLibvirtClient()
	var stored string
	mock.domainSetMetadataFunc = func(dom libvirt.Domain, typ int32, metadata libvirt.OptString, key libvirt.OptString, uri libvirt.OptString, flags libvirt.DomainModificationImpact) error {
		stored = metadata[0]
		return nil
	}
	d, _ := newTestDriver(mock)

	// Round-trip: Define persists the spec, DeclaredVM recovers it.
	if err := d.Define(context.Background(), testVM("test-vm")); err != nil {
		t.Fatalf("Define failed: %v", err)
	}
	mock.domainGetMetadataFunc = func(dom libvirt.Domain, typ int32, uri libvirt.OptString, flags libvirt.DomainModificationImpact) (string, error) {
		return stored, nil
	}

	declared, err := d.DeclaredVM(context.Background(), "test-vm")
	if err != nil {
		t.Fatalf("DeclaredVM failed: %v", err)
	}
	if declared == nil {
		t.Fatal("expected declared spec, got nil")
	}
	if declared.Name != "test-vm" {
		t.Errorf("unexpected name: %s", declared.Name)
	}
	if declared.Spec.State != v1alpha1.StateStarted {
		t.Errorf("unexpected declared state: %s", declared.Spec.State)
	}
}

func TestDeclaredVMNoMetadata(t *testing.T) {
	// Domains defined outside this tool carry no spec metadata; that is not
	// an error.
	mock := newMockLibvirtClient()
	d, _ := newTestDriver(mock)

	declared, err := d.DeclaredVM(context.Background(), "imported-vm")
	if err != nil {
		t.Fatalf("DeclaredVM failed: %v", err)
	}
	if declared != nil {
		t.Errorf("expected nil for a domain without metadata, got %+v", declared)
	}
}

func TestList(t *testing.T) {
	mock := newMockLibvirtClient()
	mock.connectListAllDomainsFunc = func(needResults int32, flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error) {
		return []libvirt.Domain{{Name: "vm-a"}, {Name: "vm-b"}}, 2, nil
	}
	d, _ := newTestDriver(mock)

	summaries, err := d.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	if summaries[0].Name != "vm-a" || summaries[0].State != "running" {
		t.Errorf("unexpected summary: %+v", summaries[0])
	}
	if summaries[0].MemoryMB != 2048 {
		t.Errorf("expected 2048 MiB (from 2097152 KiB), got %d", summaries[0].MemoryMB)
	}
}

func TestListEmpty(t *testing.T) {
	mock := newMockLibvirtClient()
	d, _ := newTestDriver(mock)

	summaries, err := d.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(summaries) != 0 {
		t.Errorf("expected empty list, got %d", len(summaries))
	}
}

func TestStateToString(t *testing.T) {
	tests := []struct {
		state int32
		want  string
	}{
		{1, "running"},
		{5, "shutoff"},
		{3, "paused"},
		{42, "unknown(42)"},
	}
	for _, tt := range tests {
		if got := StateToString(tt.state); got != tt.want {
			t.Errorf("StateToString(%d) = %q, want %q", tt.state, got, tt.want)
		}
	}
}
