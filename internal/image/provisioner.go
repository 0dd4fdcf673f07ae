// Package image provisions file-backed qcow2 disk images for VMs.
//
// Provisioning is idempotent: an image that already exists on disk is left
// untouched, whatever its size. Growing or shrinking an existing image is
// never done implicitly, because a silent resize can corrupt a guest
// filesystem. Images are created with qemu-img and owned by the qemu user
// so the hypervisor can open them.
package image

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"

	"github.com/jbweber/anvil/api/v1alpha1"
)

const (
	// QemuUser is the user that owns VM disk files
	QemuUser = "qemu"

	// DirPermissions are the permissions for image directories
	DirPermissions = 0755

	// FilePermissions are the permissions for image files
	FilePermissions = 0644
)

// Provisioner creates VM disk images and their cloud-init seed ISOs.
type Provisioner struct {
	qemuUID int
	qemuGID int

	// runQemuImg executes qemu-img with the given arguments. Overridable
	// in tests.
	runQemuImg func(ctx context.Context, args ...string) ([]byte, error)
}

// NewProvisioner creates a Provisioner owned by the system qemu user.
func NewProvisioner() (*Provisioner, error) {
	qemuUser, err := user.Lookup(QemuUser)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup %s user: %w", QemuUser, err)
	}

	uid, err := strconv.Atoi(qemuUser.Uid)
	if err != nil {
		return nil, fmt.Errorf("invalid UID for %s user: %w", QemuUser, err)
	}
	gid, err := strconv.Atoi(qemuUser.Gid)
	if err != nil {
		return nil, fmt.Errorf("invalid GID for %s user: %w", QemuUser, err)
	}

	return NewProvisionerWithOwner(uid, gid), nil
}

// NewProvisionerWithOwner creates a Provisioner that chowns created files
// to the given uid/gid. Pass -1 for either to leave ownership unchanged.
func NewProvisionerWithOwner(uid, gid int) *Provisioner {
	return &Provisioner{
		qemuUID: uid,
		qemuGID: gid,
		runQemuImg: func(ctx context.Context, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, "qemu-img", args...).CombinedOutput()
		},
	}
}

// Ensure makes sure the disk image described by spec exists.
//
// Returns created=true when a new image was written. An image already
// present on disk is never modified: Ensure returns created=false without
// checking or changing its size.
func (p *Provisioner) Ensure(ctx context.Context, spec v1alpha1.DiskSpec) (created bool, err error) {
	if spec.Path == "" {
		return false, fmt.Errorf("disk path cannot be empty")
	}
	if spec.SizeGB <= 0 {
		return false, fmt.Errorf("disk size must be positive, got %dGB", spec.SizeGB)
	}

	if _, err := os.Stat(spec.Path); err == nil {
		log.Printf("Disk image %s already exists, leaving untouched", spec.Path)
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to stat disk image %s: %w", spec.Path, err)
	}

	if spec.BaseImage != "" {
		if _, err := os.Stat(spec.BaseImage); err != nil {
			return false, fmt.Errorf("base image %s not accessible: %w", spec.BaseImage, err)
		}
	}

	dir := filepath.Dir(spec.Path)
	if err := os.MkdirAll(dir, DirPermissions); err != nil {
		return false, fmt.Errorf("failed to create image directory %s: %w", dir, err)
	}

	args := []string{"create", "-f", "qcow2"}
	if spec.BaseImage != "" {
		// Overlay on the base image so the base is never modified.
		args = append(args, "-b", spec.BaseImage, "-F", "qcow2")
	}
	args = append(args, spec.Path, fmt.Sprintf("%dG", spec.SizeGB))

	log.Printf("Creating disk image %s (%dGB)...", spec.Path, spec.SizeGB)
	if output, err := p.runQemuImg(ctx, args...); err != nil {
		return false, fmt.Errorf("failed to create disk image %s: %w\nOutput: %s", spec.Path, err, string(output))
	}

	if err := p.setFileOwnership(spec.Path); err != nil {
		return true, err
	}

	return true, nil
}

// WriteSeedISO writes cloud-init seed ISO data next to the VM's disk image.
func (p *Provisioner) WriteSeedISO(path string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("ISO data cannot be empty")
	}

	if err := os.WriteFile(path, data, FilePermissions); err != nil {
		return fmt.Errorf("failed to write cloud-init ISO %s: %w", path, err)
	}

	return p.setFileOwnership(path)
}

// setFileOwnership sets qemu ownership and permissions on a file.
func (p *Provisioner) setFileOwnership(path string) error {
	if err := os.Chown(path, p.qemuUID, p.qemuGID); err != nil {
		return fmt.Errorf("failed to set ownership on %s: %w", path, err)
	}

	if err := os.Chmod(path, FilePermissions); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}

	return nil
}
