package reconcile

import (
	"errors"
	"fmt"
)

// Code classifies a reconciliation failure by the stage that produced it.
type Code string

const (
	// CodeInvalidSpec means the VM spec failed validation.
	CodeInvalidSpec Code = "InvalidSpec"

	// CodeUnsupportedArchitecture means the spec requests a guest
	// architecture this host cannot run.
	CodeUnsupportedArchitecture Code = "UnsupportedArchitecture"

	// CodeImageError means disk image or seed ISO provisioning failed.
	CodeImageError Code = "ImageError"

	// CodeProcessError means a lifecycle action against the hypervisor failed.
	CodeProcessError Code = "ProcessError"

	// CodeProbeError means observing the VM's runtime state failed.
	CodeProbeError Code = "ProbeError"
)

// Failure is a classified reconciliation error. It wraps the underlying
// error so callers can both switch on the Code and inspect the cause.
type Failure struct {
	Code Code
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Code, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// NewFailure wraps err with the given code.
func NewFailure(code Code, err error) *Failure {
	return &Failure{Code: code, Err: err}
}

// CodeOf extracts the failure code from err, or empty when err carries none.
func CodeOf(err error) Code {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure.Code
	}
	return ""
}
