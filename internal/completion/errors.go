package completion

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy indicates a start while another generation is in flight.
	ErrBusy = errors.New("a generation is already in progress")
	// ErrNotContinuable indicates a continue for a turn that did not stop at the length limit.
	ErrNotContinuable = errors.New("turn cannot be continued")
	// ErrProviderRequired indicates a session configured without a provider factory.
	ErrProviderRequired = errors.New("provider factory is required")
	// ErrSenderRequired indicates a session configured without a message sender.
	ErrSenderRequired = errors.New("message sender is required")
)

// Reason classifies why a generation did not complete.
type Reason string

const (
	ReasonMissingCredential Reason = "missing_credential"
	ReasonNoReceiver        Reason = "no_receiver"
	ReasonTransportError    Reason = "transport_error"
	ReasonCancelled         Reason = "cancelled"
)

// Failure is the terminal error of a generation.
type Failure struct {
	Reason Reason
	Err    error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("generation failed: %s", f.Reason)
	}
	return fmt.Sprintf("generation failed: %s: %v", f.Reason, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// ReasonOf extracts the failure reason from err, or "" when err is not a *Failure.
func ReasonOf(err error) Reason {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure.Reason
	}
	return ""
}
