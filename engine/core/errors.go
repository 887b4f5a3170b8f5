package core

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// Surface is zero-sized (minimized) or a recreation just happened; the frame is skipped.
	ErrSwapchainBooting = errors.New("swapchain resized or recreated, booting")
	ErrUnknown          = errors.New("unknown")

	ErrOutOfDeviceMemory = errors.New("out of device memory")
	ErrTransferFailed    = errors.New("transfer submission failed")
	ErrPoolExhausted     = errors.New("descriptor pool exhausted")
	ErrNotReserved       = errors.New("descriptor pool has not been reserved")
	ErrAlreadyReserved   = errors.New("descriptor pool already reserved")
	ErrSwapchainBusy     = errors.New("swapchain is being recreated")
	ErrPresentFailed     = errors.New("present failed")
	ErrDeviceLost        = errors.New("device lost")

	// Signals from the presentation engine. Neither is fatal.
	ErrOutOfDate  = errors.New("swapchain out of date")
	ErrSuboptimal = errors.New("swapchain suboptimal")
)

// AssetLoadError reports the node and/or mesh that caused a scene load to be rolled back.
// Index fields are -1 when not applicable.
type AssetLoadError struct {
	NodeIndex int
	MeshIndex int
	Err       error
}

func NewAssetLoadError(node, mesh int, err error) *AssetLoadError {
	return &AssetLoadError{NodeIndex: node, MeshIndex: mesh, Err: err}
}

func (e *AssetLoadError) Error() string {
	return fmt.Sprintf("asset load failed (node=%d mesh=%d): %v", e.NodeIndex, e.MeshIndex, e.Err)
}

func (e *AssetLoadError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err terminates the current load or frame and must be
// surfaced to the application instead of being recovered locally.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var ale *AssetLoadError
	return errors.Is(err, ErrOutOfDeviceMemory) ||
		errors.Is(err, ErrDeviceLost) ||
		errors.As(err, &ale)
}

// IsSwapchainSignal reports whether err is an out-of-date or suboptimal presentation signal.
func IsSwapchainSignal(err error) bool {
	return errors.Is(err, ErrOutOfDate) || errors.Is(err, ErrSuboptimal)
}
