package trx

import (
	"errors"
	"fmt"
)

var (
	// ErrAbiMismatch means host and driver disagree on the interface version.
	ErrAbiMismatch = errors.New("trx: ABI version mismatch")
	// ErrDeviceNotFound means no board exists at the requested index or it
	// could not be opened.
	ErrDeviceNotFound = errors.New("trx: device not found")
	// ErrDeviceBusy means the device is already owned by another driver.
	ErrDeviceBusy = errors.New("trx: device already open")
	// ErrConfigLoadFailed means the register image could not be loaded.
	ErrConfigLoadFailed = errors.New("trx: config load failed")
	// ErrInvalidParam means a host parameter is outside its allowed range.
	ErrInvalidParam = errors.New("trx: invalid parameter")
	// ErrRateUnachievable means no table rate satisfies the minimum.
	ErrRateUnachievable = errors.New("trx: no achievable sample rate")
	// ErrUnsupportedPortCount means more than one RF port was requested.
	ErrUnsupportedPortCount = errors.New("trx: only one RF port supported")
	// ErrChannelCount means a channel count is outside 0..sdr.MaxChannels.
	ErrChannelCount = errors.New("trx: unsupported channel count")
	// ErrAlreadyConfigured means Start ran before on this driver.
	ErrAlreadyConfigured = errors.New("trx: streams already configured")
	// ErrNotConfigured means an I/O call arrived before a successful Start.
	ErrNotConfigured = errors.New("trx: streams not configured")
	// ErrHardwareCall is the umbrella for failed device calls.
	ErrHardwareCall = errors.New("trx: hardware call failed")
	// ErrCalibrationDegraded marks a calibration or filter step that failed;
	// streaming continues uncalibrated.
	ErrCalibrationDegraded = errors.New("trx: calibration degraded")
	// ErrShortWrite means the device accepted fewer samples than submitted
	// before the bounded wait elapsed.
	ErrShortWrite = errors.New("trx: short write")
	// ErrClosed means End already released the device.
	ErrClosed = errors.New("trx: driver closed")
	// ErrInvalidTransition means a stream endpoint was driven out of order.
	ErrInvalidTransition = errors.New("trx: invalid stream state transition")
)

// HardwareError carries the failing operation and the device's last error text.
type HardwareError struct {
	Op     string
	Detail string
	Err    error
}

func (e *HardwareError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s failed", e.Op)
	}
	return fmt.Sprintf("%s failed: %s", e.Op, e.Detail)
}

// Unwrap exposes both ErrHardwareCall and the device error to errors.Is.
func (e *HardwareError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrHardwareCall}
	}
	return []error{ErrHardwareCall, e.Err}
}
