package train

import "fmt"

// InputError reports an empty or malformed point cloud or camera set.
// It is fatal and raised before any rendering work starts.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string {
	return "invalid training input: " + e.Reason
}

// DeviceError reports a failure of the rasterization backend, such as
// exhausted device memory or an unavailable device.
type DeviceError struct {
	Err error
}

func (e *DeviceError) Error() string {
	return "rasterization device: " + e.Err.Error()
}

func (e *DeviceError) Unwrap() error { return e.Err }

// NumericError reports a non-finite loss or parameter value. Training
// aborts rather than risking a corrupt export.
type NumericError struct {
	Step      int
	Loss      float64
	Gaussians int
}

func (e *NumericError) Error() string {
	return fmt.Sprintf("non-finite loss %v at step %d (%d gaussians)", e.Loss, e.Step, e.Gaussians)
}
