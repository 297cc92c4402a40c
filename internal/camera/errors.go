package camera

import "errors"

// Sentinel errors for the acquisition failure classes. Callers decide
// retry policy from these: a timeout on an established stream is
// retryable, a fatal error means the device is gone and the source
// must be restarted (or failed over).
var (
	// ErrAcquisitionTimeout reports that no new frame arrived within the
	// configured frame timeout. The stream may still recover.
	ErrAcquisitionTimeout = errors.New("camera: acquisition timeout")

	// ErrAcquisitionFatal reports an unrecoverable device failure after
	// the stream was established (read error mid-session, device
	// disconnect). The Source stops delivering frames after this.
	ErrAcquisitionFatal = errors.New("camera: acquisition failed")

	// ErrNoBackend reports that no configured backend produced a frame
	// during startup probing.
	ErrNoBackend = errors.New("camera: no usable capture backend")

	// ErrStopped reports a read against a source that has been stopped.
	ErrStopped = errors.New("camera: source stopped")
)
