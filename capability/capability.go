package capability

import "runtime"

// Capabilities is an immutable snapshot of the runtime environment, computed
// once per session.
type Capabilities struct {
	// ConstrainedDevice marks a device class with a fixed, non-selectable
	// processing path. Constrained devices are pinned to the lite model.
	ConstrainedDevice bool

	// AcceleratedBackend reports whether GPU-backed inference is available.
	// It is unknown at detection time; the model manager fills it in at first
	// initialization, when acquiring the backend is the only reliable probe.
	AcceleratedBackend bool
}

// Detect inspects the runtime environment. It never fails: every uncertain
// query degrades to a conservative "unsupported" answer.
func Detect(constrainedOverride bool) Capabilities {
	return Capabilities{
		ConstrainedDevice: constrainedOverride || constrainedOS(runtime.GOOS),
	}
}

func constrainedOS(goos string) bool {
	return goos == "ios" || goos == "android"
}
