package fanotify_watcher

import (
	"log/slog"
	"runtime"

	"github.com/moby/sys/capability"
	"golang.org/x/sys/unix"
)

// HasCapability reports whether c is in the effective set of this process.
func HasCapability(c capability.Cap) bool {
	caps, err := capability.NewPid2(0)
	if err != nil {
		slog.Warn("Unable to inspect capabilities", "err", err)
		return false
	}
	if err := caps.Load(); err != nil {
		slog.Warn("Unable to load capabilities", "err", err)
		return false
	}
	return caps.Get(capability.EFFECTIVE, c)
}

// CapabilitySysAdmin is needed for mount and filesystem marks.
func CapabilitySysAdmin() bool {
	return HasCapability(capability.CAP_SYS_ADMIN)
}

// CapabilityDacReadSearch is needed to open file handles.
func CapabilityDacReadSearch() bool {
	return HasCapability(capability.CAP_DAC_READ_SEARCH)
}

func FanotifyVersion() int {
	return unix.FANOTIFY_METADATA_VERSION
}

func IsSupported() bool {
	return runtime.GOOS == "linux" && unix.FANOTIFY_METADATA_VERSION == 3
}
