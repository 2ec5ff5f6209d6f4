//go:build !linux && !darwin && !windows

package socket

// applyPlatformOptions is a no-op on platforms without the options
// tuning_linux.go/tuning_darwin.go set.
func applyPlatformOptions(fd int, cfg *Config) {}
