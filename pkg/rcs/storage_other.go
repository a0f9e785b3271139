//go:build !linux && !darwin

package rcs

// freeSpace is unknown on this platform.
func freeSpace(string) int64 {
	return 0
}
