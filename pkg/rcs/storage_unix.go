//go:build linux || darwin

package rcs

import "golang.org/x/sys/unix"

// freeSpace returns the bytes available to an unprivileged user on the
// filesystem holding dir, or 0 when unknown.
func freeSpace(dir string) int64 {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0
	}
	return int64(st.Bavail) * int64(st.Bsize)
}
