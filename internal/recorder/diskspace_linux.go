//go:build linux

package recorder

import "golang.org/x/sys/unix"

// freeDiskBytes returns the bytes available to an unprivileged writer on
// the filesystem containing dir.
func freeDiskBytes(dir string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}
