//go:build !linux

package recorder

import "errors"

var errDiskSpaceUnsupported = errors.New("free disk space query not supported on this platform")

func freeDiskBytes(dir string) (uint64, error) {
	return 0, errDiskSpaceUnsupported
}
