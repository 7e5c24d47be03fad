//go:build !linux && !darwin

package cfg

import "errors"

func totalMemory() (uint64, error) {
	return 0, errors.New("percentage memory limits are not supported on this platform, use a size")
}
