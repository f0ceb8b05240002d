package device

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// freeBytes returns the space available to unprivileged users under dir.
func freeBytes(dir string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", dir, err)
	}
	return uint64(stat.Bavail) * uint64(stat.Bsize), nil
}

// checkDiskSpace fails when dir has less than minFree bytes available.
// Zero minFree disables the check.
func checkDiskSpace(dir string, minFree uint64) error {
	if minFree == 0 {
		return nil
	}
	free, err := freeBytes(dir)
	if err != nil {
		return err
	}
	if free < minFree {
		return fmt.Errorf("%w: %d MB available, %d MB required",
			ErrInsufficientSpace, free/(1<<20), minFree/(1<<20))
	}
	return nil
}
