//go:build linux

package orchestrator

import "syscall"

// statfsFree returns free bytes on the filesystem containing path. No
// third-party library in the corpus wraps statfs, so this is a thin
// direct syscall.
func statfsFree(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
