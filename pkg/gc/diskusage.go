//go:build linux

package gc

import "syscall"

// StatfsUsage implements DiskUsage via the Linux statfs(2) syscall,
// the same low-level primitive the reaper package already reaches for
// (syscall.Wait4) rather than pulling in a filesystem-metrics library
// for a single-field read.
func StatfsUsage(path string) (float64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	if total == 0 {
		return 0, nil
	}
	free := stat.Bavail * uint64(stat.Bsize)
	used := total - free
	return float64(used) / float64(total), nil
}
