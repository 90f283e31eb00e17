package tail

import (
	"os"
	"syscall"
)

// inodeOf extracts the inode number from file info obtained via os.Stat or
// os.File.Stat, grounded on the same syscall.Stat_t cast the rest of the
// ingestion pipeline in this codebase's ancestry uses on Linux.
func inodeOf(info os.FileInfo) (uint64, bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return stat.Ino, true
}

// CurrentInode re-stats path and returns its current inode, for use as the
// currentInode callback NewFollower needs for its rotated-idle check.
func CurrentInode(path string) (uint64, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return inodeOf(info)
}
