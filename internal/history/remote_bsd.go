//go:build darwin || freebsd

package history

import "golang.org/x/sys/unix"

// isRemote reports whether dir is on a filesystem that is not marked local.
func isRemote(dir string) bool {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return false
	}
	return uint64(st.Flags)&unix.MNT_LOCAL == 0
}
