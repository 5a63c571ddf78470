package history

import "golang.org/x/sys/unix"

// Filesystem magic numbers from statfs(2) for network filesystems.
const (
	nfsSuperMagic  uint32 = 0x6969
	smbSuperMagic  uint32 = 0x517B
	smb2MagicNum   uint32 = 0xFE534D42
	cifsMagicNum   uint32 = 0xFF534D42
	codaSuperMagic uint32 = 0x73757245
	afsSuperMagic  uint32 = 0x5346414F
)

// isRemote reports whether dir is on a network filesystem, where flock and mmap are
// unreliable.
func isRemote(dir string) bool {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return false
	}
	switch uint32(st.Type) {
	case nfsSuperMagic, smbSuperMagic, smb2MagicNum, cifsMagicNum, codaSuperMagic, afsSuperMagic:
		return true
	}
	return false
}
