//go:build linux

package storage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const cephSuperMagic = 0x00c36400

// linuxFilesystems names the statfs magic numbers of network mounts.
var linuxFilesystems = map[int64]string{
	unix.NFS_SUPER_MAGIC:  "nfs",
	unix.SMB_SUPER_MAGIC:  "smbfs",
	unix.CIFS_SUPER_MAGIC: "cifs",
	unix.SMB2_SUPER_MAGIC: "smb2",
	unix.AFS_SUPER_MAGIC:  "afs",
	unix.V9FS_MAGIC:       "9p",
	cephSuperMagic:        "ceph",
}

func detectFilesystemType(path string) (string, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}
	return linuxFilesystemName(int64(st.Type)), nil
}

func linuxFilesystemName(magic int64) string {
	if name, ok := linuxFilesystems[magic]; ok {
		return name
	}
	return fmt.Sprintf("0x%x", magic)
}
