package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem means the database would live on a network mount.
var ErrNetworkFilesystem = errors.New("sqlite database on network filesystem")

var errDetectUnsupported = errors.New("filesystem detection unsupported")

var remoteFilesystems = map[string]struct{}{
	"9p":     {},
	"afpfs":  {},
	"afs":    {},
	"ceph":   {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// CheckLocalFilesystem rejects database paths on network mounts, where SQLite
// locking is unreliable. Platforms without detection pass.
func CheckLocalFilesystem(path string) error {
	return checkLocalFilesystem(path, detectFilesystemType)
}

func checkLocalFilesystem(path string, detect func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("sqlite path is empty")
	}
	existing, err := closestExisting(path)
	if err != nil {
		return fmt.Errorf("resolve database path %q: %w", path, err)
	}
	fsType, err := detect(existing)
	if err != nil {
		if errors.Is(err, errDetectUnsupported) {
			return nil
		}
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	if isRemote(fsType) {
		return fmt.Errorf("%w: %q is on %q; set state.path to a local disk", ErrNetworkFilesystem, path, fsType)
	}
	return nil
}

// closestExisting walks up from path to the first component that exists.
func closestExisting(path string) (string, error) {
	p, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("no existing parent for %q", path)
		}
		p = parent
	}
}

func isRemote(fsType string) bool {
	_, ok := remoteFilesystems[strings.ToLower(strings.TrimSpace(fsType))]
	return ok
}
