package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// requireLocalFilesystem fails when the nearest existing ancestor of path
// lives on a network filesystem. Platforms without detection pass.
func requireLocalFilesystem(path string, detect func(string) (string, error)) error {
	probe, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve database path %q: %w", path, err)
	}

	fsType, err := detect(probe)
	if errors.Is(err, errNoDetection) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", probe, err)
	}
	if isNetworkFilesystem(fsType) {
		return fmt.Errorf("database path %q is on network filesystem %q; session snapshots need a local disk for SQLite locking, set state.path to a local file", path, fsType)
	}
	return nil
}

var errNoDetection = errors.New("filesystem detection unsupported")

func nearestExistingPath(path string) (string, error) {
	candidate, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", path)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	_, found := networkFilesystems[strings.TrimSpace(strings.ToLower(fsType))]
	return found
}
