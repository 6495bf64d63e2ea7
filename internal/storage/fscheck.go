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

// ValidateLocalPath ensures path (or its nearest existing parent) is on a local
// filesystem. Both the journal's locking and the pool's unix socket need one.
func ValidateLocalPath(path string) error {
	return validateLocalPathWithDetector(path, detectFilesystemType)
}

func validateLocalPathWithDetector(path string, detector func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("path is empty")
	}

	inspectPath, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve path %q: %w", path, err)
	}

	fsType, err := detector(inspectPath)
	if err != nil {
		// Undetectable filesystems are allowed.
		return nil
	}

	if isNetworkFilesystem(fsType) {
		return fmt.Errorf(
			"path %q is on network filesystem %q; forkpool needs a local filesystem for the journal and the worker socket. Set journal.path and parallel.socket_dir to local directories",
			path,
			fsType,
		)
	}
	return nil
}

func nearestExistingPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	for candidate := absPath; ; {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", absPath)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	_, found := networkFilesystems[strings.TrimSpace(strings.ToLower(fsType))]
	return found
}
