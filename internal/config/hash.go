package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// EnvConfigHash carries the parent's config fingerprint to re-executed workers.
const EnvConfigHash = "FORKPOOL_CONFIG_HASH"

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	if actualHash != expectedHash {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s",
			filepath.Base(filePath), expectedHash, actualHash)
	}
	return nil
}

// WorkerEnv is the environment a worker needs to load the same config as the parent.
func (c *Config) WorkerEnv() []string {
	if c.Path == "" {
		return nil
	}
	return []string{EnvConfigPath + "=" + c.Path, EnvConfigHash + "=" + c.Hash}
}

// LoadForWorker loads the config the parent handed over through WorkerEnv and
// fails if the file changed since the parent read it.
func LoadForWorker() (*Config, error) {
	path := os.Getenv(EnvConfigPath)
	want := os.Getenv(EnvConfigHash)
	if path == "" {
		return finish(Defaults())
	}
	if want != "" {
		if err := VerifyFileHash(path, want); err != nil {
			return nil, fmt.Errorf("config changed since the pool started: %w", err)
		}
	}
	return Load(path)
}
