package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

const checksumFilename = ".checksums"

// ChecksumManifest is the on-disk .checksums file written by `config lock`.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// ChecksumPath returns the manifest location for a config file.
func ChecksumPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), checksumFilename)
}

// Lock hashes the config file (and any extra files, such as persona
// manifests) and writes the manifest next to the config.
func Lock(configPath string, extra ...string) (*ChecksumManifest, error) {
	manifest := &ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      make(map[string]string),
	}
	for _, p := range append([]string{configPath}, extra...) {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", p, err)
		}
		h, err := ComputeBlake3Hash(abs)
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", abs, err)
		}
		manifest.Hashes[abs] = h
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checksums: %w", err)
	}
	if err := os.WriteFile(ChecksumPath(configPath), data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write checksums: %w", err)
	}
	return manifest, nil
}

// LoadChecksums reads the manifest next to configPath.
func LoadChecksums(configPath string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(ChecksumPath(configPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("checksums file not found (run 'switchyard config lock')")
		}
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}
	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}
	return &manifest, nil
}

// VerifyLock checks every file in the manifest. The config file itself must
// be listed.
func VerifyLock(configPath string) error {
	manifest, err := LoadChecksums(configPath)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", configPath, err)
	}
	if _, ok := manifest.Hashes[abs]; !ok {
		return fmt.Errorf("%s has no hash in checksums (run 'switchyard config lock')", abs)
	}

	for path, expected := range manifest.Hashes {
		actual, err := ComputeBlake3Hash(path)
		if err != nil {
			return fmt.Errorf("verify %s: %w", path, err)
		}
		if actual != expected {
			return fmt.Errorf("hash mismatch for %s: expected %s, got %s\n"+
				"If you edited this file intentionally, run: switchyard config lock", filepath.Base(path), expected, actual)
		}
	}
	return nil
}
