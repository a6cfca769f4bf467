package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeBlake3HashStable(t *testing.T) {
	p := filepath.Join(t.TempDir(), "a.yaml")
	require.NoError(t, os.WriteFile(p, []byte("service:\n  name: x\n"), 0o644))

	h1, err := ComputeBlake3Hash(p)
	require.NoError(t, err)
	h2, err := ComputeBlake3Hash(p)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestLockAndVerify(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	persona := filepath.Join(dir, "persona.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("service:\n  name: x\n"), 0o644))
	require.NoError(t, os.WriteFile(persona, []byte("name: Vera\n"), 0o644))

	m, err := Lock(cfgPath, persona)
	require.NoError(t, err)
	assert.Len(t, m.Hashes, 2)
	require.NoError(t, VerifyLock(cfgPath))

	require.NoError(t, os.WriteFile(persona, []byte("name: Mallory\n"), 0o644))
	err = VerifyLock(cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash mismatch for persona.yaml")
}

func TestVerifyLockWithoutManifest(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("{}\n"), 0o644))

	err := VerifyLock(cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config lock")
}
