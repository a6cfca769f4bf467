package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckLocalFilesystemRejectsNetwork(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "db.sqlite")
	err := checkLocalFilesystem(path, func(string) (string, error) { return "NFS", nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network filesystem")
}

func TestCheckLocalFilesystemAcceptsLocal(t *testing.T) {
	var inspected string
	err := checkLocalFilesystem(filepath.Join(t.TempDir(), "a", "b"), func(p string) (string, error) {
		inspected = p
		return "0xef53", nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, inspected)
}

func TestCheckLocalFilesystemIgnoresDetectorFailure(t *testing.T) {
	err := checkLocalFilesystem(t.TempDir(), func(string) (string, error) {
		return "", errors.New("unsupported")
	})
	assert.NoError(t, err)
}

func TestIsNetworkFilesystem(t *testing.T) {
	assert.True(t, isNetworkFilesystem(" smb2 "))
	assert.False(t, isNetworkFilesystem("apfs"))
}
